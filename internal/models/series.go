// Package models defines data structures for stockcache
package models

import (
	"fmt"
	"strings"
	"time"
)

// Standard OHLCV column names. Lookups are case-insensitive.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// OHLCVColumns is the default column layout for new series.
var OHLCVColumns = []string{ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}

// Series is the ordered bar history of one symbol.
// Index is strictly increasing and Rows[i] holds the values of Columns at Index[i].
type Series struct {
	Symbol  string      `json:"symbol,omitempty"`
	Columns []string    `json:"columns"`
	Index   []time.Time `json:"index"`
	Rows    [][]float64 `json:"rows"`
}

// NewSeries creates an empty series with the given columns (OHLCV when none are given).
func NewSeries(symbol string, columns ...string) *Series {
	if len(columns) == 0 {
		columns = OHLCVColumns
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Series{Symbol: symbol, Columns: cols}
}

// Len returns the number of bars. Safe on a nil series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Index)
}

// Empty reports whether the series is nil or has no bars.
func (s *Series) Empty() bool {
	return s.Len() == 0
}

// LastTimestamp returns the timestamp of the most recent bar.
func (s *Series) LastTimestamp() (time.Time, bool) {
	if s.Empty() {
		return time.Time{}, false
	}
	return s.Index[len(s.Index)-1], true
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Series) ColumnIndex(name string) int {
	if s == nil {
		return -1
	}
	for i, c := range s.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Value returns the value of column col for bar i.
func (s *Series) Value(i int, col string) (float64, bool) {
	c := s.ColumnIndex(col)
	if c < 0 || i < 0 || i >= s.Len() || c >= len(s.Rows[i]) {
		return 0, false
	}
	return s.Rows[i][c], true
}

// Validate checks the structural invariants of the series.
func (s *Series) Validate() error {
	if s == nil {
		return fmt.Errorf("series is nil")
	}
	if len(s.Rows) != len(s.Index) {
		return fmt.Errorf("series %s: %d rows for %d index entries", s.Symbol, len(s.Rows), len(s.Index))
	}
	for i, row := range s.Rows {
		if len(row) != len(s.Columns) {
			return fmt.Errorf("series %s: row %d has %d values for %d columns", s.Symbol, i, len(row), len(s.Columns))
		}
		if i > 0 && !s.Index[i].After(s.Index[i-1]) {
			return fmt.Errorf("series %s: index not strictly increasing at %d (%s after %s)",
				s.Symbol, i, s.Index[i].Format(time.RFC3339), s.Index[i-1].Format(time.RFC3339))
		}
	}
	return nil
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := &Series{
		Symbol:  s.Symbol,
		Columns: append([]string(nil), s.Columns...),
		Index:   append([]time.Time(nil), s.Index...),
		Rows:    make([][]float64, len(s.Rows)),
	}
	for i, row := range s.Rows {
		out.Rows[i] = append([]float64(nil), row...)
	}
	return out
}

// Append adds a bar after the current last bar.
func (s *Series) Append(ts time.Time, row []float64) error {
	if len(row) != len(s.Columns) {
		return fmt.Errorf("series %s: append %d values for %d columns", s.Symbol, len(row), len(s.Columns))
	}
	if last, ok := s.LastTimestamp(); ok && !ts.After(last) {
		return fmt.Errorf("series %s: append at %s not after last bar %s", s.Symbol, ts.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	s.Index = append(s.Index, ts)
	s.Rows = append(s.Rows, append([]float64(nil), row...))
	return nil
}
