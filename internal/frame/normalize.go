// Package frame converts the series shapes accepted at the module boundary into
// canonical models.Series and encodes snapshots for storage.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/bobmcallan/stockcache/internal/models"
)

// ErrMalformed marks input that cannot be turned into a valid series or snapshot.
var ErrMalformed = errors.New("malformed series data")

// timeColumns are the accepted names of the timestamp column in a labeled table.
var timeColumns = []string{"date", "datetime", "timestamp", "index", "time"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalize converts v to a canonical series, parsing date-only values as UTC.
// Accepted shapes: *models.Series, models.Series, models.SplitFrame,
// *models.SplitFrame, arrow.Record and a decoded JSON split frame (map[string]any).
// A nil input returns (nil, nil).
func Normalize(v any) (*models.Series, error) {
	return NormalizeIn(v, time.UTC)
}

// NormalizeIn is Normalize with date-only values parsed in loc.
func NormalizeIn(v any, loc *time.Location) (*models.Series, error) {
	if loc == nil {
		loc = time.UTC
	}
	var (
		s   *models.Series
		err error
	)
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *models.Series:
		if x == nil {
			return nil, nil
		}
		s = x
	case models.Series:
		s = &x
	case *models.SplitFrame:
		if x == nil {
			return nil, nil
		}
		s, err = fromSplit(x.Columns, x.Index, x.Data, loc)
	case models.SplitFrame:
		s, err = fromSplit(x.Columns, x.Index, x.Data, loc)
	case arrow.Record:
		s, err = fromRecord(x, loc)
	case map[string]any:
		s, err = fromMap(x, loc)
	default:
		return nil, fmt.Errorf("%w: unsupported shape %T", ErrMalformed, v)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

// ParseTime interprets an index value: epoch milliseconds (numeric), a time.Time,
// or an RFC3339 / "2006-01-02" style string. Date-only strings are parsed in loc.
func ParseTime(v any, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case int:
		return time.UnixMilli(int64(x)).UTC(), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch %q: %w", x.String(), err)
		}
		return time.UnixMilli(n).UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(n).UTC(), nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", x)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fromSplit(columns []string, index []any, data [][]float64, loc *time.Location) (*models.Series, error) {
	if len(index) != len(data) {
		return nil, fmt.Errorf("%w: %d index entries for %d rows", ErrMalformed, len(index), len(data))
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrMalformed)
	}
	s := models.NewSeries("", columns...)
	for i, raw := range index {
		ts, err := ParseTime(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformed, i, err)
		}
		s.Index = append(s.Index, ts)
		s.Rows = append(s.Rows, append([]float64(nil), data[i]...))
	}
	sortByIndex(s)
	return s, nil
}

func fromMap(m map[string]any, loc *time.Location) (*models.Series, error) {
	rawCols, ok := m["columns"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing columns", ErrMalformed)
	}
	rawIndex, ok := m["index"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing index", ErrMalformed)
	}
	rawData, ok := m["data"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	columns := make([]string, 0, len(rawCols))
	for _, c := range rawCols {
		name, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("%w: column name %v is not a string", ErrMalformed, c)
		}
		columns = append(columns, name)
	}

	data := make([][]float64, 0, len(rawData))
	for i, r := range rawData {
		cells, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: row %d is not an array", ErrMalformed, i)
		}
		row := make([]float64, len(cells))
		for j, cell := range cells {
			row[j] = toFloat(cell)
		}
		data = append(data, row)
	}

	s, err := fromSplit(columns, rawIndex, data, loc)
	if err != nil {
		return nil, err
	}
	if sym, ok := m["symbol"].(string); ok {
		s.Symbol = sym
	}
	return s, nil
}

func fromRecord(rec arrow.Record, loc *time.Location) (*models.Series, error) {
	schema := rec.Schema()
	timeIdx := -1
	for i, f := range schema.Fields() {
		for _, name := range timeColumns {
			if strings.EqualFold(f.Name, name) {
				timeIdx = i
				break
			}
		}
		if timeIdx >= 0 {
			break
		}
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("%w: table has no timestamp column", ErrMalformed)
	}

	n := int(rec.NumRows())
	index := make([]time.Time, n)
	for i := 0; i < n; i++ {
		ts, err := arrowTime(rec.Column(timeIdx), i, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformed, i, err)
		}
		index[i] = ts
	}

	var (
		columns []string
		values  []arrow.Array
		symbol  string
	)
	for i, f := range schema.Fields() {
		if i == timeIdx {
			continue
		}
		col := rec.Column(i)
		if str, ok := col.(*array.String); ok {
			if strings.EqualFold(f.Name, "symbol") && str.Len() > 0 {
				symbol = str.Value(0)
			}
			continue
		}
		if !isNumeric(col) {
			continue
		}
		columns = append(columns, strings.ToLower(f.Name))
		values = append(values, col)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table has no numeric columns", ErrMalformed)
	}

	s := models.NewSeries(symbol, columns...)
	s.Index = index
	s.Rows = make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(values))
		for c, col := range values {
			row[c] = arrowFloat(col, i)
		}
		s.Rows[i] = row
	}
	sortByIndex(s)
	return s, nil
}

func arrowTime(col arrow.Array, i int, loc *time.Location) (time.Time, error) {
	if col.IsNull(i) {
		return time.Time{}, fmt.Errorf("null timestamp")
	}
	switch c := col.(type) {
	case *array.Timestamp:
		v := int64(c.Value(i))
		switch c.DataType().(*arrow.TimestampType).Unit {
		case arrow.Second:
			return time.Unix(v, 0).UTC(), nil
		case arrow.Millisecond:
			return time.UnixMilli(v).UTC(), nil
		case arrow.Microsecond:
			return time.UnixMicro(v).UTC(), nil
		default:
			return time.Unix(0, v).UTC(), nil
		}
	case *array.Int64:
		return time.UnixMilli(c.Value(i)).UTC(), nil
	case *array.String:
		return ParseTime(c.Value(i), loc)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp column type %s", col.DataType())
	}
}

func isNumeric(col arrow.Array) bool {
	switch col.(type) {
	case *array.Float64, *array.Float32, *array.Int64, *array.Int32:
		return true
	}
	return false
}

func arrowFloat(col arrow.Array, i int) float64 {
	if col.IsNull(i) {
		return math.NaN()
	}
	switch c := col.(type) {
	case *array.Float64:
		return c.Value(i)
	case *array.Float32:
		return float64(c.Value(i))
	case *array.Int64:
		return float64(c.Value(i))
	case *array.Int32:
		return float64(c.Value(i))
	}
	return math.NaN()
}

// toFloat converts a decoded JSON cell to a float64; nulls and non-numbers become NaN.
func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// sortByIndex orders rows by timestamp. Duplicate timestamps are left for Validate to reject.
func sortByIndex(s *models.Series) {
	if sort.SliceIsSorted(s.Index, func(i, j int) bool { return s.Index[i].Before(s.Index[j]) }) {
		return
	}
	order := make([]int, len(s.Index))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s.Index[order[a]].Before(s.Index[order[b]]) })
	index := make([]time.Time, len(order))
	rows := make([][]float64, len(order))
	for i, o := range order {
		index[i] = s.Index[o]
		rows[i] = s.Rows[o]
	}
	s.Index = index
	s.Rows = rows
}
