package models

import (
	"sort"
	"time"
)

// Tier identifies where a snapshot or a symbol's series came from.
type Tier string

const (
	TierNone   Tier = ""
	TierLocal  Tier = "local"
	TierRemote Tier = "remote"
	TierTicks  Tier = "ticks"
	TierLive   Tier = "live"
)

// Snapshot maps symbol to series for one cache generation.
//
// Snapshots are superseded rather than mutated: Clone copies the symbol map
// while sharing series, so a component that changes a series must replace it
// with a modified copy instead of editing it in place.
type Snapshot struct {
	Date     time.Time          `json:"date"`
	Intraday bool               `json:"intraday"`
	Source   Tier               `json:"source"`
	Series   map[string]*Series `json:"series"`
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot(date time.Time, intraday bool, source Tier) *Snapshot {
	return &Snapshot{
		Date:     date,
		Intraday: intraday,
		Source:   source,
		Series:   make(map[string]*Series),
	}
}

// Len returns the number of symbols. Safe on a nil snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Series)
}

// Get returns the series for symbol.
func (s *Snapshot) Get(symbol string) (*Series, bool) {
	if s == nil {
		return nil, false
	}
	series, ok := s.Series[symbol]
	return series, ok
}

// Symbols returns the snapshot's symbols in sorted order.
func (s *Snapshot) Symbols() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Series))
	for sym := range s.Series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Clone returns a new snapshot with its own symbol map. Series are shared.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Date:     s.Date,
		Intraday: s.Intraday,
		Source:   s.Source,
		Series:   make(map[string]*Series, len(s.Series)),
	}
	for sym, series := range s.Series {
		out.Series[sym] = series
	}
	return out
}

// NewestBar returns the most recent bar timestamp across all symbols.
func (s *Snapshot) NewestBar() (time.Time, bool) {
	var newest time.Time
	found := false
	if s == nil {
		return newest, false
	}
	for _, series := range s.Series {
		if ts, ok := series.LastTimestamp(); ok && (!found || ts.After(newest)) {
			newest = ts
			found = true
		}
	}
	return newest, found
}
