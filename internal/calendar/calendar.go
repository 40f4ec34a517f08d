// Package calendar implements the exchange trading calendar used for staleness math
package calendar

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // exchange zones must resolve on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
)

const dateLayout = "2006-01-02"

// maxWalk bounds day-by-day searches so a misconfigured holiday list cannot loop forever.
const maxWalk = 3660

// Calendar is a weekday calendar with declared holidays for one exchange.
// It is immutable after construction and safe for concurrent use.
type Calendar struct {
	name     string
	loc      *time.Location
	open     time.Duration // offset from midnight
	close    time.Duration
	holidays map[string]struct{}
}

var _ interfaces.TradingCalendar = (*Calendar)(nil)

// holidayFile is the YAML shape of an exchange holiday list
type holidayFile struct {
	Exchange string   `yaml:"exchange"`
	Holidays []string `yaml:"holidays"`
}

// New builds a calendar from the exchange section of the config,
// merging holidays declared inline with those in the optional holidays file.
func New(cfg common.ExchangeConfig) (*Calendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone %q: %w", tz, err)
	}

	open, err := parseClock(cfg.Open, 9*time.Hour+15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid session open: %w", err)
	}
	closeAt, err := parseClock(cfg.Close, 15*time.Hour+30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid session close: %w", err)
	}
	if closeAt <= open {
		return nil, fmt.Errorf("session close %s is not after open %s", cfg.Close, cfg.Open)
	}

	holidays := append([]string(nil), cfg.Holidays...)
	if cfg.HolidaysFile != "" {
		fromFile, err := LoadHolidayFile(cfg.HolidaysFile)
		if err != nil {
			return nil, err
		}
		holidays = append(holidays, fromFile...)
	}

	c := &Calendar{
		name:     cfg.Name,
		loc:      loc,
		open:     open,
		close:    closeAt,
		holidays: make(map[string]struct{}, len(holidays)),
	}
	for _, h := range holidays {
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(h), loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

// LoadHolidayFile reads a YAML holiday list of the form `holidays: ["2026-01-26", ...]`.
func LoadHolidayFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holiday file %s: %w", path, err)
	}
	var hf holidayFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("failed to parse holiday file %s: %w", path, err)
	}
	return hf.Holidays, nil
}

// Name returns the exchange name.
func (c *Calendar) Name() string { return c.name }

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// HolidayCount returns the number of declared holidays.
func (c *Calendar) HolidayCount() int { return len(c.holidays) }

// Today returns midnight of the exchange-local date of now.
func (c *Calendar) Today(now time.Time) time.Time {
	y, m, d := now.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// IsTradingDay reports whether the exchange-local date of t is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format(dateLayout)]
	return !holiday
}

// TradingDaysBetween counts trading days strictly between the dates of a and b.
// Same-day, adjacent-day and reversed inputs return 0.
func (c *Calendar) TradingDaysBetween(a, b time.Time) int {
	start := c.Today(a)
	end := c.Today(b)
	count := 0
	for d := start.AddDate(0, 0, 1); d.Before(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			count++
		}
	}
	return count
}

// TradingDaysSince counts trading days after the date of a up to and including
// the date of b. A Friday bar judged on Monday is 1; same-day and reversed inputs return 0.
func (c *Calendar) TradingDaysSince(a, b time.Time) int {
	start := c.Today(a)
	end := c.Today(b)
	count := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			count++
		}
	}
	return count
}

// PreviousTradingDay returns the latest trading day strictly before the date of t.
func (c *Calendar) PreviousTradingDay(t time.Time) time.Time {
	d := c.Today(t)
	for i := 0; i < maxWalk; i++ {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d
		}
	}
	return d
}

// TradingDaysBefore walks back n trading days from the date of t.
func (c *Calendar) TradingDaysBefore(t time.Time, n int) time.Time {
	d := c.Today(t)
	for i := 0; i < n; i++ {
		d = c.PreviousTradingDay(d)
	}
	return d
}

// SessionDate returns today when it is a trading day, otherwise the previous trading day.
func (c *Calendar) SessionDate(now time.Time) time.Time {
	if c.IsTradingDay(now) {
		return c.Today(now)
	}
	return c.PreviousTradingDay(now)
}

// IsMarketOpen reports whether now falls within the regular session (open inclusive, close exclusive).
func (c *Calendar) IsMarketOpen(now time.Time) bool {
	if !c.IsTradingDay(now) {
		return false
	}
	offset := now.In(c.loc).Sub(c.Today(now))
	return offset >= c.open && offset < c.close
}

func parseClock(s string, fallback time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
