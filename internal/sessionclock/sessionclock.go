// Package sessionclock provides stateless trading-session time helpers:
// is this the opening candle, is this past the entry cutoff, how long until
// the next candle boundary. Session times come from configuration, not
// literals; NSE defaults are 9:15–15:30 IST with a 15:25 entry cutoff.
package sessionclock

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Clock answers session-time questions for one configured trading session.
// All methods are pure functions of their timestamp argument.
type Clock struct {
	loc       *time.Location
	openMin   int // minutes since midnight, e.g. 9*60+15
	closeMin  int
	cutoffMin int
	interval  time.Duration
}

// Config holds session parameters. Times are "HH:MM" strings in loc.
type Config struct {
	Location *time.Location // nil → IST
	Open     string         // session open, e.g. "09:15"
	Close    string         // session close, e.g. "15:30"
	Cutoff   string         // no-new-trades / force-exit time, e.g. "15:25"
	Interval time.Duration  // candle interval
}

// New builds a Clock. Invalid time strings return an error; this is a
// startup-class failure, not something to recover at runtime.
func New(cfg Config) (*Clock, error) {
	loc := cfg.Location
	if loc == nil {
		loc = IST
	}
	open, err := parseHHMM(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("sessionclock: open: %w", err)
	}
	closeM, err := parseHHMM(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("sessionclock: close: %w", err)
	}
	cutoff, err := parseHHMM(cfg.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("sessionclock: cutoff: %w", err)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sessionclock: interval must be positive, got %v", cfg.Interval)
	}
	if cutoff > closeM {
		return nil, fmt.Errorf("sessionclock: cutoff %s after close %s", cfg.Cutoff, cfg.Close)
	}
	return &Clock{loc: loc, openMin: open, closeMin: closeM, cutoffMin: cutoff, interval: cfg.Interval}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Interval returns the configured candle interval.
func (c *Clock) Interval() time.Duration { return c.interval }

// minutesOf returns minutes since midnight of t in the session location.
func (c *Clock) minutesOf(t time.Time) int {
	lt := t.In(c.loc)
	return lt.Hour()*60 + lt.Minute()
}

// IsSessionStart reports whether t falls inside the first candle interval
// of the session (e.g. 9:15:00–9:19:59 for a 5-minute interval). The
// opening candle is folded into the indicator window but excluded from
// alert creation and entries.
func (c *Clock) IsSessionStart(t time.Time) bool {
	m := c.minutesOf(t)
	iv := int(c.interval.Minutes())
	if iv < 1 {
		iv = 1
	}
	return m >= c.openMin && m < c.openMin+iv
}

// IsAfterCutoff reports whether t is at or past the entry cutoff
// (15:25 by default): no new alerts or entries, open positions are
// force-closed.
func (c *Clock) IsAfterCutoff(t time.Time) bool {
	return c.minutesOf(t) >= c.cutoffMin
}

// IsSessionOpen reports whether t is within session hours on a trading day.
func (c *Clock) IsSessionOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	m := c.minutesOf(t)
	return m >= c.openMin && m < c.closeMin
}

// IsTradingDay reports whether t is a weekday and not an exchange holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	wd := lt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(lt)
}

// BucketStart truncates t down to its candle-interval boundary.
func (c *Clock) BucketStart(t time.Time) time.Time {
	sec := int64(c.interval / time.Second)
	ts := t.Unix()
	return time.Unix(ts-ts%sec, 0).UTC()
}

// UntilNextBoundary returns the duration from t to the next candle
// boundary. Always positive: on an exact boundary it returns one full
// interval.
func (c *Clock) UntilNextBoundary(t time.Time) time.Duration {
	next := c.BucketStart(t).Add(c.interval)
	return next.Sub(t)
}

// NextOpen returns the next session open at or after t, skipping weekends
// and holidays.
func (c *Clock) NextOpen(t time.Time) time.Time {
	lt := t.In(c.loc)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), c.openMin/60, c.openMin%60, 0, 0, c.loc)
	if lt.Before(day) && c.IsTradingDay(lt) {
		return day
	}
	d := day.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if c.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}
