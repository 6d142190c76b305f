package sessionclock

import (
	"testing"
	"time"
)

func newTestClock(t *testing.T) *Clock {
	t.Helper()
	c, err := New(Config{
		Open:     "09:15",
		Close:    "15:30",
		Cutoff:   "15:25",
		Interval: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func istTime(hour, min int) time.Time {
	// Wednesday 2026-07-01, a regular trading day
	return time.Date(2026, time.July, 1, hour, min, 0, 0, IST)
}

func TestIsSessionStart(t *testing.T) {
	c := newTestClock(t)

	cases := []struct {
		hour, min int
		want      bool
	}{
		{9, 15, true},
		{9, 17, true},
		{9, 19, true},
		{9, 20, false},
		{9, 14, false},
		{10, 0, false},
	}
	for _, tc := range cases {
		if got := c.IsSessionStart(istTime(tc.hour, tc.min)); got != tc.want {
			t.Errorf("IsSessionStart(%02d:%02d) = %v, want %v", tc.hour, tc.min, got, tc.want)
		}
	}
}

func TestIsAfterCutoff(t *testing.T) {
	c := newTestClock(t)

	if c.IsAfterCutoff(istTime(15, 24)) {
		t.Error("15:24 should be before cutoff")
	}
	if !c.IsAfterCutoff(istTime(15, 25)) {
		t.Error("15:25 should be at cutoff")
	}
	if !c.IsAfterCutoff(istTime(15, 29)) {
		t.Error("15:29 should be after cutoff")
	}
}

func TestUntilNextBoundary(t *testing.T) {
	c := newTestClock(t)

	// 9:17:30 → next boundary at 9:20:00
	at := time.Date(2026, time.July, 1, 9, 17, 30, 0, IST)
	if got, want := c.UntilNextBoundary(at), 2*time.Minute+30*time.Second; got != want {
		t.Errorf("UntilNextBoundary(9:17:30) = %v, want %v", got, want)
	}

	// Exactly on a boundary → one full interval.
	at = time.Date(2026, time.July, 1, 9, 20, 0, 0, IST)
	if got, want := c.UntilNextBoundary(at), 5*time.Minute; got != want {
		t.Errorf("UntilNextBoundary(9:20:00) = %v, want %v", got, want)
	}
}

func TestBucketStartAligned(t *testing.T) {
	c := newTestClock(t)

	at := time.Date(2026, time.July, 1, 9, 23, 45, 0, IST)
	got := c.BucketStart(at)
	want := time.Date(2026, time.July, 1, 9, 20, 0, 0, IST)
	if !got.Equal(want) {
		t.Errorf("BucketStart = %v, want %v", got, want)
	}
}

func TestTradingDay(t *testing.T) {
	c := newTestClock(t)

	// Saturday
	if c.IsTradingDay(time.Date(2026, time.July, 4, 10, 0, 0, 0, IST)) {
		t.Error("Saturday should not be a trading day")
	}
	// Republic Day holiday
	if c.IsTradingDay(time.Date(2026, time.January, 26, 10, 0, 0, 0, IST)) {
		t.Error("2026-01-26 holiday should not be a trading day")
	}
	// Regular Wednesday
	if !c.IsTradingDay(istTime(10, 0)) {
		t.Error("2026-07-01 should be a trading day")
	}
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	c := newTestClock(t)

	// Friday 2026-07-03 after close → next open Monday 2026-07-06 09:15
	friday := time.Date(2026, time.July, 3, 16, 0, 0, 0, IST)
	got := c.NextOpen(friday)
	want := time.Date(2026, time.July, 6, 9, 15, 0, 0, IST)
	if !got.Equal(want) {
		t.Errorf("NextOpen(friday evening) = %v, want %v", got, want)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Open: "9am", Close: "15:30", Cutoff: "15:25", Interval: time.Minute}); err == nil {
		t.Error("expected error for malformed open time")
	}
	if _, err := New(Config{Open: "09:15", Close: "15:30", Cutoff: "15:35", Interval: time.Minute}); err == nil {
		t.Error("expected error for cutoff after close")
	}
	if _, err := New(Config{Open: "09:15", Close: "15:30", Cutoff: "15:25", Interval: 0}); err == nil {
		t.Error("expected error for zero interval")
	}
}
