package model

import (
	"encoding/json"
	"time"
)

// Candle represents a fixed-interval OHLC candle for a single instrument.
// All prices are in paise (int64) to avoid floating-point drift.
// TS is the bucket start; EndTS = TS + interval, so candle N's EndTS equals
// candle N+1's TS for a contiguous series.
type Candle struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	TS         time.Time `json:"ts"`     // bucket start (UTC, interval-aligned)
	EndTS      time.Time `json:"end_ts"` // bucket end (exclusive)
	Open       int64     `json:"open"`   // paise
	High       int64     `json:"high"`   // paise
	Low        int64     `json:"low"`    // paise
	Close      int64     `json:"close"`  // paise
	Volume     int64     `json:"volume"` // traded volume within this candle
	TicksCount int       `json:"ticks_count"`
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// Range returns high − low in paise.
func (c *Candle) Range() int64 {
	return c.High - c.Low
}

// Valid checks the OHLC invariant: low ≤ open,close ≤ high and all prices
// positive. Candles failing this are rejected on the persistence load path.
func (c *Candle) Valid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	return !c.TS.IsZero()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
