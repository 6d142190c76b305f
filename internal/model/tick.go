package model

import "time"

// Tick represents a single market data tick from the broker WebSocket.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
type Tick struct {
	Token       string    `json:"token"`
	Exchange    string    `json:"exchange"`
	Price       int64     `json:"price"`        // paise (LTP)
	Qty         int64     `json:"qty"`          // last traded quantity
	TotalVolume int64     `json:"total_volume"` // session-cumulative traded volume, 0 if not reported
	TickTS      time.Time `json:"tick_ts"`      // UTC timestamp
}

// Valid reports whether the tick carries a usable price. Bad ticks are
// dropped by the pipeline, never treated as errors.
func (t Tick) Valid() bool {
	return t.Price > 0
}
