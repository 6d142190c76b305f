package model

import (
	"fmt"
	"time"
)

// Direction of a trade or alert.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for LONG, -1 for SHORT.
func (d Direction) Sign() int64 {
	if d == Short {
		return -1
	}
	return 1
}

// Trade status values.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Exit reasons.
const (
	ExitStopLoss = "STOP_LOSS"
	ExitTarget   = "TARGET"
	ExitTime     = "TIME_EXIT"
)

// Trade is a single position opened by the strategy. At most one trade is
// OPEN at any time. Once CLOSED a trade is immutable.
type Trade struct {
	ID         string    `json:"trade_id"`
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	Direction  Direction `json:"direction"`
	Qty        int64     `json:"qty"`
	EntryPrice int64     `json:"entry_price"` // paise
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   int64     `json:"stop_loss"` // paise
	Target     int64     `json:"target"`    // paise
	OrderID    string    `json:"order_id,omitempty"`
	AlertRSI   float64   `json:"alert_rsi"`
	Status     string    `json:"status"`
	ExitPrice  int64     `json:"exit_price,omitempty"` // paise
	ExitTime   time.Time `json:"exit_time,omitempty"`
	ExitReason string    `json:"exit_reason,omitempty"`
	PnL        int64     `json:"pnl"` // paise, (exit − entry) × sign × qty
}

// NewTradeID builds a ledger key from the entry timestamp, mirroring the
// PT_YYYYMMDD_HHMMSS_micros scheme the ledger files have always used.
func NewTradeID(t time.Time) string {
	return fmt.Sprintf("PT_%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}
