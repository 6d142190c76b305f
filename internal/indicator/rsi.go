// Package indicator computes the RSI momentum oscillator over closed
// candles and maintains the bounded candle window the agent persists
// across restarts.
package indicator

import (
	"fmt"

	"intradaybot/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// Update is O(1) per candle — no history scans.
//
// Warm-up policy: the first value is emitted once `period` closed candles
// have been seen. The seed averages the first period−1 price deltas over
// the full period, then standard Wilder smoothing takes over. Only closed
// candles are fed in; the forming candle never reaches the window.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period < 2 {
		period = 2
	}
	return &RSI{period: period}
}

func (r *RSI) Period() int { return r.period }

// Ready reports whether enough candles have been seen for Value to be
// meaningful. While not ready, the indicator value is undefined.
func (r *RSI) Ready() bool { return r.count >= r.period }

// Value returns the current RSI (0–100). Only valid once Ready.
func (r *RSI) Value() float64 { return r.current }

// Update folds one closed candle into the indicator state.
func (r *RSI) Update(candle model.Candle) {
	price := float64(candle.Close) / 100.0 // paise → rupees
	r.count++

	if r.count == 1 {
		// First candle — no delta yet.
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period {
		// Accumulation phase: build seed averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = r.compute()
		}
		return
	}

	// Wilder's smoothing: avg = (prevAvg * (period-1) + delta) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = r.compute()
}

func (r *RSI) compute() float64 {
	if r.avgLoss == 0 {
		// All gains, no losses: RSI pegs at 100 rather than dividing by zero.
		return 100.0
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Snapshot serializes the RSI state for checkpoint persistence.
type Snapshot struct {
	Period    int     `json:"period"`
	Count     int     `json:"count"`
	PrevClose float64 `json:"prev_close"`
	AvgGain   float64 `json:"avg_gain"`
	AvgLoss   float64 `json:"avg_loss"`
	Current   float64 `json:"current"`
}

// Snapshot captures the current smoothing state.
func (r *RSI) Snapshot() Snapshot {
	return Snapshot{
		Period:    r.period,
		Count:     r.count,
		PrevClose: r.prevClose,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
		Current:   r.current,
	}
}

// Restore replaces the indicator state from a checkpoint. The snapshot's
// period must match the configured period — Wilder averages from a
// different period are not comparable.
func (r *RSI) Restore(snap Snapshot) error {
	if snap.Period != r.period {
		return fmt.Errorf("indicator: snapshot period %d != configured %d", snap.Period, r.period)
	}
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	r.current = snap.Current
	return nil
}
