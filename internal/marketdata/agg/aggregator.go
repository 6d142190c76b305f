// Package agg folds a stream of ticks into closed, fixed-interval OHLCV
// candles aligned to wall-clock boundaries. One Aggregator instance tracks
// one instrument and one interval.
package agg

import (
	"context"
	"log"
	"time"

	"intradaybot/internal/model"
)

// Aggregator builds interval candles from a stream of ticks.
// It runs in a single goroutine; the forming candle is owned exclusively
// by the Aggregator until it closes, then handed out by value.
type Aggregator struct {
	token    string
	exchange string
	interval time.Duration

	bucket  int64 // unix second of the forming candle's bucket
	candle  model.Candle
	forming bool

	volBase int64 // session-cumulative volume at candle open
	lastCum int64 // last session-cumulative volume seen
	volSum  int64 // summed tick quantity, fallback when the feed has no cumulative volume

	flushInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
}

// New creates an Aggregator for one instrument and candle interval.
func New(token, exchange string, interval time.Duration) *Aggregator {
	if interval < time.Second {
		interval = time.Second
	}
	return &Aggregator{
		token:         token,
		exchange:      exchange,
		interval:      interval,
		flushInterval: time.Second, // check frequency for bucket rollover
	}
}

// Ingest folds one tick into the forming candle. If the tick's timestamp
// falls in a later bucket, the forming candle is finalized and returned
// with ok=true, and a new candle is seeded from this tick — so the series
// has no gap candles and no candle spans two intervals. Ticks with a
// non-positive price, and ticks for earlier buckets, are dropped.
func (a *Aggregator) Ingest(t model.Tick) (closed model.Candle, ok bool) {
	if !t.Valid() {
		a.dropped()
		return model.Candle{}, false
	}

	sec := int64(a.interval / time.Second)
	ts := t.TickTS.Unix()
	bucket := ts - ts%sec

	if !a.forming {
		if a.bucket != 0 && bucket <= a.bucket {
			// Late tick for a bucket the timer already closed. Seeding
			// from it would emit a second candle with the same TS.
			a.dropped()
			return model.Candle{}, false
		}
		a.start(bucket, t)
		return model.Candle{}, false
	}

	if bucket < a.bucket {
		// Late tick for an already-closed bucket.
		a.dropped()
		return model.Candle{}, false
	}

	if bucket > a.bucket {
		closed = a.finalize()
		a.start(bucket, t)
		return closed, true
	}

	// Same bucket — merge OHLCV.
	c := &a.candle
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.TicksCount++
	a.volSum += t.Qty
	if t.TotalVolume > 0 {
		a.lastCum = t.TotalVolume
	}
	return model.Candle{}, false
}

// CloseIfElapsed finalizes the forming candle once wall-clock time has
// passed its bucket end, so a quiet market still closes candles on time.
// The next tick seeds a fresh candle.
func (a *Aggregator) CloseIfElapsed(now time.Time) (model.Candle, bool) {
	if !a.forming {
		return model.Candle{}, false
	}
	sec := int64(a.interval / time.Second)
	if now.Unix() < a.bucket+sec {
		return model.Candle{}, false
	}
	return a.finalize(), true
}

// Flush finalizes and returns the forming candle, if any. Used at shutdown.
func (a *Aggregator) Flush() (model.Candle, bool) {
	if !a.forming {
		return model.Candle{}, false
	}
	return a.finalize(), true
}

func (a *Aggregator) start(bucket int64, t model.Tick) {
	a.bucket = bucket
	a.forming = true
	a.volSum = t.Qty
	if t.TotalVolume > 0 {
		// Prefer the exchange's session-cumulative volume: the candle's
		// volume is the cumulative delta across its lifetime.
		if a.lastCum > 0 && t.TotalVolume >= a.lastCum {
			a.volBase = a.lastCum
		} else {
			a.volBase = t.TotalVolume - t.Qty
		}
		a.lastCum = t.TotalVolume
	} else {
		a.volBase = 0
	}
	start := time.Unix(bucket, 0).UTC()
	a.candle = model.Candle{
		Token:      a.token,
		Exchange:   a.exchange,
		TS:         start,
		EndTS:      start.Add(a.interval),
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		TicksCount: 1,
	}
}

func (a *Aggregator) finalize() model.Candle {
	a.forming = false
	c := a.candle
	if a.lastCum > 0 && a.lastCum >= a.volBase {
		c.Volume = a.lastCum - a.volBase
	} else {
		c.Volume = a.volSum
	}
	return c
}

func (a *Aggregator) dropped() {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick()
	}
}

// Run consumes ticks from tickCh in a single goroutine and sends closed
// candles to candleCh. A periodic timer closes candles whose interval has
// elapsed without a newer tick. Blocks until ctx is cancelled or tickCh
// is closed; the forming candle is flushed on exit.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	emit := func(c model.Candle) {
		select {
		case candleCh <- c:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			if c, ok := a.Flush(); ok {
				// Best effort: downstream may already be gone.
				select {
				case candleCh <- c:
				default:
					log.Printf("[agg] dropped final candle ts=%v on shutdown", c.TS)
				}
			}
			return

		case t, ok := <-tickCh:
			if !ok {
				if c, ok := a.Flush(); ok {
					emit(c)
				}
				return
			}
			if c, ok := a.Ingest(t); ok {
				emit(c)
			}

		case now := <-ticker.C:
			if c, ok := a.CloseIfElapsed(now.UTC()); ok {
				emit(c)
			}
		}
	}
}
