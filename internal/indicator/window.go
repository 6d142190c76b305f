package indicator

import "intradaybot/internal/model"

// Window is a bounded, insertion-ordered buffer of the most recent closed
// candles. When full, pushing evicts the oldest. Single-goroutine usage —
// the strategy loop owns it.
type Window struct {
	buf   []model.Candle
	head  int // index of oldest element
	count int
}

// NewWindow creates a window holding at most cap candles.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]model.Candle, capacity)}
}

// Push appends a closed candle, evicting the oldest when full.
func (w *Window) Push(c model.Candle) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = c
		w.count++
		return
	}
	w.buf[w.head] = c
	w.head = (w.head + 1) % len(w.buf)
}

// Len returns the number of candles held.
func (w *Window) Len() int { return w.count }

// Cap returns the maximum number of candles held.
func (w *Window) Cap() int { return len(w.buf) }

// Candles returns the held candles oldest-first as a fresh slice.
func (w *Window) Candles() []model.Candle {
	out := make([]model.Candle, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Last returns the most recent candle, if any.
func (w *Window) Last() (model.Candle, bool) {
	if w.count == 0 {
		return model.Candle{}, false
	}
	return w.buf[(w.head+w.count-1)%len(w.buf)], true
}
