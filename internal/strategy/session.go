// Package strategy implements the RSI alert/entry/exit state machine.
//
// A Session consumes closed candles and live ticks for one instrument and
// drives a three-state machine: IDLE → ALERT_PENDING (an RSI threshold
// crossover on a narrow-range candle) → POSITION_OPEN (a live tick crossed
// the alert's trigger price) → IDLE (stop-loss, target, or session cutoff).
// It owns all mutable trading state; Run serializes every input on a
// single goroutine, so there is no locking and no re-entrant callback
// mutation.
package strategy

import (
	"context"
	"log"
	"time"

	"intradaybot/internal/indicator"
	"intradaybot/internal/model"
	"intradaybot/internal/sessionclock"
)

// State of the trading session.
type State int

const (
	StateIdle State = iota
	StateAlertPending
	StatePositionOpen
)

func (s State) String() string {
	switch s {
	case StateAlertPending:
		return "ALERT_PENDING"
	case StatePositionOpen:
		return "POSITION_OPEN"
	default:
		return "IDLE"
	}
}

// Config holds the strategy parameters. All prices are paise.
type Config struct {
	Token    string
	Exchange string
	Qty      int64

	UpperThreshold float64 // RSI crossing above this arms a LONG alert (e.g. 60)
	LowerThreshold float64 // RSI crossing below this arms a SHORT alert (e.g. 40)
	MaxAlertRange  int64   // alert candle high−low must be strictly below this
	TargetOffset   int64   // target = trigger ± this

	// CancelOnReversal discards a pending alert when the RSI closes back
	// across the threshold that armed it before the entry trigger fires.
	CancelOnReversal bool
}

// Alert is a provisional signal awaiting real-time price confirmation.
// At most one alert is pending; a newer qualifying crossover replaces it.
type Alert struct {
	Direction model.Direction `json:"direction"`
	Candle    model.Candle    `json:"candle"`
	RSI       float64         `json:"rsi"`
	Trigger   int64           `json:"trigger"`   // paise, crossing opens the trade
	StopLoss  int64           `json:"stop_loss"` // paise
	Target    int64           `json:"target"`    // paise
	CreatedAt time.Time       `json:"created_at"`
}

// EventKind distinguishes trade lifecycle events.
type EventKind string

const (
	EventEntry EventKind = "ENTRY"
	EventExit  EventKind = "EXIT"
)

// Event is emitted when a trade opens or closes. The Trade is a snapshot
// by value; consumers may not mutate session state through it.
type Event struct {
	Kind  EventKind
	Trade model.Trade
	At    time.Time
}

// Checkpointer persists the candle window and indicator state once per
// candle close. Implemented by the file store.
type Checkpointer interface {
	SaveCheckpoint(candles []model.Candle, snap indicator.Snapshot) error
}

// Session owns the trading state machine for one instrument.
// HandleCandle and HandleTick must be called from a single goroutine;
// Run does exactly that.
type Session struct {
	cfg    Config
	clock  *sessionclock.Clock
	rsi    *indicator.RSI
	window *indicator.Window
	ckpt   Checkpointer

	state     State
	prevRSI   float64
	hasPrev   bool
	alert     *Alert
	open      *model.Trade
	lastPrice int64 // last valid tick price seen, paise

	eventCh chan Event
	cmdCh   chan Config

	// Metrics hooks (optional, set before Run)
	OnAlert        func(Alert)
	OnIndicator    func(val float64, c model.Candle)
	OnPersistError func(error)
}

// NewSession creates a Session. period is the RSI period; the candle
// window is capped at what the indicator needs to re-seed after a restart.
// ckpt may be nil (no persistence, used in tests).
func NewSession(cfg Config, clock *sessionclock.Clock, period int, ckpt Checkpointer) *Session {
	return &Session{
		cfg:     cfg,
		clock:   clock,
		rsi:     indicator.NewRSI(period),
		window:  indicator.NewWindow(2 * period),
		ckpt:    ckpt,
		eventCh: make(chan Event, 64),
		cmdCh:   make(chan Config, 1),
	}
}

// Events returns the trade event channel. Closed when Run exits.
func (s *Session) Events() <-chan Event { return s.eventCh }

// State returns the current machine state.
func (s *Session) State() State { return s.state }

// PendingAlert returns a copy of the pending alert, if any.
func (s *Session) PendingAlert() (Alert, bool) {
	if s.alert == nil {
		return Alert{}, false
	}
	return *s.alert, true
}

// OpenTrade returns a copy of the open trade, if any.
func (s *Session) OpenTrade() (model.Trade, bool) {
	if s.open == nil {
		return model.Trade{}, false
	}
	return *s.open, true
}

// Seed replays historical closed candles through the window and indicator
// before live processing starts. No alerts or trades are produced.
func (s *Session) Seed(candles []model.Candle) {
	for i := range candles {
		if !candles[i].Valid() {
			continue
		}
		s.window.Push(candles[i])
		s.rsi.Update(candles[i])
	}
	if s.rsi.Ready() {
		s.prevRSI = s.rsi.Value()
		s.hasPrev = true
	}
}

// RestoreCheckpoint rebuilds the window and indicator from persisted state.
// Falls back to replaying the candles when the snapshot cannot be applied.
func (s *Session) RestoreCheckpoint(candles []model.Candle, snap *indicator.Snapshot) {
	if snap == nil {
		s.Seed(candles)
		return
	}
	if err := s.rsi.Restore(*snap); err != nil {
		log.Printf("[strategy] checkpoint snapshot unusable (%v), reseeding from candles", err)
		s.Seed(candles)
		return
	}
	for i := range candles {
		if candles[i].Valid() {
			s.window.Push(candles[i])
		}
	}
	if s.rsi.Ready() {
		s.prevRSI = s.rsi.Value()
		s.hasPrev = true
	}
}

// RestoreOpenTrade resumes a trade left OPEN by a previous run. Ignored if
// the trade is not open or a trade is already tracked.
func (s *Session) RestoreOpenTrade(tr model.Trade) {
	if tr.Status != model.StatusOpen || s.open != nil {
		return
	}
	t := tr
	s.open = &t
	s.state = StatePositionOpen
	log.Printf("[strategy] resumed open trade %s %s entry=%d sl=%d target=%d",
		tr.ID, tr.Direction, tr.EntryPrice, tr.StopLoss, tr.Target)
}

// Reload queues a config update; it is applied by the processing loop
// between events, never mid-candle. Non-blocking: a still-unapplied
// earlier reload is superseded.
func (s *Session) Reload(cfg Config) {
	select {
	case s.cmdCh <- cfg:
	default:
		<-s.cmdCh
		s.cmdCh <- cfg
	}
}

// Flush persists the current window and indicator state. Called on
// shutdown and after every candle close.
func (s *Session) Flush() {
	if s.ckpt == nil {
		return
	}
	if err := s.ckpt.SaveCheckpoint(s.window.Candles(), s.rsi.Snapshot()); err != nil {
		log.Printf("[strategy] checkpoint save failed: %v", err)
		if s.OnPersistError != nil {
			s.OnPersistError(err)
		}
	}
}

// Run consumes candles and ticks until ctx is cancelled or both inputs
// close. The window is flushed and the event channel closed on exit.
func (s *Session) Run(ctx context.Context, candleCh <-chan model.Candle, tickCh <-chan model.Tick) {
	defer func() {
		s.Flush()
		close(s.eventCh)
	}()

	for candleCh != nil || tickCh != nil {
		select {
		case <-ctx.Done():
			return

		case cfg := <-s.cmdCh:
			s.cfg = cfg
			log.Printf("[strategy] config reloaded: upper=%.1f lower=%.1f max_range=%d target_offset=%d cancel_on_reversal=%v",
				cfg.UpperThreshold, cfg.LowerThreshold, cfg.MaxAlertRange, cfg.TargetOffset, cfg.CancelOnReversal)

		case c, ok := <-candleCh:
			if !ok {
				candleCh = nil
				continue
			}
			s.HandleCandle(c)

		case t, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			s.HandleTick(t)
		}
	}
}

// HandleCandle processes one closed candle: fold into the indicator
// window, checkpoint, then evaluate alert conditions.
func (s *Session) HandleCandle(c model.Candle) {
	if !c.Valid() {
		log.Printf("[strategy] dropping invalid candle ts=%v o=%d h=%d l=%d c=%d",
			c.TS, c.Open, c.High, c.Low, c.Close)
		return
	}

	s.window.Push(c)
	s.rsi.Update(c)
	s.Flush()

	if !s.rsi.Ready() {
		return
	}
	val := s.rsi.Value()
	defer func() {
		s.prevRSI = val
		s.hasPrev = true
	}()
	if s.OnIndicator != nil {
		s.OnIndicator(val, c)
	}

	// Past cutoff: no alerts, and close out whatever is still live. The
	// tick path normally does this first; this covers a tickless tape.
	if s.clock.IsAfterCutoff(c.TS) {
		s.enforceCutoff(c.Close, c.EndTS)
		return
	}

	if s.alert != nil && s.cfg.CancelOnReversal && s.reversed(val) {
		log.Printf("[strategy] alert invalidated: RSI %.2f closed back across threshold", val)
		s.dropAlert()
	}

	if s.state == StatePositionOpen || !s.hasPrev {
		return
	}
	if s.clock.IsSessionStart(c.TS) {
		// Opening candle feeds the indicator but never arms an alert.
		return
	}

	crossedUp := s.prevRSI <= s.cfg.UpperThreshold && val > s.cfg.UpperThreshold
	crossedDown := s.prevRSI >= s.cfg.LowerThreshold && val < s.cfg.LowerThreshold
	if !crossedUp && !crossedDown {
		return
	}

	if c.Range() >= s.cfg.MaxAlertRange {
		log.Printf("[strategy] crossover at RSI %.2f but range %d ≥ %d, no alert",
			val, c.Range(), s.cfg.MaxAlertRange)
		return
	}

	a := Alert{
		Candle:    c,
		RSI:       val,
		CreatedAt: c.EndTS,
	}
	if crossedUp {
		a.Direction = model.Long
		a.Trigger = c.High
		a.StopLoss = c.Low
		a.Target = c.High + s.cfg.TargetOffset
	} else {
		a.Direction = model.Short
		a.Trigger = c.Low
		a.StopLoss = c.High
		a.Target = c.Low - s.cfg.TargetOffset
	}

	if s.alert != nil {
		log.Printf("[strategy] replacing pending %s alert with new %s alert", s.alert.Direction, a.Direction)
	}
	s.alert = &a
	s.state = StateAlertPending
	log.Printf("[strategy] alert %s: RSI %.2f→%.2f trigger=%d sl=%d target=%d",
		a.Direction, s.prevRSI, val, a.Trigger, a.StopLoss, a.Target)
	if s.OnAlert != nil {
		s.OnAlert(a)
	}
}

// HandleTick processes one live tick: cutoff enforcement, exit checks for
// an open position, then the entry trigger for a pending alert. A tick
// with no usable price is no new information — nothing fires.
func (s *Session) HandleTick(t model.Tick) {
	if !t.Valid() {
		return
	}
	s.lastPrice = t.Price

	if s.clock.IsAfterCutoff(t.TickTS) {
		s.enforceCutoff(s.lastPrice, t.TickTS)
		return
	}

	switch s.state {
	case StatePositionOpen:
		s.checkExit(t)
	case StateAlertPending:
		if s.clock.IsSessionStart(t.TickTS) {
			return
		}
		s.checkEntry(t)
	}
}

// reversed reports whether the RSI has closed back across the threshold
// that armed the pending alert.
func (s *Session) reversed(val float64) bool {
	switch s.alert.Direction {
	case model.Long:
		return val < s.cfg.UpperThreshold
	case model.Short:
		return val > s.cfg.LowerThreshold
	}
	return false
}

func (s *Session) checkEntry(t model.Tick) {
	a := s.alert
	triggered := (a.Direction == model.Long && t.Price > a.Trigger) ||
		(a.Direction == model.Short && t.Price < a.Trigger)
	if !triggered {
		return
	}

	tr := model.Trade{
		ID:         model.NewTradeID(t.TickTS),
		Token:      s.cfg.Token,
		Exchange:   s.cfg.Exchange,
		Direction:  a.Direction,
		Qty:        s.cfg.Qty,
		EntryPrice: t.Price, // the live tick price, not the alert candle's
		EntryTime:  t.TickTS,
		StopLoss:   a.StopLoss,
		Target:     a.Target,
		AlertRSI:   a.RSI,
		Status:     model.StatusOpen,
	}
	s.open = &tr
	s.alert = nil
	s.state = StatePositionOpen
	log.Printf("[strategy] entry %s %s @ %d (trigger %d) sl=%d target=%d",
		tr.ID, tr.Direction, tr.EntryPrice, a.Trigger, tr.StopLoss, tr.Target)
	s.emit(Event{Kind: EventEntry, Trade: tr, At: t.TickTS})
}

func (s *Session) checkExit(t model.Tick) {
	tr := s.open
	switch tr.Direction {
	case model.Long:
		if t.Price <= tr.StopLoss {
			s.closeTrade(tr.StopLoss, model.ExitStopLoss, t.TickTS)
		} else if t.Price >= tr.Target {
			s.closeTrade(tr.Target, model.ExitTarget, t.TickTS)
		}
	case model.Short:
		if t.Price >= tr.StopLoss {
			s.closeTrade(tr.StopLoss, model.ExitStopLoss, t.TickTS)
		} else if t.Price <= tr.Target {
			s.closeTrade(tr.Target, model.ExitTarget, t.TickTS)
		}
	}
}

// closeTrade exits at the exact level (stop, target, or last price for a
// time exit), never the tick price that crossed it.
func (s *Session) closeTrade(exitPrice int64, reason string, at time.Time) {
	tr := *s.open
	tr.ExitPrice = exitPrice
	tr.ExitTime = at
	tr.ExitReason = reason
	tr.PnL = (exitPrice - tr.EntryPrice) * tr.Direction.Sign() * tr.Qty
	tr.Status = model.StatusClosed

	s.open = nil
	s.state = StateIdle
	log.Printf("[strategy] exit %s %s @ %d reason=%s pnl=%d",
		tr.ID, tr.Direction, exitPrice, reason, tr.PnL)
	s.emit(Event{Kind: EventExit, Trade: tr, At: at})
}

// enforceCutoff force-closes an open trade at the last known price and
// discards any pending alert once the session cutoff is reached.
func (s *Session) enforceCutoff(lastPrice int64, at time.Time) {
	if s.alert != nil {
		log.Printf("[strategy] session cutoff: discarding pending %s alert", s.alert.Direction)
		s.dropAlert()
	}
	if s.open != nil && lastPrice > 0 {
		log.Printf("[strategy] session cutoff: force-closing %s at %d", s.open.ID, lastPrice)
		s.closeTrade(lastPrice, model.ExitTime, at)
	}
}

func (s *Session) dropAlert() {
	s.alert = nil
	if s.state == StateAlertPending {
		s.state = StateIdle
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.eventCh <- ev:
	default:
		// Consumer stalled; trade events are too important to drop silently.
		log.Printf("[strategy] WARNING: event channel full, blocking on %s %s", ev.Kind, ev.Trade.ID)
		s.eventCh <- ev
	}
}
