// Package notification delivers trade lifecycle messages to external
// channels (Telegram, generic webhooks). Delivery is fire-and-forget from
// the trading path: a dead notifier never blocks or fails a trade.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"intradaybot/internal/strategy"
)

// Level is the severity of a message.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Message is one notification.
type Message struct {
	Level Level  `json:"level"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier delivers a message to one channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the process log. Always configured, so a
// bare setup still records every notification somewhere.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	log.Printf("[notify] [%s] %s: %s", msg.Level, msg.Title, msg.Body)
	return nil
}

// Fanout sends each message to every notifier on its own goroutine with a
// delivery timeout. Failures are logged and dropped.
type Fanout struct {
	notifiers []Notifier
	timeout   time.Duration
}

// NewFanout builds a fan-out over the given notifiers.
func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers, timeout: 10 * time.Second}
}

// Notify dispatches msg to all channels without blocking the caller.
func (f *Fanout) Notify(msg Message) {
	for _, n := range f.notifiers {
		n := n
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := n.Send(ctx, msg); err != nil {
				log.Printf("[notify] delivery failed (%T): %v", n, err)
			}
		}()
	}
}

// NotifySync delivers msg to all channels and waits for delivery. Meant
// for shutdown, where Notify's goroutines would be abandoned.
func (f *Fanout) NotifySync(msg Message) {
	for _, n := range f.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := n.Send(ctx, msg); err != nil {
			log.Printf("[notify] delivery failed (%T): %v", n, err)
		}
		cancel()
	}
}

// TradeMessage formats a trade lifecycle event.
func TradeMessage(ev strategy.Event) Message {
	tr := ev.Trade
	if ev.Kind == strategy.EventEntry {
		return Message{
			Level: LevelInfo,
			Title: fmt.Sprintf("%s entry %s", tr.Direction, tr.ID),
			Body: fmt.Sprintf("entry %s qty %d | stop %s | target %s | alert RSI %.2f",
				Rupees(tr.EntryPrice), tr.Qty, Rupees(tr.StopLoss), Rupees(tr.Target), tr.AlertRSI),
		}
	}

	level := LevelInfo
	if tr.PnL < 0 {
		level = LevelWarning
	}
	return Message{
		Level: level,
		Title: fmt.Sprintf("%s exit %s (%s)", tr.Direction, tr.ID, tr.ExitReason),
		Body: fmt.Sprintf("entry %s → exit %s qty %d | PnL %s",
			Rupees(tr.EntryPrice), Rupees(tr.ExitPrice), tr.Qty, Rupees(tr.PnL)),
	}
}

// AlertMessage formats a provisional RSI alert.
func AlertMessage(a strategy.Alert) Message {
	return Message{
		Level: LevelInfo,
		Title: fmt.Sprintf("%s alert armed", a.Direction),
		Body: fmt.Sprintf("RSI %.2f | trigger %s | stop %s | target %s",
			a.RSI, Rupees(a.Trigger), Rupees(a.StopLoss), Rupees(a.Target)),
	}
}

// Rupees renders a paise amount as a rupee string, e.g. 1006550 → "10065.50".
func Rupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}
