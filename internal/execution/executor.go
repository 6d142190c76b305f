// Package execution turns trade events into broker-side orders. The
// strategy decides and records trades either way; the trading mode only
// controls what leaves the process: nothing (off), a simulated fill
// (paper), or a real market order (live).
package execution

import (
	"context"
	"fmt"
	"log"

	"intradaybot/internal/strategy"
)

// Mode selects how trade events are executed.
type Mode string

const (
	ModeOff   Mode = "off"
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModePaper, ModeLive:
		return Mode(s), nil
	case "":
		return ModePaper, nil
	}
	return "", fmt.Errorf("unknown trading mode %q (want off, paper, or live)", s)
}

// Placer places the broker-side order for one trade event and returns the
// broker order ID (empty when nothing was placed).
type Placer interface {
	Place(ctx context.Context, ev strategy.Event) (orderID string, err error)
}

// Disabled is the off mode: events are logged and nothing is placed.
type Disabled struct{}

func (Disabled) Place(_ context.Context, ev strategy.Event) (string, error) {
	log.Printf("[executor] trading off: skipping %s %s %s", ev.Kind, ev.Trade.Direction, ev.Trade.ID)
	return "", nil
}

// ForMode builds the Placer for a mode. live requires a non-nil broker.
func ForMode(mode Mode, broker OrderAPI, symbol string, slippageBps int64) (Placer, error) {
	switch mode {
	case ModeOff:
		return Disabled{}, nil
	case ModePaper:
		return NewPaperBroker(slippageBps), nil
	case ModeLive:
		if broker == nil {
			return nil, fmt.Errorf("live mode requires a broker client")
		}
		return NewLiveBroker(broker, symbol), nil
	}
	return nil, fmt.Errorf("unknown trading mode %q", mode)
}
