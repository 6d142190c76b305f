package execution

import (
	"context"
	"fmt"
	"log"

	"intradaybot/internal/broker/smartapi"
	"intradaybot/internal/model"
	"intradaybot/internal/strategy"
)

// OrderAPI is the slice of the broker client the live broker needs.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, p smartapi.OrderParams) (string, error)
}

// LiveBroker places real intraday market orders through the broker API.
type LiveBroker struct {
	api    OrderAPI
	symbol string // broker trading symbol, e.g. "NIFTY26JUL24000CE"
}

// NewLiveBroker creates a live broker for one trading symbol.
func NewLiveBroker(api OrderAPI, symbol string) *LiveBroker {
	return &LiveBroker{api: api, symbol: symbol}
}

// Place sends the market order for the event. An ENTRY trades in the
// position's direction; an EXIT trades the opposite side to flatten it.
// Errors are returned to the caller: the internal trade record stands
// either way, but a failed live order must be surfaced loudly.
func (l *LiveBroker) Place(ctx context.Context, ev strategy.Event) (string, error) {
	side := ev.Trade.Direction
	if ev.Kind == strategy.EventExit {
		if side == model.Long {
			side = model.Short
		} else {
			side = model.Long
		}
	}

	orderID, err := l.api.PlaceOrder(ctx, smartapi.OrderParams{
		TradingSymbol: l.symbol,
		Token:         ev.Trade.Token,
		Exchange:      ev.Trade.Exchange,
		Side:          side,
		Qty:           ev.Trade.Qty,
	})
	if err != nil {
		return "", fmt.Errorf("live %s order for %s: %w", ev.Kind, ev.Trade.ID, err)
	}
	log.Printf("[executor] live %s order placed: %s side=%s qty=%d", ev.Kind, orderID, side, ev.Trade.Qty)
	return orderID, nil
}
