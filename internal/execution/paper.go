package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"intradaybot/internal/model"
	"intradaybot/internal/strategy"
)

// Fill records one simulated execution.
type Fill struct {
	OrderID   string             `json:"order_id"`
	TradeID   string             `json:"trade_id"`
	Kind      strategy.EventKind `json:"kind"`
	Direction model.Direction    `json:"direction"`
	Qty       int64              `json:"qty"`
	FillPrice int64              `json:"fill_price"` // paise, slippage applied
	Slippage  int64              `json:"slippage"`   // paise
	FilledAt  time.Time          `json:"filled_at"`
}

// PaperBroker simulates fills without broker calls. Optional slippage in
// basis points models the cost a market order would actually pay.
type PaperBroker struct {
	mu          sync.Mutex
	fills       []Fill
	orderSeq    int64
	slippageBps int64
}

// NewPaperBroker creates a paper broker. slippageBps may be 0.
func NewPaperBroker(slippageBps int64) *PaperBroker {
	return &PaperBroker{slippageBps: slippageBps}
}

// Place simulates the order implied by the event: an ENTRY fills at the
// entry price, an EXIT at the exit price, both adjusted for slippage
// against the order's direction.
func (p *PaperBroker) Place(_ context.Context, ev strategy.Event) (string, error) {
	price := ev.Trade.EntryPrice
	buying := ev.Trade.Direction == model.Long
	if ev.Kind == strategy.EventExit {
		price = ev.Trade.ExitPrice
		buying = !buying // exit is the opposite side
	}

	slip := price * p.slippageBps / 10000
	if buying {
		price += slip
	} else {
		price -= slip
	}

	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%06d", p.orderSeq)
	p.fills = append(p.fills, Fill{
		OrderID:   orderID,
		TradeID:   ev.Trade.ID,
		Kind:      ev.Kind,
		Direction: ev.Trade.Direction,
		Qty:       ev.Trade.Qty,
		FillPrice: price,
		Slippage:  slip,
		FilledAt:  ev.At,
	})
	p.mu.Unlock()
	return orderID, nil
}

// Fills returns a snapshot of all simulated fills.
func (p *PaperBroker) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
