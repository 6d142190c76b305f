package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"intradaybot/internal/model"
)

// Ledger is the JSON trade ledger (paper and live trades alike). The full
// slice is rewritten atomically on every mutation; intraday trade counts
// are small enough that this is simpler and safer than appending.
type Ledger struct {
	mu     sync.Mutex
	path   string
	trades []model.Trade
}

// OpenLedger loads the ledger at path, creating an empty one if the file
// does not exist. A corrupt ledger is an error: trades are money, and
// silently dropping them is worse than refusing to start.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.trades); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	log.Printf("[filestore] loaded %d trades from %s", len(l.trades), path)
	return l, nil
}

// Append adds a trade and persists. A duplicate ID updates in place.
func (l *Ledger) Append(tr model.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.trades {
		if l.trades[i].ID == tr.ID {
			l.trades[i] = tr
			return l.save()
		}
	}
	l.trades = append(l.trades, tr)
	return l.save()
}

// Update replaces the trade with the same ID and persists. Unknown IDs are
// appended; a closed trade must never be lost to an ordering bug.
func (l *Ledger) Update(tr model.Trade) error {
	return l.Append(tr)
}

// OpenTrade returns the most recent trade still marked OPEN, if any.
// Used at startup to resume a position across a restart.
func (l *Ledger) OpenTrade() (model.Trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].Status == model.StatusOpen {
			return l.trades[i], true
		}
	}
	return model.Trade{}, false
}

// Trades returns a copy of all trades in append order.
func (l *Ledger) Trades() []model.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) save() error {
	return writeFileAtomic(l.path, l.trades)
}
