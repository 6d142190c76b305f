// Package file persists agent working state as JSON files: the candle
// window checkpoint and the trade ledger. Every write goes through a
// temp-file rename so a crash mid-write can never leave a torn file; the
// previous good state survives.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"intradaybot/internal/indicator"
	"intradaybot/internal/model"
)

// WindowState is the persisted candle window plus indicator snapshot.
type WindowState struct {
	Candles []model.Candle      `json:"candles"`
	RSI     *indicator.Snapshot `json:"rsi,omitempty"`
	SavedAt time.Time           `json:"saved_at"`
}

// CheckpointStore saves and loads the candle window checkpoint.
// It implements the strategy session's Checkpointer.
type CheckpointStore struct {
	path    string
	maxKeep int // window cap applied on load
}

// NewCheckpointStore creates a store writing to path. maxKeep bounds how
// many candles a load returns (newest kept).
func NewCheckpointStore(path string, maxKeep int) *CheckpointStore {
	return &CheckpointStore{path: path, maxKeep: maxKeep}
}

// SaveCheckpoint atomically persists the window and indicator snapshot.
func (s *CheckpointStore) SaveCheckpoint(candles []model.Candle, snap indicator.Snapshot) error {
	st := WindowState{
		Candles: candles,
		RSI:     &snap,
		SavedAt: time.Now().UTC(),
	}
	return writeFileAtomic(s.path, st)
}

// Load reads the checkpoint. A missing or unreadable file is not an error:
// the agent starts cold and rebuilds the window from live candles.
// Loaded candles are validated, deduplicated by timestamp (latest entry
// wins), sorted ascending, and capped at maxKeep.
func (s *CheckpointStore) Load() (WindowState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[filestore] checkpoint unreadable (%v), starting cold", err)
		}
		return WindowState{}, nil
	}

	var st WindowState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("[filestore] checkpoint corrupt (%v), starting cold", err)
		return WindowState{}, nil
	}

	seen := make(map[int64]model.Candle, len(st.Candles))
	for _, c := range st.Candles {
		if !c.Valid() {
			continue
		}
		seen[c.TS.Unix()] = c // later entries override earlier duplicates
	}
	candles := make([]model.Candle, 0, len(seen))
	for _, c := range seen {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].TS.Before(candles[j].TS) })
	if s.maxKeep > 0 && len(candles) > s.maxKeep {
		candles = candles[len(candles)-s.maxKeep:]
	}
	st.Candles = candles
	return st, nil
}

// writeFileAtomic writes v as JSON via a temp file in the same directory
// and renames it over path. The temp file is fsynced before the rename.
func writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
