package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intradaybot/internal/indicator"
	"intradaybot/internal/model"
)

func mkCandle(ts time.Time, close int64) model.Candle {
	return model.Candle{
		Token: "53001", Exchange: "NFO",
		TS: ts, EndTS: ts.Add(5 * time.Minute),
		Open: close, High: close + 10, Low: close - 10, Close: close,
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := NewCheckpointStore(filepath.Join(t.TempDir(), "window.json"), 28)

	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		mkCandle(base, 10000),
		mkCandle(base.Add(5*time.Minute), 10050),
		mkCandle(base.Add(10*time.Minute), 10020),
	}
	snap := indicator.Snapshot{Period: 14, Count: 3, PrevClose: 10020, AvgGain: 25, AvgLoss: 10, Current: 71.4}
	if err := s.SaveCheckpoint(candles, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	st, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Candles) != 3 {
		t.Fatalf("candles = %d, want 3", len(st.Candles))
	}
	for i := range candles {
		if st.Candles[i].Close != candles[i].Close || !st.Candles[i].TS.Equal(candles[i].TS) {
			t.Errorf("candle %d mismatch: %+v", i, st.Candles[i])
		}
	}
	if st.RSI == nil || st.RSI.Period != 14 || st.RSI.Current != 71.4 {
		t.Errorf("snapshot mismatch: %+v", st.RSI)
	}
}

func TestLoadMissingFileStartsCold(t *testing.T) {
	s := NewCheckpointStore(filepath.Join(t.TempDir(), "nope.json"), 28)
	st, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Candles) != 0 || st.RSI != nil {
		t.Errorf("want empty state, got %+v", st)
	}
}

func TestLoadCorruptFileStartsCold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.json")
	if err := os.WriteFile(path, []byte("{invalid json"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := NewCheckpointStore(path, 28).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Candles) != 0 {
		t.Errorf("want empty state from corrupt file, got %d candles", len(st.Candles))
	}
}

func TestLoadDedupesAndSortsAndCaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.json")
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	dup := mkCandle(base.Add(5*time.Minute), 10050)
	dupNewer := dup
	dupNewer.Close = 10060
	dupNewer.High = 10070
	bad := model.Candle{Token: "53001", TS: base.Add(15 * time.Minute)} // zero prices

	st := WindowState{Candles: []model.Candle{
		mkCandle(base.Add(10*time.Minute), 10020),
		dup,
		mkCandle(base, 10000),
		bad,
		dupNewer, // same TS as dup, appears later, must win
	}}
	data, _ := json.Marshal(st)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewCheckpointStore(path, 2).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// 3 unique valid timestamps, capped at the newest 2.
	if len(loaded.Candles) != 2 {
		t.Fatalf("candles = %d, want 2 (capped)", len(loaded.Candles))
	}
	if !loaded.Candles[0].TS.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("first = %v, want 10:05", loaded.Candles[0].TS)
	}
	if loaded.Candles[0].Close != 10060 {
		t.Errorf("dedupe kept close %d, want latest entry 10060", loaded.Candles[0].Close)
	}
	if !loaded.Candles[1].TS.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("second = %v, want 10:10", loaded.Candles[1].TS)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewCheckpointStore(filepath.Join(dir, "window.json"), 28)
	if err := s.SaveCheckpoint(nil, indicator.Snapshot{Period: 14}); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "window.json" {
		t.Errorf("dir entries = %v, want only window.json", entries)
	}
}

func TestLedgerAppendUpdateAndResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper_trades.json")
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	tr := model.Trade{
		ID: "PT_20260701_101600_000001", Token: "53001", Exchange: "NFO",
		Direction: model.Long, Qty: 50,
		EntryPrice: 10065, EntryTime: time.Now().UTC(),
		StopLoss: 9940, Target: 11060,
		Status: model.StatusOpen,
	}
	if err := l.Append(tr); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Reopen: the open trade must be resumable.
	l2, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	open, ok := l2.OpenTrade()
	if !ok || open.ID != tr.ID {
		t.Fatalf("open trade not resumed: %+v ok=%v", open, ok)
	}

	// Close it and persist; a third open sees no open trade.
	open.Status = model.StatusClosed
	open.ExitPrice = 11060
	open.ExitReason = model.ExitTarget
	open.PnL = 49750
	if err := l2.Update(open); err != nil {
		t.Fatalf("update: %v", err)
	}
	if trades := l2.Trades(); len(trades) != 1 {
		t.Fatalf("trades = %d, want 1 (update in place)", len(trades))
	}

	l3, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("third open: %v", err)
	}
	if _, ok := l3.OpenTrade(); ok {
		t.Error("closed trade reported as open after reload")
	}
	if got := l3.Trades()[0]; got.PnL != 49750 || got.ExitReason != model.ExitTarget {
		t.Errorf("persisted close mismatch: %+v", got)
	}
}

func TestLedgerCorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper_trades.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLedger(path); err == nil {
		t.Error("corrupt ledger must refuse to open")
	}
}
