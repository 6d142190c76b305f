package agg

import (
	"context"
	"testing"
	"time"

	"intradaybot/internal/model"
)

var base = time.Date(2026, time.July, 1, 9, 20, 0, 0, time.UTC)

func tick(price int64, at time.Time) model.Tick {
	return model.Tick{Token: "53001", Exchange: "NFO", Price: price, Qty: 1, TickTS: at}
}

func TestIngest_OHLCScenario(t *testing.T) {
	a := New("53001", "NFO", 5*time.Minute)

	// Prices 100, 105, 98, 102 within one interval.
	for i, p := range []int64{100, 105, 98, 102} {
		if _, ok := a.Ingest(tick(p, base.Add(time.Duration(i)*time.Minute))); ok {
			t.Fatalf("unexpected close on tick %d", i)
		}
	}

	// First tick of the next bucket closes the candle.
	closed, ok := a.Ingest(tick(101, base.Add(5*time.Minute)))
	if !ok {
		t.Fatal("expected closed candle on bucket rollover")
	}
	if closed.Open != 100 || closed.High != 105 || closed.Low != 98 || closed.Close != 102 {
		t.Errorf("OHLC = %d/%d/%d/%d, want 100/105/98/102",
			closed.Open, closed.High, closed.Low, closed.Close)
	}
	if !closed.TS.Equal(base) {
		t.Errorf("TS = %v, want %v", closed.TS, base)
	}
	if !closed.EndTS.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("EndTS = %v, want %v", closed.EndTS, base.Add(5*time.Minute))
	}
}

func TestIngest_ContiguousBoundaries(t *testing.T) {
	a := New("53001", "NFO", time.Minute)

	var candles []model.Candle
	// One tick per minute for 5 minutes.
	for i := 0; i < 5; i++ {
		if c, ok := a.Ingest(tick(100+int64(i), base.Add(time.Duration(i)*time.Minute))); ok {
			candles = append(candles, c)
		}
	}
	if len(candles) != 4 {
		t.Fatalf("got %d closed candles, want 4", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i-1].EndTS.Equal(candles[i].TS) {
			t.Errorf("candle %d EndTS %v != candle %d TS %v",
				i-1, candles[i-1].EndTS, i, candles[i].TS)
		}
	}
	// Rollover seeds the new candle from the closing tick, not an empty one.
	if candles[1].Open != 101 {
		t.Errorf("candle 1 open = %d, want 101 (seeded from rollover tick)", candles[1].Open)
	}
}

func TestIngest_IgnoresBadTicks(t *testing.T) {
	a := New("53001", "NFO", time.Minute)
	dropped := 0
	a.OnDroppedTick = func() { dropped++ }

	a.Ingest(tick(100, base))
	a.Ingest(tick(0, base.Add(time.Second)))  // no price
	a.Ingest(tick(-5, base.Add(time.Second))) // negative

	closed, ok := a.Ingest(tick(100, base.Add(time.Minute)))
	if !ok {
		t.Fatal("expected rollover")
	}
	if closed.TicksCount != 1 {
		t.Errorf("TicksCount = %d, want 1 (bad ticks must not mutate state)", closed.TicksCount)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}

func TestIngest_DropsLateTicks(t *testing.T) {
	a := New("53001", "NFO", time.Minute)

	a.Ingest(tick(100, base.Add(time.Minute)))
	if _, ok := a.Ingest(tick(90, base)); ok {
		t.Fatal("late tick must not close a candle")
	}
	closed, _ := a.Flush()
	if closed.Low != 100 {
		t.Errorf("late tick mutated candle: low = %d, want 100", closed.Low)
	}
}

func TestIngest_DropsLateTickAfterTimerClose(t *testing.T) {
	a := New("53001", "NFO", 5*time.Minute)
	dropped := 0
	a.OnDroppedTick = func() { dropped++ }

	a.Ingest(tick(10000, base.Add(10*time.Second)))
	if _, ok := a.CloseIfElapsed(base.Add(5*time.Minute + time.Second)); !ok {
		t.Fatal("expected timer close of the quiet bucket")
	}

	// A delayed tick from the closed bucket must not re-open it.
	if _, ok := a.Ingest(tick(10100, base.Add(4*time.Minute+59*time.Second))); ok {
		t.Fatal("late tick must not close a candle")
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	// The next fresh tick seeds the following bucket, not a duplicate.
	a.Ingest(tick(10200, base.Add(5*time.Minute+30*time.Second)))
	closed, ok := a.Flush()
	if !ok {
		t.Fatal("expected a forming candle for the next bucket")
	}
	if !closed.TS.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("TS = %v, want %v (no second candle for a closed bucket)",
			closed.TS, base.Add(5*time.Minute))
	}
	if closed.Open != 10200 {
		t.Errorf("open = %d, want 10200 (seeded from the fresh tick)", closed.Open)
	}
}

func TestIngest_PrefersCumulativeVolume(t *testing.T) {
	a := New("53001", "NFO", time.Minute)

	t1 := tick(100, base)
	t1.Qty, t1.TotalVolume = 10, 5010
	a.Ingest(t1)

	t2 := tick(101, base.Add(10*time.Second))
	t2.Qty, t2.TotalVolume = 7, 5017
	a.Ingest(t2)

	t3 := tick(102, base.Add(time.Minute))
	t3.Qty, t3.TotalVolume = 3, 5020
	closed, ok := a.Ingest(t3)
	if !ok {
		t.Fatal("expected rollover")
	}
	// Cumulative delta across the candle: 5017 − (5010 − 10) = 17.
	if closed.Volume != 17 {
		t.Errorf("Volume = %d, want 17 (cumulative preferred over summed)", closed.Volume)
	}
}

func TestIngest_FallsBackToSummedVolume(t *testing.T) {
	a := New("53001", "NFO", time.Minute)

	for i := 0; i < 3; i++ {
		tk := tick(100, base.Add(time.Duration(i)*time.Second))
		tk.Qty = 5
		a.Ingest(tk)
	}
	closed, _ := a.Flush()
	if closed.Volume != 15 {
		t.Errorf("Volume = %d, want 15 (summed qty fallback)", closed.Volume)
	}
}

func TestCloseIfElapsed(t *testing.T) {
	a := New("53001", "NFO", time.Minute)

	a.Ingest(tick(100, base))
	if _, ok := a.CloseIfElapsed(base.Add(30 * time.Second)); ok {
		t.Fatal("candle closed before its interval elapsed")
	}
	closed, ok := a.CloseIfElapsed(base.Add(time.Minute))
	if !ok {
		t.Fatal("expected close after interval elapsed")
	}
	if closed.Close != 100 {
		t.Errorf("Close = %d, want 100", closed.Close)
	}
	// Nothing forming afterwards.
	if _, ok := a.CloseIfElapsed(base.Add(2 * time.Minute)); ok {
		t.Fatal("second CloseIfElapsed should be a no-op")
	}
}

func TestRun_PipelineClosesCandles(t *testing.T) {
	a := New("53001", "NFO", time.Minute)
	tickCh := make(chan model.Tick, 16)
	candleCh := make(chan model.Candle, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	tickCh <- tick(100, base)
	tickCh <- tick(105, base.Add(20*time.Second))
	tickCh <- tick(98, base.Add(time.Minute)) // rollover

	var closed model.Candle
	select {
	case closed = <-candleCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for closed candle")
	}
	if closed.Open != 100 || closed.High != 105 || closed.Close != 105 {
		t.Errorf("unexpected candle %+v", closed)
	}

	cancel()
	<-done
}
