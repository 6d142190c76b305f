// Command agent runs the intraday RSI trading agent: one instrument, one
// strategy session, ticks in and orders out.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"intradaybot/config"
	"intradaybot/internal/broker/smartapi"
	"intradaybot/internal/connmgr"
	"intradaybot/internal/execution"
	"intradaybot/internal/marketdata/agg"
	"intradaybot/internal/metrics"
	"intradaybot/internal/model"
	"intradaybot/internal/notification"
	"intradaybot/internal/report"
	"intradaybot/internal/sessionclock"
	filestore "intradaybot/internal/store/file"
	redisstore "intradaybot/internal/store/redis"
	sqlitestore "intradaybot/internal/store/sqlite"
	"intradaybot/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[agent] starting...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[agent] invalid config: %v", err)
	}
	mode, err := execution.ParseMode(cfg.TradingMode)
	if err != nil {
		log.Fatalf("[agent] %v", err)
	}
	log.Printf("[agent] instrument %s:%s interval=%v rsi=%d mode=%s",
		cfg.Exchange, cfg.InstrumentToken, cfg.CandleInterval, cfg.RSIPeriod, mode)

	clock, err := sessionclock.New(sessionclock.Config{
		Open:     cfg.SessionOpen,
		Close:    cfg.SessionClose,
		Cutoff:   cfg.SessionCutoff,
		Interval: cfg.CandleInterval,
	})
	if err != nil {
		log.Fatalf("[agent] session clock: %v", err)
	}

	// ---- Metrics and health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// ---- Persistence ----
	for _, p := range []string{cfg.WindowPath, cfg.LedgerPath, cfg.JournalPath} {
		os.MkdirAll(filepath.Dir(p), 0o755)
	}

	ckpt := filestore.NewCheckpointStore(cfg.WindowPath, 2*cfg.RSIPeriod)
	ledger, err := filestore.OpenLedger(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("[agent] ledger: %v", err)
	}

	journal, err := sqlitestore.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[agent] journal: %v", err)
	}
	defer journal.Close()

	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[agent] WARNING: redis init failed: %v (continuing without redis)", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- Broker session ----
	broker := smartapi.New(smartapi.Config{
		APIKey:     cfg.AngelAPIKey,
		ClientCode: cfg.AngelClientCode,
		Password:   cfg.AngelPassword,
		TOTPSecret: cfg.AngelTOTPSecret,
	})
	if err := broker.Login(ctx); err != nil {
		log.Fatalf("[agent] broker login: %v", err)
	}
	defer broker.Logout(context.Background())

	placer, err := execution.ForMode(mode, broker, cfg.TradingSymbol, cfg.SlippageBps)
	if err != nil {
		log.Fatalf("[agent] executor: %v", err)
	}

	// ---- Notifications ----
	channels := []notification.Notifier{notification.LogNotifier{}}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, notification.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, notification.NewWebhook(cfg.WebhookURL))
	}
	notify := notification.NewFanout(channels...)

	// ---- Strategy session ----
	session := strategy.NewSession(strategyConfig(cfg), clock, cfg.RSIPeriod, ckpt)
	session.OnAlert = func(a strategy.Alert) {
		prom.AlertsTotal.WithLabelValues(string(a.Direction)).Inc()
		notify.Notify(notification.AlertMessage(a))
	}
	session.OnIndicator = func(val float64, c model.Candle) {
		prom.RSIValue.Set(val)
		if publisher != nil {
			pubCtx, pubCancel := context.WithTimeout(ctx, 2*time.Second)
			publisher.PublishRSI(pubCtx, c.Exchange, c.Token, cfg.RSIPeriod, val, c.EndTS)
			pubCancel()
		}
	}
	session.OnPersistError = func(error) { prom.PersistErrors.Inc() }

	restoreState(ctx, cfg, broker, clock, ckpt, ledger, session)

	// Open-trade snapshot shared between the event consumer (writer) and
	// the tick fan-out (reader, for the live PnL gauge).
	var openTrade atomic.Pointer[model.Trade]
	if tr, ok := ledger.OpenTrade(); ok {
		openTrade.Store(&tr)
	}

	// ---- Trading-day gate ----
	if !waitForTradingDay(ctx, clock, sigCh, cancel) {
		log.Println("[agent] shutdown before session open")
		return
	}

	// ---- Pipeline channels ----
	rawTickCh := make(chan model.Tick, 10000)
	aggTickCh := make(chan model.Tick, 10000)
	strategyTickCh := make(chan model.Tick, 1000)
	candleCh := make(chan model.Candle, 100)
	strategyCandleCh := make(chan model.Candle, 100)

	// ---- Market data feed ----
	stream := smartapi.NewTickStream(broker, cfg.Exchange, cfg.InstrumentToken)
	manager := connmgr.New(stream, connmgr.Config{Backoff: cfg.ReconnectBackoff})
	manager.OnStateChange = func(s connmgr.State) {
		prom.FeedState.Set(float64(s))
		health.SetFeedConnected(s == connmgr.StateConnected)
		if s == connmgr.StateConnected && manager.Reconnects() > 0 {
			prom.FeedReconnects.Inc()
		}
	}

	aggregator := agg.New(cfg.InstrumentToken, cfg.Exchange, cfg.CandleInterval)
	aggregator.OnDroppedTick = func() { prom.DroppedTicks.Inc() }

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx, rawTickCh)
	}()

	// Tick fan-out: aggregator gets every tick, the strategy path sheds
	// load rather than stalling the candle pipeline.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(aggTickCh)
		var lastLTPPublish time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-rawTickCh:
				observeTick(prom, health, &openTrade, t)

				select {
				case aggTickCh <- t:
				case <-ctx.Done():
					return
				}
				select {
				case strategyTickCh <- t:
				default:
					prom.DroppedTicks.Inc()
				}
				if publisher != nil && time.Since(lastLTPPublish) >= time.Second {
					lastLTPPublish = time.Now()
					go publisher.PublishLTP(ctx, t)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(candleCh)
		aggregator.Run(ctx, aggTickCh, candleCh)
	}()

	// Candle fan-out: archive, publish, then feed the strategy.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(strategyCandleCh)
		for c := range candleCh {
			prom.CandlesTotal.Inc()
			if err := journal.RecordCandle(c); err != nil {
				log.Printf("[agent] candle archive failed: %v", err)
				prom.PersistErrors.Inc()
			}
			if publisher != nil {
				pubCtx, pubCancel := context.WithTimeout(ctx, 2*time.Second)
				publisher.Run(pubCtx, oneCandle(c))
				pubCancel()
			}
			select {
			case strategyCandleCh <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		session.Run(ctx, strategyCandleCh, strategyTickCh)
	}()

	// Trade event consumer: ledger, journal, broker order, notification.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for ev := range session.Events() {
			handleTradeEvent(ctx, ev, placer, ledger, journal, prom, notify, &openTrade)
		}
	}()

	// Stale-data watchdog: quiet feed during market hours means the
	// connection is wedged even if the socket looks open.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				last := health.LastTick()
				if last.IsZero() || !clock.IsSessionOpen(time.Now()) {
					continue
				}
				if time.Since(last) > cfg.StaleTickTimeout {
					log.Printf("[agent] no ticks for %v during market hours, forcing reconnect", time.Since(last).Round(time.Second))
					manager.RequestReconnect()
				}
			}
		}
	}()

	// ---- Signal loop ----
	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			log.Println("[agent] SIGHUP: reloading strategy parameters")
			newCfg := config.Load()
			if err := newCfg.Validate(); err != nil {
				log.Printf("[agent] reload rejected: %v", err)
				continue
			}
			session.Reload(strategyConfig(newCfg))
			continue
		}
		log.Printf("[agent] received %v, shutting down", sig)
		break
	}

	cancel()
	<-sessionDone  // session flushes its checkpoint on the way out
	<-consumerDone // remaining trade events are persisted
	wg.Wait()

	summary := report.Summarize(ledger.Trades(), time.Now().In(sessionclock.IST))
	log.Printf("[agent] day summary: %s", summary)
	notify.NotifySync(notification.Message{
		Level: notification.LevelInfo,
		Title: "day summary",
		Body:  summary.String(),
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Stop(shutdownCtx)
	shutdownCancel()
	log.Println("[agent] shutdown complete")
}

func strategyConfig(cfg *config.Config) strategy.Config {
	return strategy.Config{
		Token:            cfg.InstrumentToken,
		Exchange:         cfg.Exchange,
		Qty:              cfg.Qty,
		UpperThreshold:   cfg.RSIUpper,
		LowerThreshold:   cfg.RSILower,
		MaxAlertRange:    cfg.MaxAlertRange,
		TargetOffset:     cfg.TargetOffset,
		CancelOnReversal: cfg.CancelOnReversal,
	}
}

// restoreState rebuilds the session from the checkpoint, falls back to
// broker history, and resumes any trade the last run left open.
func restoreState(ctx context.Context, cfg *config.Config, broker *smartapi.Client,
	clock *sessionclock.Clock, ckpt *filestore.CheckpointStore, ledger *filestore.Ledger,
	session *strategy.Session) {

	st, err := ckpt.Load()
	if err != nil {
		log.Printf("[agent] checkpoint load: %v", err)
	}

	switch {
	case st.RSI != nil && len(st.Candles) > 0:
		session.RestoreCheckpoint(st.Candles, st.RSI)
		log.Printf("[agent] restored %d candles and indicator state from checkpoint", len(st.Candles))
	default:
		candles := mergeCandles(fetchHistory(ctx, cfg, broker, clock), st.Candles)
		if len(candles) > 0 {
			session.Seed(candles)
			log.Printf("[agent] pre-seeded indicator from %d candles (history + persisted window)", len(candles))
		} else {
			log.Println("[agent] starting cold: indicator warms up on live candles")
		}
	}

	if tr, ok := ledger.OpenTrade(); ok {
		session.RestoreOpenTrade(tr)
	}
}

// fetchHistory pulls recent candles from the broker for indicator warm-up.
func fetchHistory(ctx context.Context, cfg *config.Config, broker *smartapi.Client, clock *sessionclock.Clock) []model.Candle {
	if cfg.PreseedDays <= 0 {
		return nil
	}
	histCtx, histCancel := context.WithTimeout(ctx, 30*time.Second)
	defer histCancel()

	now := time.Now().In(sessionclock.IST)
	candles, err := broker.Candles(histCtx, smartapi.CandleParams{
		Exchange: cfg.Exchange,
		Token:    cfg.InstrumentToken,
		Interval: smartapi.IntervalName(cfg.CandleInterval),
		From:     now.AddDate(0, 0, -cfg.PreseedDays),
		To:       now,
	})
	if err != nil {
		log.Printf("[agent] historical pre-seed failed: %v (continuing cold)", err)
		return nil
	}

	// Only candles from completed buckets; the broker may return the
	// forming one during market hours.
	cutoff := clock.BucketStart(now)
	kept := candles[:0]
	for _, c := range candles {
		if c.TS.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	return kept
}

// observeTick updates feed liveness and the price gauges for one tick.
// Any arrival proves the feed is alive; the price gauges only move on a
// valid tick so a malformed packet cannot zero them.
func observeTick(prom *metrics.Metrics, health *metrics.HealthStatus, openTrade *atomic.Pointer[model.Trade], t model.Tick) {
	prom.TicksTotal.Inc()
	health.SetLastTickTime(time.Now())
	if !t.Valid() {
		return
	}
	prom.LastPrice.Set(float64(t.Price))
	if tr := openTrade.Load(); tr != nil {
		prom.OpenPnL.Set(float64((t.Price - tr.EntryPrice) * tr.Direction.Sign() * tr.Qty))
	}
}

// mergeCandles combines broker history with the persisted window, the
// persisted copy winning on a timestamp collision, sorted ascending.
func mergeCandles(history, persisted []model.Candle) []model.Candle {
	byTS := make(map[int64]model.Candle, len(history)+len(persisted))
	for _, c := range history {
		byTS[c.TS.Unix()] = c
	}
	for _, c := range persisted {
		byTS[c.TS.Unix()] = c
	}
	merged := make([]model.Candle, 0, len(byTS))
	for _, c := range byTS {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TS.Before(merged[j].TS) })
	return merged
}

func handleTradeEvent(ctx context.Context, ev strategy.Event, placer execution.Placer,
	ledger *filestore.Ledger, journal *sqlitestore.Journal, prom *metrics.Metrics,
	notify *notification.Fanout, openTrade *atomic.Pointer[model.Trade]) {

	tr := ev.Trade

	orderCtx, orderCancel := context.WithTimeout(ctx, 15*time.Second)
	orderID, err := placer.Place(orderCtx, ev)
	orderCancel()
	if err != nil {
		log.Printf("[agent] ORDER FAILED for %s: %v", tr.ID, err)
		notify.Notify(notification.Message{
			Level: notification.LevelCritical,
			Title: "order placement failed",
			Body:  tr.ID + ": " + err.Error(),
		})
	}
	if orderID != "" {
		tr.OrderID = orderID
	}

	if err := ledger.Update(tr); err != nil {
		log.Printf("[agent] ledger write failed for %s: %v", tr.ID, err)
		prom.PersistErrors.Inc()
	}

	switch ev.Kind {
	case strategy.EventEntry:
		openTrade.Store(&tr)
		prom.OpenPnL.Set(0)
	case strategy.EventExit:
		openTrade.Store(nil)
		prom.TradesTotal.WithLabelValues(tr.ExitReason).Inc()
		prom.OpenPnL.Set(0)
		if err := journal.RecordTrade(tr); err != nil {
			log.Printf("[agent] journal write failed for %s: %v", tr.ID, err)
			prom.PersistErrors.Inc()
		}
	}

	notify.Notify(notification.TradeMessage(ev))
}

// waitForTradingDay blocks until the clock says trading can happen,
// staying responsive to shutdown signals. Returns false on shutdown.
func waitForTradingDay(ctx context.Context, clock *sessionclock.Clock, sigCh <-chan os.Signal, cancel context.CancelFunc) bool {
	for {
		now := time.Now()
		if clock.IsTradingDay(now) {
			return true
		}
		next := clock.NextOpen(now)
		log.Printf("[agent] not a trading day, idling until %v", next)
		select {
		case <-time.After(time.Until(next)):
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				continue
			}
			cancel()
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// oneCandle wraps a single candle in a closed channel for the publisher's
// channel-driven API.
func oneCandle(c model.Candle) <-chan model.Candle {
	ch := make(chan model.Candle, 1)
	ch <- c
	close(ch)
	return ch
}
