// Package metrics exposes the agent's Prometheus metrics and the
// /healthz endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading agent.
type Metrics struct {
	TicksTotal     prometheus.Counter
	DroppedTicks   prometheus.Counter
	CandlesTotal   prometheus.Counter
	FeedReconnects prometheus.Counter

	AlertsTotal *prometheus.CounterVec // labels: direction
	TradesTotal *prometheus.CounterVec // labels: exit_reason

	PersistErrors prometheus.Counter

	FeedState prometheus.Gauge // 0=disconnected, 1=connecting, 2=connected
	LastPrice prometheus.Gauge // paise
	RSIValue  prometheus.Gauge
	OpenPnL   prometheus.Gauge // paise, 0 when flat
}

// New registers and returns all agent metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_ticks_total",
			Help: "Total ticks received from the market data feed",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_dropped_ticks_total",
			Help: "Ticks dropped (invalid, late, or channel full)",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_candles_total",
			Help: "Total closed candles emitted by the aggregator",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_feed_reconnects_total",
			Help: "Times the market data connection was re-established",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_alerts_total",
			Help: "RSI crossover alerts armed (by direction)",
		}, []string{"direction"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_trades_total",
			Help: "Trades closed (by exit reason)",
		}, []string{"exit_reason"}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_persist_errors_total",
			Help: "Checkpoint or ledger write failures",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_feed_state",
			Help: "Feed connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_last_price_paise",
			Help: "Last traded price in paise",
		}),
		RSIValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_rsi_value",
			Help: "Latest confirmed RSI value",
		}),
		OpenPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_open_pnl_paise",
			Help: "Unrealized PnL of the open position in paise (0 when flat)",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.CandlesTotal,
		m.FeedReconnects,
		m.AlertsTotal,
		m.TradesTotal,
		m.PersistErrors,
		m.FeedState,
		m.LastPrice,
		m.RSIValue,
		m.OpenPnL,
	)
	return m
}

// HealthStatus tracks liveness of the agent's dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastTickTime   time.Time
	SessionState   string
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), SQLiteOK: true, RedisConnected: true}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessionState(s string) {
	h.mu.Lock()
	h.SessionState = s
	h.mu.Unlock()
}

// LastTick returns the time of the most recent tick. Used by the
// stale-data watchdog.
func (h *HealthStatus) LastTick() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.LastTickTime
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes. Either client may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.SQLiteOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		SessionState    string  `json:"session_state"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		SessionState:    h.SessionState,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
