// Package config loads the agent's configuration from environment
// variables. Broker credentials are required when trading mode needs
// them; everything else has a sensible default.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all agent configuration.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Instrument
	InstrumentToken string
	Exchange        string
	TradingSymbol   string

	// Candles and indicator
	CandleInterval time.Duration
	RSIPeriod      int

	// Strategy parameters. Prices in paise.
	RSIUpper         float64
	RSILower         float64
	MaxAlertRange    int64
	TargetOffset     int64
	Qty              int64
	CancelOnReversal bool

	// Session times (IST, "HH:MM")
	SessionOpen   string
	SessionClose  string
	SessionCutoff string

	// Execution
	TradingMode string // off | paper | live
	SlippageBps int64

	// Persistence
	WindowPath  string
	LedgerPath  string
	JournalPath string

	// Historical pre-seed
	PreseedDays int

	// Connection resilience
	ReconnectBackoff time.Duration
	StaleTickTimeout time.Duration

	// Infrastructure (optional)
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string

	// Notifications (optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from the environment. Missing required
// variables are fatal; this runs before anything touches the market.
func Load() *Config {
	return &Config{
		AngelAPIKey:     mustEnv("ANGEL_API_KEY"),
		AngelClientCode: mustEnv("ANGEL_CLIENT_CODE"),
		AngelPassword:   mustEnv("ANGEL_PASSWORD"),
		AngelTOTPSecret: mustEnv("ANGEL_TOTP_SECRET"),

		InstrumentToken: mustEnv("INSTRUMENT_TOKEN"),
		Exchange:        getEnv("EXCHANGE", "NFO"),
		TradingSymbol:   getEnv("TRADING_SYMBOL", ""),

		CandleInterval: secondsEnv("CANDLE_INTERVAL_SEC", 300),
		RSIPeriod:      intEnv("RSI_PERIOD", 14),

		RSIUpper:         floatEnv("RSI_UPPER", 60),
		RSILower:         floatEnv("RSI_LOWER", 40),
		MaxAlertRange:    int64Env("MAX_ALERT_RANGE_PAISE", 4000),
		TargetOffset:     int64Env("TARGET_OFFSET_PAISE", 1000),
		Qty:              int64Env("QTY", 1),
		CancelOnReversal: boolEnv("STRAT_CANCEL_ON_REVERSAL", false),

		SessionOpen:   getEnv("SESSION_OPEN", "09:15"),
		SessionClose:  getEnv("SESSION_CLOSE", "15:30"),
		SessionCutoff: getEnv("SESSION_CUTOFF", "15:25"),

		TradingMode: getEnv("TRADING_MODE", "paper"),
		SlippageBps: int64Env("SLIPPAGE_BPS", 0),

		WindowPath:  getEnv("WINDOW_PATH", "data/window.json"),
		LedgerPath:  getEnv("LEDGER_PATH", "data/paper_trades.json"),
		JournalPath: getEnv("JOURNAL_PATH", "data/journal.db"),

		PreseedDays: intEnv("HIST_PRESEED_DAYS", 3),

		ReconnectBackoff: secondsEnv("RECONNECT_BACKOFF_SEC", 5),
		StaleTickTimeout: secondsEnv("STALE_TICK_TIMEOUT_SEC", 60),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

// Validate checks cross-field constraints Load cannot.
func (c *Config) Validate() error {
	if c.RSIPeriod < 2 {
		return fmt.Errorf("RSI_PERIOD must be at least 2, got %d", c.RSIPeriod)
	}
	if c.RSILower >= c.RSIUpper {
		return fmt.Errorf("RSI_LOWER (%.1f) must be below RSI_UPPER (%.1f)", c.RSILower, c.RSIUpper)
	}
	if c.MaxAlertRange <= 0 || c.TargetOffset <= 0 || c.Qty <= 0 {
		return fmt.Errorf("MAX_ALERT_RANGE_PAISE, TARGET_OFFSET_PAISE and QTY must be positive")
	}
	if c.TradingMode == "live" && c.TradingSymbol == "" {
		return fmt.Errorf("TRADING_SYMBOL is required in live mode")
	}
	return nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid integer %q", key, v)
	}
	return n
}

func int64Env(key string, fallback int64) int64 {
	return int64(intEnv(key, int(fallback)))
}

func floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("[config] %s: invalid number %q", key, v)
	}
	return f
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid boolean %q", key, v)
	}
	return b
}

func secondsEnv(key string, fallbackSec int) time.Duration {
	return time.Duration(intEnv(key, fallbackSec)) * time.Second
}
