// Package smartapi is a minimal Angel One SmartAPI client: session login
// with TOTP, historical candles, LTP quotes, order placement, and the
// market data websocket. Only the endpoints the agent actually calls are
// implemented; responses are typed, not generic maps.
package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"intradaybot/internal/model"

	"github.com/pquerna/otp/totp"
)

const (
	defaultBaseURL = "https://apiconnect.angelone.in"
	defaultTimeout = 7 * time.Second

	routeLogin      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeCandleData = "/rest/secure/angelbroking/historical/v1/getCandleData"
	routeLTPData    = "/rest/secure/angelbroking/order/v1/getLtpData"
	routePlaceOrder = "/rest/secure/angelbroking/order/v1/placeOrder"
	routeLogout     = "/rest/secure/angelbroking/user/v1/logout"
)

// Config holds API credentials. TOTPSecret is the base32 seed, not a code.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	BaseURL string        // default apiconnect.angelone.in
	Timeout time.Duration // default 7s

	// Identification headers the API requires. Zero values get fallbacks.
	ClientLocalIP  string
	ClientPublicIP string
	MACAddress     string
}

// Client is a SmartAPI REST client. Safe for concurrent use after Login.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client

	mu          sync.RWMutex
	accessToken string
	feedToken   string
}

// New creates a Client. Login must be called before authenticated calls.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = "127.0.0.1"
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "127.0.0.1"
	}
	if cfg.MACAddress == "" {
		cfg.MACAddress = "00:11:22:33:44:55"
	}
	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiResponse is the common SmartAPI envelope.
type apiResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// Login generates a session: computes the current TOTP code and exchanges
// credentials for JWT and feed tokens.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("totp generate: %w", err)
	}

	var data struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	err = c.post(ctx, routeLogin, map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	}, &data)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if data.JWTToken == "" {
		return fmt.Errorf("login: empty jwt token in response")
	}

	c.mu.Lock()
	c.accessToken = data.JWTToken
	c.feedToken = data.FeedToken
	c.mu.Unlock()

	log.Printf("[smartapi] session established for %s", c.cfg.ClientCode)
	return nil
}

// Logout terminates the session. Best effort on shutdown.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, routeLogout, map[string]string{"clientcode": c.cfg.ClientCode}, nil)
}

// FeedToken returns the websocket feed token from the last login.
func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

// AccessToken returns the session JWT from the last login.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// APIKey returns the configured API key (the websocket needs it too).
func (c *Client) APIKey() string { return c.cfg.APIKey }

// ClientCode returns the configured client code.
func (c *Client) ClientCode() string { return c.cfg.ClientCode }

// CandleParams selects a historical candle range. Interval is a SmartAPI
// interval name, e.g. "FIVE_MINUTE".
type CandleParams struct {
	Exchange string
	Token    string
	Interval string
	From     time.Time
	To       time.Time
}

// Candles fetches historical candles. The API returns rupee floats; they
// are converted to paise on the way in.
func (c *Client) Candles(ctx context.Context, p CandleParams) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	err := c.post(ctx, routeCandleData, map[string]string{
		"exchange":    p.Exchange,
		"symboltoken": p.Token,
		"interval":    p.Interval,
		"fromdate":    p.From.Format("2006-01-02 15:04"),
		"todate":      p.To.Format("2006-01-02 15:04"),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("candle data: %w", err)
	}

	interval := intervalDuration(p.Interval)
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c2, err := parseCandleRow(row, p.Exchange, p.Token, interval)
		if err != nil {
			log.Printf("[smartapi] skipping malformed candle row: %v", err)
			continue
		}
		candles = append(candles, c2)
	}
	return candles, nil
}

// parseCandleRow decodes one ["2026-07-01T10:00:00+05:30", o, h, l, c, v]
// row into a paise candle.
func parseCandleRow(row []json.RawMessage, exchange, token string, interval time.Duration) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("row has %d fields, want 6", len(row))
	}
	var tsStr string
	if err := json.Unmarshal(row[0], &tsStr); err != nil {
		return model.Candle{}, fmt.Errorf("timestamp: %w", err)
	}
	ts, err := time.Parse("2006-01-02T15:04:05-07:00", tsStr)
	if err != nil {
		return model.Candle{}, fmt.Errorf("timestamp %q: %w", tsStr, err)
	}

	var ohlcv [5]float64
	for i := 0; i < 5; i++ {
		if err := json.Unmarshal(row[i+1], &ohlcv[i]); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}

	return model.Candle{
		Token:    token,
		Exchange: exchange,
		TS:       ts,
		EndTS:    ts.Add(interval),
		Open:     RupeesToPaise(ohlcv[0]),
		High:     RupeesToPaise(ohlcv[1]),
		Low:      RupeesToPaise(ohlcv[2]),
		Close:    RupeesToPaise(ohlcv[3]),
		Volume:   int64(ohlcv[4]),
	}, nil
}

// intervalDuration maps SmartAPI interval names to durations.
func intervalDuration(name string) time.Duration {
	switch name {
	case "ONE_MINUTE":
		return time.Minute
	case "THREE_MINUTE":
		return 3 * time.Minute
	case "FIVE_MINUTE":
		return 5 * time.Minute
	case "TEN_MINUTE":
		return 10 * time.Minute
	case "FIFTEEN_MINUTE":
		return 15 * time.Minute
	case "THIRTY_MINUTE":
		return 30 * time.Minute
	case "ONE_HOUR":
		return time.Hour
	case "ONE_DAY":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// IntervalName maps a candle duration to the SmartAPI interval name.
func IntervalName(d time.Duration) string {
	switch d {
	case time.Minute:
		return "ONE_MINUTE"
	case 3 * time.Minute:
		return "THREE_MINUTE"
	case 5 * time.Minute:
		return "FIVE_MINUTE"
	case 10 * time.Minute:
		return "TEN_MINUTE"
	case 15 * time.Minute:
		return "FIFTEEN_MINUTE"
	case 30 * time.Minute:
		return "THIRTY_MINUTE"
	case time.Hour:
		return "ONE_HOUR"
	default:
		return "FIVE_MINUTE"
	}
}

// LTP fetches the last traded price in paise.
func (c *Client) LTP(ctx context.Context, exchange, symbol, token string) (int64, error) {
	var data struct {
		LTP float64 `json:"ltp"`
	}
	err := c.post(ctx, routeLTPData, map[string]string{
		"exchange":      exchange,
		"tradingsymbol": symbol,
		"symboltoken":   token,
	}, &data)
	if err != nil {
		return 0, fmt.Errorf("ltp data: %w", err)
	}
	return RupeesToPaise(data.LTP), nil
}

// OrderParams describes a market order.
type OrderParams struct {
	TradingSymbol string
	Token         string
	Exchange      string
	Side          model.Direction // Long → BUY, Short → SELL
	Qty           int64
}

// PlaceOrder places an intraday market order and returns the order ID.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	side := "BUY"
	if p.Side == model.Short {
		side = "SELL"
	}

	var data struct {
		OrderID string `json:"orderid"`
	}
	err := c.post(ctx, routePlaceOrder, map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   p.TradingSymbol,
		"symboltoken":     p.Token,
		"transactiontype": side,
		"exchange":        p.Exchange,
		"ordertype":       "MARKET",
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        strconv.FormatInt(p.Qty, 10),
	}, &data)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if data.OrderID == "" {
		return "", fmt.Errorf("place order: empty order id in response")
	}
	return data.OrderID, nil
}

// post sends an authenticated JSON POST and decodes the envelope's data
// field into out (which may be nil).
func (c *Client) post(ctx context.Context, route string, params map[string]string, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http post %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Status {
		return fmt.Errorf("api error %s: %s", envelope.ErrorCode, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse data: %w", err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-ClientLocalIP", c.cfg.ClientLocalIP)
	req.Header.Set("X-ClientPublicIP", c.cfg.ClientPublicIP)
	req.Header.Set("X-MACAddress", c.cfg.MACAddress)
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	if tok := c.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// RupeesToPaise converts a rupee float to int64 paise, rounding to the
// nearest paisa.
func RupeesToPaise(r float64) int64 {
	return int64(math.Round(r * 100))
}
