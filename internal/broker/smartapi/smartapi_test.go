package smartapi

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intradaybot/internal/model"
)

func buildLTPPacket(token string, tsMillis, price int64) []byte {
	b := make([]byte, ltpPacketLen)
	b[0] = modeLTP
	b[1] = 2 // NFO
	copy(b[tokenFieldStart:tokenFieldEnd], token)
	binary.LittleEndian.PutUint64(b[tsFieldStart:tsFieldEnd], uint64(tsMillis))
	binary.LittleEndian.PutUint64(b[ltpFieldStart:ltpFieldEnd], uint64(price))
	return b
}

func TestParseLTPPacket(t *testing.T) {
	ts := time.Date(2026, 7, 1, 4, 45, 0, 0, time.UTC) // 10:15 IST
	pkt := buildLTPPacket("53001", ts.UnixMilli(), 1006500)

	tick, err := ParseLTPPacket(pkt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tick.Token != "53001" {
		t.Errorf("token = %q, want 53001 (null padding stripped)", tick.Token)
	}
	if tick.Price != 1006500 {
		t.Errorf("price = %d, want 1006500", tick.Price)
	}
	if !tick.TickTS.Equal(ts) {
		t.Errorf("ts = %v, want %v", tick.TickTS, ts)
	}
}

func TestParseLTPPacketTooShort(t *testing.T) {
	if _, err := ParseLTPPacket(make([]byte, 20)); err == nil {
		t.Error("want error for truncated packet")
	}
}

func TestRupeesToPaise(t *testing.T) {
	cases := []struct {
		rupees float64
		paise  int64
	}{
		{100.0, 10000},
		{100.05, 10005},
		{0.01, 1},
		{23612.35, 2361235},
		{99.999, 10000}, // rounds
	}
	for _, tc := range cases {
		if got := RupeesToPaise(tc.rupees); got != tc.paise {
			t.Errorf("RupeesToPaise(%v) = %d, want %d", tc.rupees, got, tc.paise)
		}
	}
}

func TestParseCandleRow(t *testing.T) {
	raw := `["2026-07-01T10:00:00+05:30", 236.10, 236.75, 235.90, 236.50, 12500]`
	var row []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		t.Fatal(err)
	}

	c, err := parseCandleRow(row, "NFO", "53001", 5*time.Minute)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Open != 23610 || c.High != 23675 || c.Low != 23590 || c.Close != 23650 {
		t.Errorf("ohlc = %d/%d/%d/%d, want paise 23610/23675/23590/23650", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 12500 {
		t.Errorf("volume = %d, want 12500", c.Volume)
	}
	if !c.EndTS.Equal(c.TS.Add(5 * time.Minute)) {
		t.Errorf("end = %v, want ts+5m", c.EndTS)
	}
	if !c.Valid() {
		t.Error("parsed candle failed validation")
	}
}

func TestParseCandleRowMalformed(t *testing.T) {
	var row []json.RawMessage
	json.Unmarshal([]byte(`["2026-07-01T10:00:00+05:30", 236.10]`), &row)
	if _, err := parseCandleRow(row, "NFO", "53001", 5*time.Minute); err == nil {
		t.Error("want error for short row")
	}
}

func TestLoginSetsTokensAndHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if r.URL.Path != routeLogin {
			t.Errorf("path = %s, want %s", r.URL.Path, routeLogin)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["clientcode"] != "A123456" {
			t.Errorf("clientcode = %q", body["clientcode"])
		}
		if body["totp"] == "" {
			t.Error("totp code missing from login body")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]string{
				"jwtToken":  "jwt-abc",
				"feedToken": "feed-xyz",
			},
		})
	}))
	defer srv.Close()

	c := New(Config{
		APIKey:     "key1",
		ClientCode: "A123456",
		Password:   "1234",
		TOTPSecret: "JBSWY3DPEHPK3PXP",
		BaseURL:    srv.URL,
	})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.AccessToken() != "jwt-abc" || c.FeedToken() != "feed-xyz" {
		t.Errorf("tokens = %q/%q", c.AccessToken(), c.FeedToken())
	}
	if gotHeaders.Get("X-PrivateKey") != "key1" {
		t.Errorf("X-PrivateKey = %q", gotHeaders.Get("X-PrivateKey"))
	}
	if gotHeaders.Get("X-UserType") != "USER" || gotHeaders.Get("X-SourceID") != "WEB" {
		t.Errorf("identity headers = %q/%q", gotHeaders.Get("X-UserType"), gotHeaders.Get("X-SourceID"))
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":    false,
			"message":   "Invalid totp",
			"errorcode": "AB1050",
		})
	}))
	defer srv.Close()

	c := New(Config{
		ClientCode: "A123456",
		TOTPSecret: "JBSWY3DPEHPK3PXP",
		BaseURL:    srv.URL,
	})
	err := c.Login(context.Background())
	if err == nil {
		t.Fatal("want error for status=false response")
	}
}

func TestPlaceOrderBuildsMarketOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["transactiontype"] != "SELL" {
			t.Errorf("transactiontype = %q, want SELL", body["transactiontype"])
		}
		if body["ordertype"] != "MARKET" || body["producttype"] != "INTRADAY" {
			t.Errorf("order fields = %q/%q", body["ordertype"], body["producttype"])
		}
		if body["quantity"] != "50" {
			t.Errorf("quantity = %q, want 50", body["quantity"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]string{"orderid": "2407010001"},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	id, err := c.PlaceOrder(context.Background(), OrderParams{
		TradingSymbol: "NIFTY26JUL24000CE",
		Token:         "53001",
		Exchange:      "NFO",
		Side:          model.Short,
		Qty:           50,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if id != "2407010001" {
		t.Errorf("order id = %q", id)
	}
}
