package smartapi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"intradaybot/internal/model"

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL      = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatMessage  = "ping"
	heartbeatInterval = 10 * time.Second

	subscribeAction = 1
	modeLTP         = 1

	// LTP packet layout (little-endian): mode, exchange type, padded
	// token, sequence, exchange timestamp (ms), last traded price (paise).
	ltpPacketLen    = 51
	tokenFieldStart = 2
	tokenFieldEnd   = 27
	tsFieldStart    = 35
	tsFieldEnd      = 43
	ltpFieldStart   = 43
	ltpFieldEnd     = 51
)

// exchangeTypes maps exchange names to SmartAPI websocket exchange codes.
var exchangeTypes = map[string]int{
	"NSE": 1,
	"NFO": 2,
	"BSE": 3,
	"BFO": 4,
	"MCX": 5,
	"CDS": 13,
}

// TickStream is the SmartAPI market data websocket for one instrument,
// shaped as a connmgr.Stream: Connect dials and subscribes, ReadTick
// yields parsed LTP ticks, Close tears the socket down.
type TickStream struct {
	client   *Client
	wsURL    string
	token    string
	exchange string

	mu     sync.Mutex
	conn   *websocket.Conn
	hbStop chan struct{}
}

// NewTickStream creates a stream for the given instrument. The client must
// be logged in before Connect (the dial headers carry its tokens).
func NewTickStream(client *Client, exchange, token string) *TickStream {
	return &TickStream{
		client:   client,
		wsURL:    defaultWSURL,
		token:    token,
		exchange: exchange,
	}
}

// Connect dials the feed, subscribes in LTP mode, and starts the
// heartbeat. The ctx bounds the dial only; the connection outlives it.
func (s *TickStream) Connect(ctx context.Context) error {
	etype, ok := exchangeTypes[s.exchange]
	if !ok {
		return fmt.Errorf("unknown exchange %q", s.exchange)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.client.AccessToken())
	header.Set("x-api-key", s.client.APIKey())
	header.Set("x-client-code", s.client.ClientCode())
	header.Set("x-feed-token", s.client.FeedToken())

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, resp, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ws dial: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("ws dial: %w", err)
	}

	sub := map[string]any{
		"correlationID": "intradaybot",
		"action":        subscribeAction,
		"params": map[string]any{
			"mode": modeLTP,
			"tokenList": []map[string]any{
				{"exchangeType": etype, "tokens": []string{s.token}},
			},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("ws subscribe: %w", err)
	}

	hbStop := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.hbStop = hbStop
	s.mu.Unlock()

	go s.heartbeat(conn, hbStop)
	log.Printf("[smartapi] feed connected, subscribed %s:%s mode=LTP", s.exchange, s.token)
	return nil
}

// heartbeat keeps the feed alive; the server drops silent clients.
func (s *TickStream) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte(heartbeatMessage))
			s.mu.Unlock()
			if err != nil {
				log.Printf("[smartapi] heartbeat write failed: %v", err)
				return
			}
		}
	}
}

// ReadTick blocks until the next LTP packet. Text frames (pong, ack JSON)
// are skipped. Returns an error once the connection is down.
func (s *TickStream) ReadTick() (model.Tick, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return model.Tick{}, errors.New("not connected")
	}

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return model.Tick{}, fmt.Errorf("ws read: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		t, err := ParseLTPPacket(msg)
		if err != nil {
			log.Printf("[smartapi] dropping unparseable packet (%d bytes): %v", len(msg), err)
			continue
		}
		t.Exchange = s.exchange
		return t, nil
	}
}

// Close shuts the connection down and stops the heartbeat. Idempotent.
func (s *TickStream) Close() error {
	s.mu.Lock()
	conn := s.conn
	hbStop := s.hbStop
	s.conn = nil
	s.hbStop = nil
	s.mu.Unlock()

	if hbStop != nil {
		close(hbStop)
	}
	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

// ParseLTPPacket decodes a binary LTP-mode packet into a Tick. The feed
// already quotes prices in paise.
func ParseLTPPacket(b []byte) (model.Tick, error) {
	if len(b) < ltpPacketLen {
		return model.Tick{}, fmt.Errorf("packet too short: %d bytes", len(b))
	}

	token := b[tokenFieldStart:tokenFieldEnd]
	for i, c := range token {
		if c == 0 {
			token = token[:i]
			break
		}
	}

	tsMillis := int64(binary.LittleEndian.Uint64(b[tsFieldStart:tsFieldEnd]))
	price := int64(binary.LittleEndian.Uint64(b[ltpFieldStart:ltpFieldEnd]))

	return model.Tick{
		Token:  string(token),
		Price:  price,
		TickTS: time.UnixMilli(tsMillis).UTC(),
	}, nil
}
