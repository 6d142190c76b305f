// Package redis mirrors the agent's market state into Redis so dashboards
// and sibling processes can observe it: closed candles go to a trimmed
// stream, the latest candle / LTP / RSI to plain keys, and everything is
// also published for real-time subscribers. The agent never reads any of
// this back; Redis being down degrades observability, not trading.
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"intradaybot/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: a full session of 5m candles is 75; keep a few days.
	streamMaxLen     = 400
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes candles, ticks, and indicator values to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Run consumes closed candles and publishes each one. Blocks until ctx is
// cancelled or candleCh is closed. Publish errors are logged, never fatal.
func (p *Publisher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			p.publishCandle(ctx, c)
		}
	}
}

// publishCandle performs the pipelined XADD + SET + PUBLISH for one candle.
func (p *Publisher) publishCandle(ctx context.Context, c model.Candle) {
	interval := strconv.FormatInt(int64(c.EndTS.Sub(c.TS)/time.Second), 10)
	streamKey := "candle:" + interval + "s:" + c.Exchange + ":" + c.Token
	latestKey := "candle:" + interval + "s:latest:" + c.Exchange + ":" + c.Token
	pubsubCh := "pub:candle:" + interval + "s:" + c.Exchange + ":" + c.Token
	jsonData := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", c.Key(), err)
	}
}

// PublishLTP writes the last traded price key. Called from the tick fan-out
// at a throttled rate, not per tick.
func (p *Publisher) PublishLTP(ctx context.Context, t model.Tick) {
	key := "ltp:" + t.Exchange + ":" + t.Token
	if err := p.client.Set(ctx, key, strconv.FormatInt(t.Price, 10), defaultLatestTTL).Err(); err != nil {
		log.Printf("[redis] ltp set error for %s: %v", key, err)
	}
}

// PublishRSI writes the latest confirmed RSI value and publishes it.
func (p *Publisher) PublishRSI(ctx context.Context, exchange, token string, period int, value float64, ts time.Time) {
	payload := fmt.Sprintf(`{"period":%d,"value":%.4f,"ts":%d}`, period, value, ts.Unix())
	key := "ind:rsi:latest:" + exchange + ":" + token
	pubsubCh := "pub:ind:rsi:" + exchange + ":" + token

	pipe := p.client.Pipeline()
	pipe.Set(ctx, key, payload, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] rsi pipeline error for %s: %v", key, err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
