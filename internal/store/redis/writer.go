// Package redis is the hot side of the store: latest prices, closed candles
// and journal events pushed to Redis so external gateways never touch the
// core or the sqlite file. Every write is best effort behind a circuit
// breaker; the durable record lives in sqlite.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	ltpTTL           = 5 * time.Minute
)

// Config configures the hot publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes prices, candles and events to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying client for health checks.
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
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishLTP refreshes the ltp:<symbol> key. Keys expire so a stalled feed
// reads as absent, not as a frozen price.
func (p *Publisher) PublishLTP(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	payload := fmt.Sprintf(`{"symbol":%q,"price":%q,"ts":%d}`, symbol, price.String(), ts.UnixMilli())
	return p.client.Set(ctx, "ltp:"+symbol, payload, ltpTTL).Err()
}

// PublishCandle writes a closed candle: SET the latest key and PUBLISH on the
// per-series channel, pipelined into one roundtrip.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) error {
	tf := c.TF.String()
	jsonData := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.Set(ctx, "candle:"+tf+":latest:"+c.Symbol, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:candle:"+tf+":"+c.Symbol, jsonData)
	_, err := pipe.Exec(ctx)
	return err
}

// eventJSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func eventJSON(ev model.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

// PublishEvent mirrors a persisted journal event on pub:event:<type> and the
// firehose channel. Called after the sqlite append succeeds, never before.
func (p *Publisher) PublishEvent(ctx context.Context, ev model.Event) error {
	jsonData := string(eventJSON(ev))

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, "pub:event:"+ev.Type, jsonData)
	pipe.Publish(ctx, "pub:event:all", jsonData)
	_, err := pipe.Exec(ctx)
	return err
}

// Run drains a candle channel into Redis until ctx is cancelled or the
// channel closes.
func (p *Publisher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := p.PublishCandle(ctx, c); err != nil {
				log.Printf("[redis] publish candle %s: %v", c.Key(), err)
			}
		}
	}
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
