// Package redissink mirrors tracker updates into Redis so that processes
// without their own tracker can read the latest prices.
//
// Each quote is written to <prefix>latest:<ASSET> as JSON with a TTL and
// published on a pub/sub channel.
package redissink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/config"
	"pricetracker/internal/price"
)

type Mirror struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
	logger  zerolog.Logger
}

type Option func(*Mirror)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

func New(client *redis.Client, cfg config.Redis, opts ...Option) *Mirror {
	m := &Mirror{
		client:  client,
		prefix:  cfg.KeyPrefix,
		channel: cfg.Channel,
		ttl:     cfg.TTL,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dial opens a client for cfg and checks it with PING.
func Dial(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (m *Mirror) key(a price.Asset) string {
	return m.prefix + "latest:" + string(a)
}

// Write stores q and announces it on the channel.
func (m *Mirror) Write(ctx context.Context, q price.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.key(q.Asset), data, m.ttl)
	if m.channel != "" {
		pipe.Publish(ctx, m.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", q.Asset, err)
	}
	return nil
}

// Latest reads back a mirrored quote. ok is false when the key is absent or
// expired.
func (m *Mirror) Latest(ctx context.Context, a price.Asset) (q price.Quote, ok bool, err error) {
	data, err := m.client.Get(ctx, m.key(a)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return q, false, nil
		}
		return q, false, fmt.Errorf("failed to get %s: %w", a, err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, false, fmt.Errorf("failed to unmarshal %s: %w", a, err)
	}
	return q, true, nil
}

// Run drains sub until ctx is done or the hub closes. Write failures are
// logged and do not stop the mirror.
func (m *Mirror) Run(ctx context.Context, sub *broadcast.Subscription[price.Quote]) error {
	defer sub.Close()
	for {
		q, err := sub.Recv(ctx)
		if err != nil {
			var lagged *broadcast.LaggedError
			switch {
			case errors.As(err, &lagged):
				m.logger.Warn().Uint64("missed", lagged.Missed).Msg("redis mirror lagged behind")
				continue
			case errors.Is(err, broadcast.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
		if err := m.Write(ctx, q); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error().Err(err).Str("asset", string(q.Asset)).Msg("redis mirror write failed")
		}
	}
}
