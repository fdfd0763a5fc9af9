package redissink_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/config"
	"pricetracker/internal/price"
	"pricetracker/internal/sink/redissink"
)

func newMirror(t *testing.T) (*redissink.Mirror, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Default().Redis
	cfg.Addr = mr.Addr()
	return redissink.New(client, cfg), mr, client
}

func TestMirror_WriteStoresQuoteWithTTL(t *testing.T) {
	t.Parallel()

	// Arrange
	m, mr, _ := newMirror(t)
	q := price.NewQuote(price.SOL, decimal.RequireFromString("150.25"), "hermes")

	// Act
	err := m.Write(t.Context(), q)

	// Assert
	require.NoError(t, err)
	assert.True(t, mr.Exists("prices:latest:SOL"))
	assert.Equal(t, 10*time.Minute, mr.TTL("prices:latest:SOL"))

	got, ok, err := m.Latest(t.Context(), price.SOL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, q.USD.Equal(got.USD))
	assert.Equal(t, "hermes", got.Source)
	assert.True(t, q.Timestamp.Equal(got.Timestamp))
}

func TestMirror_LatestMissingKey(t *testing.T) {
	t.Parallel()

	m, _, _ := newMirror(t)

	_, ok, err := m.Latest(t.Context(), price.BTC)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMirror_WritePublishes(t *testing.T) {
	t.Parallel()

	// Arrange
	m, _, client := newMirror(t)
	ps := client.Subscribe(t.Context(), "prices")
	t.Cleanup(func() { _ = ps.Close() })
	_, err := ps.Receive(t.Context()) // subscription confirmation
	require.NoError(t, err)

	// Act
	require.NoError(t, m.Write(t.Context(), price.NewQuote(price.ETH, decimal.NewFromInt(3000), "coingecko")))

	// Assert
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got price.Quote
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, price.ETH, got.Asset)
	assert.Equal(t, "3000", got.USD.String())
}

func TestMirror_RunMirrorsUntilHubCloses(t *testing.T) {
	t.Parallel()

	// Arrange
	m, mr, _ := newMirror(t)
	hub := broadcast.New[price.Quote](8)
	sub := hub.Subscribe()

	done := make(chan error, 1)
	go func() { done <- m.Run(t.Context(), sub) }()

	// Act
	hub.Publish(price.NewQuote(price.SOL, decimal.NewFromInt(150), "hyperliquid"))
	hub.Publish(price.NewQuote(price.BTC, decimal.NewFromInt(60000), "hyperliquid"))
	hub.Close()

	// Assert
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after hub closed")
	}
	assert.True(t, mr.Exists("prices:latest:SOL"))
	assert.True(t, mr.Exists("prices:latest:BTC"))
}

func TestMirror_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	m, _, _ := newMirror(t)
	hub := broadcast.New[price.Quote](8)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := m.Run(ctx, hub.Subscribe())

	require.NoError(t, err)
	assert.Zero(t, hub.Receivers())
}

func TestDial(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := config.Default().Redis

	t.Run("reachable", func(t *testing.T) {
		cfg := cfg
		cfg.Addr = mr.Addr()
		client, err := redissink.Dial(t.Context(), cfg)
		require.NoError(t, err)
		assert.NoError(t, client.Close())
	})

	t.Run("unreachable", func(t *testing.T) {
		cfg := cfg
		cfg.Addr = "127.0.0.1:1"
		_, err := redissink.Dial(t.Context(), cfg)
		assert.Error(t, err)
	})
}
