package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

type namedProvider struct {
	fixedProvider
	name string
}

func (p namedProvider) Name() string { return p.name }

func TestFetchEach_ReportsEveryProvider(t *testing.T) {
	t.Parallel()

	// Arrange
	ps := []provider.Provider{
		namedProvider{fixedProvider{usd: 10}, "a"},
		namedProvider{fixedProvider{err: errors.New("refused")}, "b"},
	}

	// Act
	rows := fetchEach(t.Context(), ps, []price.Asset{price.BTC, price.SOL})

	// Assert
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Provider)
	require.Len(t, rows[0].Quotes, 2)
	assert.Equal(t, price.BTC, rows[0].Quotes[0].Asset, "quotes keep the requested order")
	assert.Equal(t, "b", rows[1].Provider)
	assert.Equal(t, "refused", rows[1].Error)
}

func TestPrintRows(t *testing.T) {
	t.Parallel()

	rows := []fetchRow{
		{Provider: "hermes", Quotes: []price.Quote{price.NewQuote(price.SOL, decimal.RequireFromString("150.25"), "hermes")}},
		{Provider: "coingecko", Error: "rate limited"},
	}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRows(&buf, rows, false))
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "PROVIDER"))
		assert.Contains(t, out, "150.25")
		assert.Contains(t, out, "error: rate limited")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRows(&buf, rows, true))
		assert.Contains(t, buf.String(), `"price_usd": "150.25"`)
		assert.Contains(t, buf.String(), `"error": "rate limited"`)
	})
}

func TestPrintEvents_StopsWhenHubCloses(t *testing.T) {
	t.Parallel()

	// Arrange
	hub := broadcast.New[price.Event](8)
	sub := hub.Subscribe()
	hub.Publish(price.UpdatedEvent(price.NewQuote(price.ETH, decimal.NewFromInt(3000), "hyperliquid"), nil))
	hub.Publish(price.StatusEvent("hyperliquid", price.ProviderUnavailable, "stream lost"))
	hub.Close()

	// Act
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	err := printEvents(ctx, &buf, sub, false)

	// Assert
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Price updated: ETH = $3000.00")
	assert.Contains(t, out, "Provider hyperliquid status: unavailable")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	for _, name := range []string{"serve", "fetch", "watch"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestPrintComparison(t *testing.T) {
	t.Parallel()

	// Arrange
	rows := fetchEach(t.Context(), []provider.Provider{
		namedProvider{fixedProvider{usd: 100}, "a"},
		namedProvider{fixedProvider{usd: 102}, "b"},
	}, []price.Asset{price.SOL})

	// Act
	var buf bytes.Buffer
	err := printComparison(&buf, rows, false)

	// Assert
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "MEDIAN_USD")
	assert.Regexp(t, `SOL\s+101\s+1\.9802`, out)
}
