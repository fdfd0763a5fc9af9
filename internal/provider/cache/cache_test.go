package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
	"pricetracker/internal/provider/cache"
	"pricetracker/internal/provider/mock"
)

func TestCache_FetchesOnlyMissing(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	sol := price.NewQuote(price.SOL, decimal.NewFromInt(150), "mock")
	btc := price.NewQuote(price.BTC, decimal.NewFromInt(60000), "mock")
	gomock.InOrder(
		inner.EXPECT().FetchPrices(gomock.Any(), []price.Asset{price.SOL}).
			Return(map[price.Asset]price.Quote{price.SOL: sol}, nil),
		inner.EXPECT().FetchPrices(gomock.Any(), []price.Asset{price.BTC}).
			Return(map[price.Asset]price.Quote{price.BTC: btc}, nil),
	)
	c := &cache.Provider{Provider: inner, TTL: time.Minute}

	// Act
	_, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)
	got, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL, price.BTC})

	// Assert
	require.NoError(t, err)
	require.Equal(t, sol, got[price.SOL])
	require.Equal(t, btc, got[price.BTC])
}

func TestCache_FreshContextGoesToSource(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	first := price.NewQuote(price.SOL, decimal.NewFromInt(150), "mock")
	second := price.NewQuote(price.SOL, decimal.NewFromInt(151), "mock")
	gomock.InOrder(
		inner.EXPECT().FetchPrices(gomock.Any(), []price.Asset{price.SOL}).
			Return(map[price.Asset]price.Quote{price.SOL: first}, nil),
		inner.EXPECT().FetchPrices(gomock.Any(), []price.Asset{price.SOL}).
			Return(map[price.Asset]price.Quote{price.SOL: second}, nil),
	)
	c := &cache.Provider{Provider: inner, TTL: time.Minute}
	_, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)

	// Act
	bypassed, err := c.FetchPrices(provider.WithFresh(t.Context()), []price.Asset{price.SOL})
	require.NoError(t, err)
	cached, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)

	// Assert
	require.Equal(t, second, bypassed[price.SOL])
	require.Equal(t, second, cached[price.SOL], "the bypassing fetch refreshed the cache")
}

func TestCache_Expiry(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	sol := price.NewQuote(price.SOL, decimal.NewFromInt(150), "mock")
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).
		Return(map[price.Asset]price.Quote{price.SOL: sol}, nil).Times(2)
	c := &cache.Provider{Provider: inner, TTL: 10 * time.Millisecond}

	_, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = c.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)
}

func TestCache_ErrorsPropagate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	sol := price.NewQuote(price.SOL, decimal.NewFromInt(150), "mock")
	down := provider.Network("mock", errors.New("down"))
	gomock.InOrder(
		inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).
			Return(map[price.Asset]price.Quote{price.SOL: sol}, nil),
		inner.EXPECT().FetchPrices(gomock.Any(), []price.Asset{price.BTC}).Return(nil, down),
	)
	c := &cache.Provider{Provider: inner, TTL: time.Minute}

	_, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)
	_, err = c.FetchPrices(t.Context(), []price.Asset{price.SOL, price.BTC})
	require.ErrorIs(t, err, provider.ErrNetwork)
}

func TestCache_MaxItems(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	all := map[price.Asset]price.Quote{
		price.SOL: price.NewQuote(price.SOL, decimal.NewFromInt(1), "mock"),
		price.BTC: price.NewQuote(price.BTC, decimal.NewFromInt(2), "mock"),
		price.ETH: price.NewQuote(price.ETH, decimal.NewFromInt(3), "mock"),
	}
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(all, nil)
	// Evicted entries are fetched again.
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Len(2)).Return(all, nil)
	c := &cache.Provider{Provider: inner, TTL: time.Minute, MaxItems: 1}

	got, err := c.FetchPrices(t.Context(), []price.Asset{price.SOL, price.BTC, price.ETH})
	require.NoError(t, err)
	require.Len(t, got, 3)

	_, err = c.FetchPrices(t.Context(), []price.Asset{price.SOL, price.BTC, price.ETH})
	require.NoError(t, err)
}
