package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pricetracker/internal/broadcast"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
	"pricetracker/internal/provider/mock"
)

func TestFetchOne(t *testing.T) {
	t.Parallel()

	// Arrange: a provider that only knows SOL
	ctrl := gomock.NewController(t)
	p := mock.NewMockProvider(ctrl)
	sol := price.NewQuote(price.SOL, decimal.NewFromInt(150), "mock")
	p.EXPECT().Name().Return("mock").AnyTimes()
	p.EXPECT().
		FetchPrices(gomock.Any(), []price.Asset{price.SOL}).
		Return(map[price.Asset]price.Quote{price.SOL: sol}, nil)
	p.EXPECT().
		FetchPrices(gomock.Any(), []price.Asset{price.BTC}).
		Return(map[price.Asset]price.Quote{price.SOL: sol}, nil)

	// Act + Assert
	got, err := provider.FetchOne(t.Context(), p, price.SOL)
	require.NoError(t, err)
	require.Equal(t, sol, got)

	_, err = provider.FetchOne(t.Context(), p, price.BTC)
	require.ErrorIs(t, err, provider.ErrInvalidResponse)
}

func TestEmit(t *testing.T) {
	t.Parallel()

	store := price.NewStore([]price.Asset{price.SOL})
	hub := broadcast.New[price.Quote](4)
	sub := hub.Subscribe()

	require.True(t, provider.Emit(store, hub, price.NewQuote(price.SOL, decimal.NewFromInt(1), "x")))
	require.False(t, provider.Emit(store, hub, price.NewQuote(price.BTC, decimal.NewFromInt(1), "x")))

	q, err := sub.Recv(t.Context())
	require.NoError(t, err)
	require.Equal(t, price.SOL, q.Asset)
	_, ok, _ := sub.TryRecv()
	require.False(t, ok)
}

func TestError_KindsMatch(t *testing.T) {
	t.Parallel()

	cause := context.DeadlineExceeded
	err := provider.TimedOut("coingecko", cause)
	require.ErrorIs(t, err, provider.ErrTimeout)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, provider.ErrNetwork)
	require.Equal(t, "coingecko: timeout: context deadline exceeded", err.Error())

	require.ErrorIs(t, provider.RateLimited("x"), provider.ErrRateLimited)
	require.ErrorIs(t, provider.Network("x", errors.New("reset")), provider.ErrNetwork)
	require.Equal(t, "x: invalid response: bad body", provider.InvalidResponse("x", "bad %s", "body").Error())
}

func TestPullOnly(t *testing.T) {
	t.Parallel()

	var p provider.PullOnly
	require.False(t, p.IsStreaming())
	require.ErrorIs(t, p.StartStreaming(t.Context(), nil, nil), provider.ErrNotStreaming)
}

func TestWithFresh(t *testing.T) {
	t.Parallel()

	require.False(t, provider.WantsFresh(t.Context()))
	require.True(t, provider.WantsFresh(provider.WithFresh(t.Context())))
}
