package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pricetracker/internal/price"
	"pricetracker/internal/provider/mock"
	"pricetracker/internal/provider/ratelimit"
)

func quotes() map[price.Asset]price.Quote {
	return map[price.Asset]price.Quote{price.SOL: price.NewQuote(price.SOL, decimal.NewFromInt(1), "mock")}
}

func TestMinInterval_SpacesCalls(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(quotes(), nil).Times(2)
	m := &ratelimit.MinInterval{Provider: inner, Interval: 50 * time.Millisecond}

	// Act
	start := time.Now()
	_, err := m.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)
	_, err = m.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)

	// Assert
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMinInterval_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(quotes(), nil).Times(1)
	m := &ratelimit.MinInterval{Provider: inner, Interval: time.Hour}

	_, err := m.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = m.FetchPrices(ctx, []price.Asset{price.SOL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMinInterval_PassesStreamingThrough(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	inner.EXPECT().IsStreaming().Return(true)
	inner.EXPECT().Name().Return("inner")

	m := &ratelimit.MinInterval{Provider: inner}
	require.True(t, m.IsStreaming())
	require.Equal(t, "inner", m.Name())
}

func TestTokenBucketProvider_Burst(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(quotes(), nil).Times(2)
	p := &ratelimit.TokenBucketProvider{Provider: inner, PerMinute: 60, Burst: 2}

	// Act
	_, err1 := p.FetchPrices(t.Context(), []price.Asset{price.SOL})
	_, err2 := p.FetchPrices(t.Context(), []price.Asset{price.SOL})
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err3 := p.FetchPrices(ctx, []price.Asset{price.SOL})

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.ErrorIs(t, err3, context.DeadlineExceeded, "third token needs ~1s")
}

func TestTokenBucketProvider_ShortDeadlineFailsFastAndRefunds(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(quotes(), nil).Times(2)
	p := &ratelimit.TokenBucketProvider{Provider: inner, PerMinute: 1200, Burst: 1} // one token per 50ms

	_, err := p.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)

	// Act
	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = p.FetchPrices(ctx, []price.Asset{price.SOL})
	failedIn := time.Since(start)

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, failedIn, 20*time.Millisecond, "no sleep when the deadline cannot be met")

	// The refunded token is the next caller's after one interval, not two.
	start = time.Now()
	_, err = p.FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 90*time.Millisecond)
}

func TestTokenBucketProvider_ZeroRateIsUnlimited(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	inner := mock.NewMockProvider(ctrl)
	inner.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(quotes(), nil).Times(5)
	p := &ratelimit.TokenBucketProvider{Provider: inner}

	for range 5 {
		_, err := p.FetchPrices(t.Context(), []price.Asset{price.SOL})
		require.NoError(t, err)
	}
}
