package coingecko_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
	coingecko "pricetracker/internal/provider/coingecko"
)

func newProvider(t *testing.T, status int, body string) *coingecko.Provider {
	t.Helper()
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil).
		AnyTimes()
	client, err := coingecko.NewAPIClient("", coingecko.WithHTTPClient(httpClient))
	require.NoError(t, err)
	return coingecko.New(coingecko.Config{}, client)
}

func TestProvider_FetchPrices(t *testing.T) {
	t.Parallel()

	// Arrange
	p := newProvider(t, http.StatusOK, `{"solana":{"usd":150.5},"bitcoin":{"usd":60000}}`)
	start := time.Now().UTC()

	// Act
	got, err := p.FetchPrices(t.Context(), []price.Asset{price.SOL, price.BTC})

	// Assert
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "coingecko", got[price.SOL].Source)
	require.True(t, got[price.SOL].USD.Equal(decimal.RequireFromString("150.5")))
	require.False(t, got[price.BTC].Timestamp.Before(start))
	require.False(t, p.IsStreaming())
}

func TestProvider_FetchPrice(t *testing.T) {
	t.Parallel()

	p := newProvider(t, http.StatusOK, `{"ethereum":{"usd":3000}}`)
	q, err := p.FetchPrice(t.Context(), price.ETH)
	require.NoError(t, err)
	require.Equal(t, price.ETH, q.Asset)
}

func TestProvider_ErrorMapping(t *testing.T) {
	t.Parallel()

	_, err := newProvider(t, http.StatusTooManyRequests, "").FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.ErrorIs(t, err, provider.ErrRateLimited)

	_, err = newProvider(t, http.StatusOK, "not json").FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.ErrorIs(t, err, provider.ErrInvalidResponse)

	_, err = newProvider(t, http.StatusOK, `{}`).FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.ErrorIs(t, err, provider.ErrInvalidResponse)

	_, err = newProvider(t, http.StatusInternalServerError, "").FetchPrices(t.Context(), []price.Asset{price.SOL})
	require.ErrorIs(t, err, provider.ErrNetwork)
}
