package registry_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"pricetracker/internal/config"
	"pricetracker/internal/httpx"
	"pricetracker/internal/price"
	"pricetracker/internal/provider/cache"
	"pricetracker/internal/provider/ratelimit"
	"pricetracker/internal/provider/registry"
)

func TestBuild_Defaults(t *testing.T) {
	t.Parallel()

	// Act
	ps, err := registry.Build(config.Default(), registry.Deps{Logger: zerolog.Nop()})

	// Assert
	require.NoError(t, err)
	require.Len(t, ps, 2)
	require.Equal(t, "hyperliquid", ps[0].Name())
	require.True(t, ps[0].IsStreaming())
	require.Equal(t, "coingecko", ps[1].Name())
	require.False(t, ps[1].IsStreaming())

	// coingecko defaults carry a cache over a token bucket.
	c, ok := ps[1].(*cache.Provider)
	require.True(t, ok)
	_, ok = c.Provider.(*ratelimit.TokenBucketProvider)
	require.True(t, ok)
}

func TestBuild_UnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Tracker.Providers = []string{"coingecko", "binance"}
	_, err := registry.Build(cfg, registry.Deps{})
	require.ErrorContains(t, err, "binance")
}

func TestDecorate_Nothing(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	ps, err := registry.Build(cfg, registry.Deps{})
	require.NoError(t, err)
	require.Same(t, ps[0], registry.Decorate(ps[0], config.Provider{}))
}

func TestChain_FetchesThroughConfiguredEndpoint(t *testing.T) {
	t.Parallel()

	// Arrange: hermes as the only, pull-mode provider against a fake gateway.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		id := price.SOL.PythFeedID()[2:]
		_, _ = w.Write([]byte(`{"parsed":[{"id":"` + id + `","price":{"price":"1500","conf":"1","expo":-1,"publish_time":1}}]}`))
	}))
	defer srv.Close()
	cfg := config.Default()
	cfg.Tracker.Providers = []string{"hermes"}
	cfg.Hermes.BaseURL = srv.URL
	cfg.Hermes.Streaming = false

	chain, err := registry.Chain(cfg, registry.Deps{HTTP: httpx.New(time.Second), Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Equal(t, 3, chain.Policy().MaxAttempts)

	// Act
	res, err := chain.Resolve(t.Context(), 0, []price.Asset{price.SOL})

	// Assert
	require.NoError(t, err)
	require.Equal(t, "hermes", res.Provider)
	require.Equal(t, "150", res.Prices[price.SOL].USD.String())
}
