// Package registry turns configuration into a failover chain.
package registry

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pricetracker/internal/config"
	"pricetracker/internal/httpx"
	"pricetracker/internal/provider"
	"pricetracker/internal/provider/cache"
	"pricetracker/internal/provider/coingecko"
	"pricetracker/internal/provider/failover"
	"pricetracker/internal/provider/hermes"
	"pricetracker/internal/provider/hyperliquid"
	"pricetracker/internal/provider/ratelimit"
)

// Deps are shared by every provider built from one configuration.
type Deps struct {
	HTTP   *httpx.Client
	Logger zerolog.Logger
}

// Builder constructs the bare wire provider for one config section.
type Builder func(name string, pc config.Provider, d Deps) (provider.Provider, error)

var builders = map[string]Builder{
	"hyperliquid": buildHyperliquid,
	"coingecko":   buildCoinGecko,
	"hermes":      buildHermes,
}

func reconnect(pc config.Provider) provider.ReconnectPolicy {
	rp := provider.DefaultReconnectPolicy()
	rp.MaxReconnects = pc.MaxReconnects
	return rp
}

func buildHyperliquid(name string, pc config.Provider, d Deps) (provider.Provider, error) {
	return hyperliquid.New(hyperliquid.Config{
		Name:      name,
		URL:       pc.BaseURL,
		WSURL:     pc.WSURL,
		Streaming: pc.Streaming,
		Reconnect: reconnect(pc),
	}, d.HTTP, hyperliquid.WithLogger(d.Logger)), nil
}

func buildCoinGecko(name string, pc config.Provider, d Deps) (provider.Provider, error) {
	opts := []coingecko.APIClientOption{coingecko.WithHTTPClient(d.HTTP)}
	if pc.BaseURL != "" {
		opts = append(opts, coingecko.WithBaseURL(strings.TrimRight(pc.BaseURL, "/")))
	}
	client, err := coingecko.NewAPIClient(pc.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("coingecko client: %w", err)
	}
	return coingecko.New(coingecko.Config{Name: name}, client), nil
}

func buildHermes(name string, pc config.Provider, d Deps) (provider.Provider, error) {
	return hermes.New(hermes.Config{
		Name:      name,
		BaseURL:   pc.BaseURL,
		Streaming: pc.Streaming,
		Reconnect: reconnect(pc),
	}, d.HTTP, hermes.WithLogger(d.Logger)), nil
}

// Decorate wraps p with the throttling and caching configured in pc. A
// token bucket is preferred when a per-minute rate is set, otherwise a
// minimum interval. The cache sits outermost so hits spend no tokens.
func Decorate(p provider.Provider, pc config.Provider) provider.Provider {
	if pc.MaxRequestsPerMinute > 0 {
		p = &ratelimit.TokenBucketProvider{Provider: p, PerMinute: pc.MaxRequestsPerMinute, Burst: pc.Burst}
	} else if pc.MinRequestInterval > 0 {
		p = &ratelimit.MinInterval{Provider: p, Interval: pc.MinRequestInterval}
	}
	if pc.CacheTTL > 0 {
		p = &cache.Provider{Provider: p, TTL: pc.CacheTTL, MaxItems: pc.CacheMaxItems}
	}
	return p
}

// Build returns the decorated providers named by cfg.Tracker.Providers, in
// chain order.
func Build(cfg config.Config, d Deps) ([]provider.Provider, error) {
	if d.HTTP == nil {
		d.HTTP = httpx.New(cfg.Tracker.RequestTimeout)
	}
	out := make([]provider.Provider, 0, len(cfg.Tracker.Providers))
	for _, raw := range cfg.Tracker.Providers {
		name := strings.ToLower(strings.TrimSpace(raw))
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", raw)
		}
		pc, _ := cfg.ProviderConfig(name)
		p, err := build(name, pc, d)
		if err != nil {
			return nil, err
		}
		out = append(out, Decorate(p, pc))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return out, nil
}

// Policy is the chain retry policy described by cfg.
func Policy(cfg config.Config) failover.Policy {
	return failover.Policy{
		MaxAttempts:    cfg.Tracker.MaxAttempts,
		InitialBackoff: cfg.Tracker.InitialBackoff,
		MaxBackoff:     cfg.Tracker.MaxBackoff,
		RequestTimeout: cfg.Tracker.RequestTimeout,
	}
}

// Chain builds the providers and wraps them in a failover chain.
func Chain(cfg config.Config, d Deps, opts ...failover.Option) (*failover.Chain, error) {
	ps, err := Build(cfg, d)
	if err != nil {
		return nil, err
	}
	opts = append([]failover.Option{failover.WithPolicy(Policy(cfg)), failover.WithLogger(d.Logger)}, opts...)
	return failover.New(ps, opts...), nil
}
