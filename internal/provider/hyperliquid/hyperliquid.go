// Package hyperliquid reads mid prices from the Hyperliquid info API, either
// by polling allMids over REST or by subscribing to the allMids websocket
// channel.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricetracker/internal/httpx"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

const (
	DefaultURL   = "https://api.hyperliquid.xyz/info"
	DefaultWSURL = "wss://api.hyperliquid.xyz/ws"
)

type Config struct {
	Name    string
	URL     string
	WSURL   string
	Headers map[string]string

	// Streaming turns on the websocket mode. With it off the provider is
	// pull-only.
	Streaming bool
	// ReadTimeout bounds the silence tolerated on an open socket. Default 60s.
	ReadTimeout time.Duration
	// PingInterval keeps the socket alive. Default 30s; negative disables.
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	Reconnect        provider.ReconnectPolicy
}

type Provider struct {
	cfg    Config
	client *httpx.Client
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Provider)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

func New(cfg Config, hc *httpx.Client, opts ...Option) *Provider {
	if cfg.Name == "" {
		cfg.Name = "hyperliquid"
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Reconnect == (provider.ReconnectPolicy{}) {
		cfg.Reconnect = provider.DefaultReconnectPolicy()
	}
	p := &Provider{cfg: cfg, client: hc, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string      { return p.cfg.Name }
func (p *Provider) IsStreaming() bool { return p.cfg.Streaming }

func (p *Provider) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	return provider.FetchOne(ctx, p, asset)
}

func (p *Provider) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	if len(assets) == 0 {
		return map[price.Asset]price.Quote{}, nil
	}
	body, _ := json.Marshal(map[string]string{"type": "allMids"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, provider.Network(p.cfg.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, httpx.Classify(p.cfg.Name, err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return nil, httpx.Classify(p.cfg.Name, err)
	}

	var mids map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&mids); err != nil {
		return nil, provider.InvalidResponse(p.cfg.Name, "decode allMids: %v", err)
	}
	out := p.quotes(mids, assets)
	if len(out) == 0 {
		return nil, provider.InvalidResponse(p.cfg.Name, "no prices returned")
	}
	return out, nil
}

// quotes picks the requested assets out of a symbol -> mid map. Unparseable
// or non-positive mids are skipped.
func (p *Provider) quotes(mids map[string]string, assets []price.Asset) map[price.Asset]price.Quote {
	ts := p.now().UTC()
	out := make(map[price.Asset]price.Quote, len(assets))
	for _, a := range assets {
		raw, ok := mids[a.HyperliquidSymbol()]
		if !ok {
			continue
		}
		usd, err := decimal.NewFromString(raw)
		if err != nil || !usd.IsPositive() {
			p.logger.Debug().Str("provider", p.cfg.Name).Str("asset", a.String()).Str("mid", raw).Msg("skipping bad mid")
			continue
		}
		out[a] = price.Quote{Asset: a, USD: usd, Timestamp: ts, Source: p.cfg.Name}
	}
	return out
}
