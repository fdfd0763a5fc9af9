// Package hermes reads Pyth price feeds through a Hermes gateway.
package hermes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricetracker/internal/httpx"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

const DefaultBaseURL = "https://hermes.pyth.network"

type Config struct {
	Name    string
	BaseURL string
	Headers map[string]string

	// Streaming switches on the server-sent events mode.
	Streaming bool
	// IdleTimeout is how long the event stream may stay silent before the
	// session is considered dead. Default 60s.
	IdleTimeout time.Duration
	Reconnect   provider.ReconnectPolicy
}

type Provider struct {
	cfg    Config
	client *httpx.Client
	// stream has no overall timeout.
	stream *httpx.Client
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Provider)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithStreamClient overrides the client used for the event stream.
func WithStreamClient(c *httpx.Client) Option {
	return func(p *Provider) { p.stream = c }
}

func New(cfg Config, hc *httpx.Client, opts ...Option) *Provider {
	if cfg.Name == "" {
		cfg.Name = "hermes"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Reconnect == (provider.ReconnectPolicy{}) {
		cfg.Reconnect = provider.DefaultReconnectPolicy()
	}
	p := &Provider{cfg: cfg, client: hc, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.stream == nil {
		p.stream = httpx.NewStreaming(10 * time.Second)
	}
	return p
}

func (p *Provider) Name() string      { return p.cfg.Name }
func (p *Provider) IsStreaming() bool { return p.cfg.Streaming }

type priceUpdate struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

type updatesMessage struct {
	Parsed []priceUpdate `json:"parsed"`
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimPrefix(id, "0x"))
}

// feedIndex maps normalized feed ids back to assets.
func feedIndex(assets []price.Asset) (map[string]price.Asset, url.Values) {
	idx := make(map[string]price.Asset, len(assets))
	q := url.Values{}
	for _, a := range assets {
		id := a.PythFeedID()
		if id == "" {
			continue
		}
		idx[normalizeID(id)] = a
		q.Add("ids[]", id)
	}
	q.Set("parsed", "true")
	return idx, q
}

func (p *Provider) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	return provider.FetchOne(ctx, p, asset)
}

func (p *Provider) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	if len(assets) == 0 {
		return map[price.Asset]price.Quote{}, nil
	}
	idx, q := feedIndex(assets)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, provider.Network(p.cfg.Name, err)
	}
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

	var msg updatesMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, provider.InvalidResponse(p.cfg.Name, "decode updates: %v", err)
	}
	out := p.quotes(msg, idx)
	if len(out) == 0 {
		return nil, provider.InvalidResponse(p.cfg.Name, "no prices returned")
	}
	return out, nil
}

// quotes converts parsed updates. Pyth prices are integers scaled by
// 10^expo.
func (p *Provider) quotes(msg updatesMessage, idx map[string]price.Asset) map[price.Asset]price.Quote {
	ts := p.now().UTC()
	out := make(map[price.Asset]price.Quote, len(msg.Parsed))
	for _, u := range msg.Parsed {
		a, ok := idx[normalizeID(u.ID)]
		if !ok {
			continue
		}
		mantissa, err := decimal.NewFromString(u.Price.Price)
		if err != nil {
			p.logger.Debug().Str("provider", p.cfg.Name).Str("feed", u.ID).Err(err).Msg("skipping bad price")
			continue
		}
		usd := mantissa.Shift(u.Price.Expo)
		if !usd.IsPositive() {
			continue
		}
		out[a] = price.Quote{Asset: a, USD: usd, Timestamp: ts, Source: p.cfg.Name}
	}
	return out
}
