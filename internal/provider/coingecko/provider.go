package coingecko

import (
	"context"
	"errors"
	"time"

	"pricetracker/internal/httpx"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

// Config for the CoinGecko pull provider.
type Config struct {
	Name string // display name, default: coingecko
}

// Provider adapts the simple price API to provider.Provider.
type Provider struct {
	provider.PullOnly

	cfg    Config
	client *APIClient
	now    func() time.Time
}

func New(cfg Config, client *APIClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "coingecko"
	}
	return &Provider{cfg: cfg, client: client, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	return provider.FetchOne(ctx, p, asset)
}

func (p *Provider) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	if len(assets) == 0 {
		return map[price.Asset]price.Quote{}, nil
	}
	ids := make([]string, 0, len(assets))
	byID := make(map[string]price.Asset, len(assets))
	for _, a := range assets {
		id := a.CoinGeckoID()
		if id == "" {
			continue
		}
		ids = append(ids, id)
		byID[id] = a
	}

	res, err := p.client.GetSimplePrice(ctx, ids, "usd")
	if err != nil {
		return nil, p.classify(err)
	}

	ts := p.now().UTC()
	out := make(map[price.Asset]price.Quote, len(res))
	for id, sp := range res {
		a, ok := byID[id]
		if !ok {
			continue
		}
		out[a] = price.Quote{Asset: a, USD: sp.Price, Change24h: sp.Change24h, Timestamp: ts, Source: p.cfg.Name}
	}
	if len(out) == 0 {
		return nil, provider.InvalidResponse(p.cfg.Name, "no prices returned")
	}
	return out, nil
}

func (p *Provider) classify(err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		return provider.RateLimited(p.cfg.Name)
	case errors.Is(err, ErrDecode):
		return &provider.Error{Kind: provider.InvalidResponseKind, Provider: p.cfg.Name, Err: err}
	default:
		return httpx.Classify(p.cfg.Name, err)
	}
}
