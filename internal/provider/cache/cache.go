package cache

import (
	"context"
	"sync"
	"time"

	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

type entry struct {
	expiresAt time.Time
	quote     price.Quote
}

// Provider caches quotes per asset for a TTL. It requests only missing
// assets from the underlying provider and merges cached with fresh results.
// A context marked with provider.WithFresh skips the lookup but still
// refreshes the cache. Errors from the underlying provider are returned
// as-is so a failover chain above still sees them.
type Provider struct {
	provider.Provider
	TTL      time.Duration
	MaxItems int

	mu    sync.RWMutex
	items map[price.Asset]entry
}

func (c *Provider) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	return provider.FetchOne(ctx, c, asset)
}

func (c *Provider) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	if c.TTL <= 0 {
		return c.Provider.FetchPrices(ctx, assets)
	}

	now := time.Now()
	out := make(map[price.Asset]price.Quote, len(assets))
	missing := make([]price.Asset, 0, len(assets))

	fresh := provider.WantsFresh(ctx)
	c.mu.RLock()
	for _, a := range assets {
		if e, ok := c.items[a]; ok && !fresh && now.Before(e.expiresAt) {
			out[a] = e.quote
			continue
		}
		missing = append(missing, a)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	got, err := c.Provider.FetchPrices(ctx, missing)
	if err != nil {
		return nil, err
	}

	expiry := now.Add(c.TTL)
	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[price.Asset]entry, len(got))
	}
	for a, q := range got {
		c.items[a] = entry{expiresAt: expiry, quote: q}
		out[a] = q
	}
	c.evictLocked(now)
	c.mu.Unlock()

	return out, nil
}

// evictLocked drops expired entries first, then arbitrary ones, until the
// cache fits MaxItems.
func (c *Provider) evictLocked(now time.Time) {
	if c.MaxItems <= 0 || len(c.items) <= c.MaxItems {
		return
	}
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	for k := range c.items {
		if len(c.items) <= c.MaxItems {
			break
		}
		delete(c.items, k)
	}
}
