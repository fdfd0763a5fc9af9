package ratelimit

import (
	"context"
	"sync"
	"time"

	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between fetches.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled. Streaming is passed through.
type MinInterval struct {
	provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	if err := m.gate(ctx); err != nil {
		return price.Quote{}, err
	}
	defer m.mark()
	return m.Provider.FetchPrice(ctx, asset)
}

func (m *MinInterval) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	defer m.mark()
	return m.Provider.FetchPrices(ctx, assets)
}

func (m *MinInterval) gate(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.mu.Lock()
	wait := time.Until(m.last.Add(m.Interval))
	m.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *MinInterval) mark() {
	if m.Interval <= 0 {
		return
	}
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}
