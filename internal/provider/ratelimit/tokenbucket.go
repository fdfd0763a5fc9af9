package ratelimit

import (
	"context"
	"sync"
	"time"

	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

// TokenBucketProvider allows PerMinute fetches per minute with bursts of up
// to Burst. Each call reserves a token up front and sleeps off any debt; a
// caller whose deadline falls before its token is due gives the token back
// and fails at once with context.DeadlineExceeded, which the failover chain
// reports as a provider timeout. Streaming is passed through.
type TokenBucketProvider struct {
	provider.Provider
	PerMinute int
	Burst     int

	mu     sync.Mutex
	tokens float64 // negative while callers are queued for future tokens
	stamp  time.Time
	primed bool
}

func (t *TokenBucketProvider) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	if err := t.take(ctx); err != nil {
		return price.Quote{}, err
	}
	return t.Provider.FetchPrice(ctx, asset)
}

func (t *TokenBucketProvider) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	if err := t.take(ctx); err != nil {
		return nil, err
	}
	return t.Provider.FetchPrices(ctx, assets)
}

func (t *TokenBucketProvider) perSecond() float64 { return float64(t.PerMinute) / 60 }

func (t *TokenBucketProvider) burst() float64 {
	if t.Burst < 1 {
		return 1
	}
	return float64(t.Burst)
}

// reserve takes a token, possibly on credit, and returns how long until it
// is covered.
func (t *TokenBucketProvider) reserve(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.primed {
		t.tokens, t.stamp, t.primed = t.burst(), now, true
	}
	if now.After(t.stamp) {
		t.tokens = min(t.burst(), t.tokens+now.Sub(t.stamp).Seconds()*t.perSecond())
		t.stamp = now
	}
	t.tokens--
	if t.tokens >= 0 {
		return 0
	}
	return time.Duration(-t.tokens / t.perSecond() * float64(time.Second))
}

func (t *TokenBucketProvider) refund() {
	t.mu.Lock()
	t.tokens = min(t.burst(), t.tokens+1)
	t.mu.Unlock()
}

func (t *TokenBucketProvider) take(ctx context.Context) error {
	if t.PerMinute <= 0 {
		return nil
	}
	now := time.Now()
	delay := t.reserve(now)
	if delay == 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok && dl.Before(now.Add(delay)) {
		t.refund()
		return context.DeadlineExceeded
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		t.refund()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
