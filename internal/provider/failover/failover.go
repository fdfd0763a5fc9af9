// Package failover tries an ordered list of providers, retrying each with
// exponential backoff before moving on to the next.
package failover

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

// Policy bounds the retries spent on a single provider.
type Policy struct {
	// MaxAttempts per provider per resolution, at least 1.
	MaxAttempts int
	// InitialBackoff is the delay after the first failure; it doubles after
	// every further failure up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestTimeout bounds each individual provider call. Zero disables it.
	RequestTimeout time.Duration
}

// DefaultPolicy: 3 attempts, 1s doubling to 30s, 10s per call.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, RequestTimeout: 10 * time.Second}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// AttemptFunc observes every provider call.
type AttemptFunc func(provider string, took time.Duration, err error)

// Chain is an ordered provider cascade. It is safe for concurrent use; the
// provider list is fixed at construction.
type Chain struct {
	providers []provider.Provider
	policy    Policy
	logger    zerolog.Logger
	onAttempt AttemptFunc
}

// Option configures a Chain.
type Option func(*Chain)

func WithPolicy(p Policy) Option { return func(c *Chain) { c.policy = p } }

func WithLogger(l zerolog.Logger) Option { return func(c *Chain) { c.logger = l } }

// WithAttemptHook registers a callback run after every provider call.
func WithAttemptHook(fn AttemptFunc) Option { return func(c *Chain) { c.onAttempt = fn } }

// New builds a chain over providers, tried in order.
func New(providers []provider.Provider, opts ...Option) *Chain {
	c := &Chain{
		providers: append([]provider.Provider(nil), providers...),
		policy:    DefaultPolicy(),
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.MaxAttempts < 1 {
		c.policy.MaxAttempts = 1
	}
	return c
}

// Len is the number of providers.
func (c *Chain) Len() int { return len(c.providers) }

// At returns the provider at index i.
func (c *Chain) At(i int) provider.Provider { return c.providers[i] }

// Policy returns the retry policy in use.
func (c *Chain) Policy() Policy { return c.policy }

// Resolution is a successful chain fetch.
type Resolution struct {
	Prices   map[price.Asset]price.Quote
	Provider string
	Index    int
}

// Resolve fetches assets starting at provider index from. Each provider is
// tried up to MaxAttempts times with backoff; on exhaustion the next one is
// tried. When all are exhausted the error is a price.ErrProviderFailure
// wrapping the last provider error. Cancellation of ctx is returned as is.
func (c *Chain) Resolve(ctx context.Context, from int, assets []price.Asset) (Resolution, error) {
	if from < 0 {
		from = 0
	}
	var last error
	for i := from; i < len(c.providers); i++ {
		p := c.providers[i]
		prices, err := c.tryProvider(ctx, p, assets)
		if err == nil {
			return Resolution{Prices: prices, Provider: p.Name(), Index: i}, nil
		}
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		last = err
		if i+1 < len(c.providers) {
			c.logger.Warn().Str("provider", p.Name()).Str("next", c.providers[i+1].Name()).Err(err).Msg("provider exhausted, failing over")
		}
	}
	if last == nil {
		last = errors.New("no providers configured")
	}
	return Resolution{}, price.Failure(last)
}

func (c *Chain) tryProvider(ctx context.Context, p provider.Provider, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	var err error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		var prices map[price.Asset]price.Quote
		prices, err = c.call(ctx, p, assets)
		if err == nil {
			return prices, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().
			Str("provider", p.Name()).
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Err(err).
			Msg("failed to fetch prices")
		if attempt < c.policy.MaxAttempts {
			if serr := sleepCtx(ctx, c.policy.Backoff(attempt)); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, err
}

func (c *Chain) call(ctx context.Context, p provider.Provider, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	callCtx := ctx
	if c.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.policy.RequestTimeout)
		defer cancel()
	}
	start := time.Now()
	prices, err := p.FetchPrices(callCtx, assets)
	if err == nil && len(prices) == 0 {
		err = provider.InvalidResponse(p.Name(), "empty price set")
	}
	// A deadline hit on the per-call context is a provider timeout; the
	// parent's cancellation is not.
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, provider.ErrTimeout) {
		err = provider.TimedOut(p.Name(), err)
	}
	if c.onAttempt != nil {
		c.onAttempt(p.Name(), time.Since(start), err)
	}
	return prices, err
}

// Name makes the chain usable as a provider.
func (c *Chain) Name() string { return "failover" }

func (c *Chain) FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error) {
	res, err := c.Resolve(ctx, 0, assets)
	if err != nil {
		return nil, err
	}
	return res.Prices, nil
}

func (c *Chain) FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error) {
	return provider.FetchOne(ctx, c, asset)
}

// IsStreaming reports whether the head of the chain streams.
func (c *Chain) IsStreaming() bool {
	return len(c.providers) > 0 && c.providers[0].IsStreaming()
}

// StartStreaming delegates to the head of the chain.
func (c *Chain) StartStreaming(ctx context.Context, store *price.Store, tx broadcast.Publisher[price.Quote]) error {
	if !c.IsStreaming() {
		return provider.ErrNotStreaming
	}
	return c.providers[0].StartStreaming(ctx, store, tx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
