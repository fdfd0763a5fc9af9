package provider

import (
	"context"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/price"
)

// Provider is a source of asset prices. Pull providers answer FetchPrice and
// FetchPrices; push providers also return true from IsStreaming and keep
// the store populated from StartStreaming.
//
//go:generate mockgen -package=mock -destination=mock/provider.go -source=provider.go Provider
type Provider interface {
	Name() string

	// FetchPrice fetches a single asset.
	FetchPrice(ctx context.Context, asset price.Asset) (price.Quote, error)

	// FetchPrices fetches several assets in one round trip. Assets the
	// source does not know are omitted; an empty result is an error.
	FetchPrices(ctx context.Context, assets []price.Asset) (map[price.Asset]price.Quote, error)

	// IsStreaming declares the acquisition mode.
	IsStreaming() bool

	// StartStreaming writes every update into store and publishes it on tx
	// until ctx is canceled (returns nil) or the stream cannot be sustained
	// (returns an error). Reconnects are the provider's own business.
	StartStreaming(ctx context.Context, store *price.Store, tx broadcast.Publisher[price.Quote]) error
}

// PullOnly can be embedded by providers without a push mode.
type PullOnly struct{}

func (PullOnly) IsStreaming() bool { return false }

func (PullOnly) StartStreaming(context.Context, *price.Store, broadcast.Publisher[price.Quote]) error {
	return ErrNotStreaming
}

// FetchOne implements FetchPrice on top of a batched fetch.
func FetchOne(ctx context.Context, p Provider, asset price.Asset) (price.Quote, error) {
	qs, err := p.FetchPrices(ctx, []price.Asset{asset})
	if err != nil {
		return price.Quote{}, err
	}
	q, ok := qs[asset]
	if !ok {
		return price.Quote{}, InvalidResponse(p.Name(), "no price for %s", asset)
	}
	return q, nil
}

// Emit stores q and publishes it, the write path shared by streaming
// providers. Quotes for assets that are not enabled are dropped.
func Emit(store *price.Store, tx broadcast.Publisher[price.Quote], q price.Quote) bool {
	if !store.Tracks(q.Asset) {
		return false
	}
	if _, err := store.Set(q); err != nil {
		return false
	}
	if tx != nil {
		tx.Publish(q)
	}
	return true
}

type freshKey struct{}

// WithFresh marks ctx so caching decorators go to the source instead of
// answering from memory.
func WithFresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

// WantsFresh reports whether ctx was marked by WithFresh.
func WantsFresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey{}).(bool)
	return v
}
