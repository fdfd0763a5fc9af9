package tracker

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"pricetracker/internal/config"
	"pricetracker/internal/provider/registry"
)

var (
	global     atomic.Pointer[Tracker]
	globalInit singleflight.Group

	// Factory builds the process-wide tracker on first use of Global.
	Factory = func(context.Context) (*Tracker, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		return FromConfig(cfg, log.Logger)
	}
)

// FromConfig builds a tracker and its provider chain from configuration.
func FromConfig(cfg config.Config, logger zerolog.Logger) (*Tracker, error) {
	providers, err := registry.Build(cfg, registry.Deps{Logger: logger})
	if err != nil {
		return nil, err
	}
	return New(ConfigFrom(cfg), providers, WithLogger(logger))
}

// Global returns the process-wide tracker, building and starting it on
// first use. Concurrent first callers share a single initialization; a
// failed one is not remembered, so the next call tries again.
func Global(ctx context.Context) (*Tracker, error) {
	if t := global.Load(); t != nil {
		return t, nil
	}
	ch := globalInit.DoChan("global", func() (any, error) {
		if t := global.Load(); t != nil {
			return t, nil
		}
		t, err := Factory(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if err := t.Start(context.Background()); err != nil {
			return nil, err
		}
		global.Store(t)
		return t, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Tracker), nil
	}
}
