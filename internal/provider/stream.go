package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectPolicy bounds how hard a streaming provider tries to keep its
// connection alive before giving up and letting the tracker fail over.
type ReconnectPolicy struct {
	// MaxReconnects is the number of consecutive failed sessions tolerated.
	// A session that delivered at least one update resets the count.
	MaxReconnects int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxReconnects: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p ReconnectPolicy) delay(failures int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// SessionFunc runs one connection until it breaks. delivered reports
// whether any update got through.
type SessionFunc func(ctx context.Context) (delivered bool, err error)

// RunStream drives session with reconnects. It returns nil once ctx is
// canceled and an error when MaxReconnects consecutive sessions failed.
func RunStream(ctx context.Context, name string, policy ReconnectPolicy, logger zerolog.Logger, session SessionFunc) error {
	failures := 0
	for {
		delivered, err := session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			failures = 0
		}
		failures++
		if failures > policy.MaxReconnects {
			return fmt.Errorf("%s: stream lost after %d attempts: %w", name, failures, err)
		}
		wait := policy.delay(failures)
		logger.Warn().Str("provider", name).Err(err).Int("attempt", failures).Dur("retry_in", wait).Msg("stream disconnected, reconnecting")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
