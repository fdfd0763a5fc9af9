package tracker

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

var (
	errStreamEnded = errors.New("stream ended")
	errSuperseded  = errors.New("polling session retired")
)

// supervise is the state machine. Exactly one of the poll loop or a
// provider stream writes to the store at any time.
func (t *Tracker) supervise(ctx context.Context) error {
	defer func() {
		t.stopped.Store(true)
		t.swapSession(nil)
	}()
	t.swapSession(nil)

	idx := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		t.setMode(Selecting)
		t.active.Store(int32(idx))
		p := t.chain.At(idx)

		if !p.IsStreaming() {
			s := t.newSession(ctx, idx)
			t.swapSession(s)
			t.setMode(Polling)
			next, ok := t.poll(s)
			t.swapSession(nil)
			if !ok {
				return nil
			}
			idx = next
			continue
		}

		t.setMode(Streaming)
		t.swapSession(nil) // wakes RefreshNow callers waiting for a session
		t.logger.Info().Str("provider", p.Name()).Msg("streaming started")
		t.setStatus(p.Name(), price.ProviderHealthy, "streaming")
		start := time.Now()
		err := p.StartStreaming(ctx, t.store, streamSink{t})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errStreamEnded
		}
		t.metrics.Record(p.Name(), time.Since(start), err)
		t.setStatus(p.Name(), price.ProviderUnavailable, err.Error())
		t.logger.Warn().Str("provider", p.Name()).Err(err).Msg("stream failed, selecting next provider")

		idx++
		if idx >= t.chain.Len() {
			idx = 0
			wait := t.cfg.Policy.MaxBackoff
			t.logger.Warn().Dur("retry_in", wait).Msg("chain exhausted, restarting from head")
			if !sleep(ctx, wait) {
				return nil
			}
		}
	}
}

// pollSession scopes the fetch cycles of one polling stint. Cycles write
// only while the session is current; retiring it cancels its context.
type pollSession struct {
	ctx      context.Context
	cancel   context.CancelFunc
	from     int
	key      string
	inflight atomic.Bool
}

func (t *Tracker) newSession(parent context.Context, from int) *pollSession {
	ctx, cancel := context.WithCancel(parent)
	return &pollSession{
		ctx:    ctx,
		cancel: cancel,
		from:   from,
		key:    "refresh-" + strconv.FormatUint(t.sessionSeq.Add(1), 10),
	}
}

// swapSession makes s the current session (nil for none) and wakes
// awaitSession callers. The retired session is canceled, and swapSession
// returns only after any write it had started is done.
func (t *Tracker) swapSession(s *pollSession) {
	t.sessMu.Lock()
	if s != nil && t.Mode() == ShuttingDown {
		s.cancel()
		s = nil
	}
	old := t.sess
	t.sess = s
	close(t.sessChanged)
	t.sessChanged = make(chan struct{})
	t.sessMu.Unlock()

	if old != nil && old != s {
		old.cancel()
		// A cycle checks its session under writeMu, so once we hold it the
		// old session can no longer write.
		t.writeMu.Lock()
		t.writeMu.Unlock()
	}
}

// awaitSession returns the current polling session. It returns nil while a
// provider is streaming, ErrClosed once the tracker is done, and otherwise
// waits for the supervisor to settle.
func (t *Tracker) awaitSession(ctx context.Context) (*pollSession, error) {
	for {
		t.sessMu.Lock()
		s, changed := t.sess, t.sessChanged
		t.sessMu.Unlock()
		if s != nil {
			return s, nil
		}
		switch {
		case t.Mode() == ShuttingDown, t.stopped.Load():
			return nil, ErrClosed
		case t.Mode() == Streaming:
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// poll runs fetch cycles every RefreshInterval, starting immediately. It
// returns the index to select next, or ok=false once the session ends.
func (t *Tracker) poll(s *pollSession) (next int, ok bool) {
	_ = t.runCycle(s.ctx, s, false)

	ticker := time.NewTicker(t.cfg.RefreshInterval)
	defer ticker.Stop()

	var recoverC <-chan time.Time
	if s.from > 0 && t.cfg.PrimaryRetryInterval > 0 {
		rt := time.NewTimer(t.cfg.PrimaryRetryInterval)
		defer rt.Stop()
		recoverC = rt.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return 0, false
		case <-recoverC:
			t.logger.Info().Str("head", t.chain.At(0).Name()).Msg("retrying primary provider")
			return 0, true
		case <-ticker.C:
			if s.inflight.Load() {
				t.logger.Debug().Msg("refresh in flight, skipping tick")
				continue
			}
			_ = t.runCycle(s.ctx, s, false)
		}
	}
}

// RefreshNow forces a fetch cycle outside the polling schedule. Concurrent
// callers share one in-flight cycle, which skips response caches. While
// streaming it returns at once: the store is already push-fresh.
func (t *Tracker) RefreshNow(ctx context.Context) error {
	for {
		s, err := t.awaitSession(ctx)
		if err != nil || s == nil {
			return err
		}
		err = t.runCycle(ctx, s, true)
		if !errors.Is(err, errSuperseded) {
			return err
		}
		// The session was retired under us; follow the supervisor.
	}
}

// runCycle joins or starts the session's cycle and waits for it up to ctx.
func (t *Tracker) runCycle(ctx context.Context, s *pollSession, fresh bool) error {
	res := t.refreshes.DoChan(s.key, func() (any, error) {
		s.inflight.Store(true)
		defer s.inflight.Store(false)
		return nil, t.cycle(s, fresh)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-res:
		return r.Err
	}
}

// cycle resolves all enabled assets through the chain and writes the result.
// A failed cycle leaves the store untouched, and so does one whose session
// was retired while it fetched. Quotes no newer than the stored ones are
// not written again.
func (t *Tracker) cycle(s *pollSession, fresh bool) error {
	ctx := s.ctx
	if fresh {
		ctx = provider.WithFresh(ctx)
	}
	assets := t.store.Assets()
	res, err := t.chain.Resolve(ctx, s.from, assets)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if s.ctx.Err() != nil {
		return errSuperseded
	}
	if err != nil {
		n := t.failures.Add(1)
		t.logger.Error().Err(err).Int64("consecutive_failures", n).Msg("price refresh failed")
		for _, a := range assets {
			t.events.Publish(price.FetchFailedEvent(a, err))
		}
		return err
	}

	t.failures.Store(0)
	now := time.Now().UTC()
	t.lastSuccess.Store(&now)
	t.active.Store(int32(res.Index))
	written := 0
	for _, a := range assets {
		q, ok := res.Prices[a]
		if !ok {
			continue
		}
		if prev, ok := t.store.Get(a); ok && !q.Newer(prev) {
			continue
		}
		if _, err := t.store.Set(q); err != nil {
			continue
		}
		t.publish(q)
		written++
	}
	t.logger.Debug().Str("provider", res.Provider).Int("count", len(res.Prices)).Int("written", written).Msg("prices refreshed")
	return nil
}

// publish fans q out to update and event subscribers.
func (t *Tracker) publish(q price.Quote) {
	t.seenMu.Lock()
	prev, had := t.seen[q.Asset]
	t.seen[q.Asset] = q
	t.seenMu.Unlock()

	t.updates.Publish(q)
	if had {
		t.events.Publish(price.UpdatedEvent(q, &prev))
	} else {
		t.events.Publish(price.UpdatedEvent(q, nil))
	}
	t.logger.Debug().Str("asset", q.Asset.String()).Str("price", q.USD.String()).Str("provider", q.Source).Msg("price updated")
}

// streamSink is handed to streaming providers in place of the raw hub so
// pushed updates reach event subscribers too.
type streamSink struct{ t *Tracker }

func (s streamSink) Publish(q price.Quote) int {
	now := time.Now().UTC()
	s.t.lastSuccess.Store(&now)
	s.t.publish(q)
	return s.t.updates.Receivers()
}

// observeAttempt is the chain hook: it feeds metrics and provider status.
func (t *Tracker) observeAttempt(name string, took time.Duration, err error) {
	t.metrics.Record(name, took, err)
	if err != nil {
		t.setStatus(name, price.ProviderDegraded, err.Error())
		return
	}
	t.setStatus(name, price.ProviderHealthy, "")
}

// setStatus records a provider status and emits an event on change.
func (t *Tracker) setStatus(name string, st price.ProviderStatus, msg string) {
	t.statusMu.Lock()
	old, ok := t.status[name]
	t.status[name] = st
	t.statusMu.Unlock()
	if ok && old == st {
		return
	}
	if !ok && st == price.ProviderHealthy {
		return
	}
	t.events.Publish(price.StatusEvent(name, st, msg))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
