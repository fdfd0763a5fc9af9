// Package tracker keeps the latest price of every enabled asset current,
// polling or streaming from a failover chain of providers, and serves it
// to concurrent readers and subscribers.
package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/config"
	"pricetracker/internal/metrics"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
	"pricetracker/internal/provider/failover"
)

var (
	ErrAlreadyStarted = errors.New("tracker: already started")
	ErrClosed         = errors.New("tracker: closed")
)

// Mode is the orchestrator state.
type Mode int32

const (
	Uninitialized Mode = iota
	Selecting
	Polling
	Streaming
	ShuttingDown
)

func (m Mode) String() string {
	switch m {
	case Uninitialized:
		return "uninitialized"
	case Selecting:
		return "selecting"
	case Polling:
		return "polling"
	case Streaming:
		return "streaming"
	case ShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Config is the immutable runtime configuration.
type Config struct {
	Assets          []price.Asset
	RefreshInterval time.Duration
	// StaleThreshold of 0 uses each asset's default.
	StaleThreshold time.Duration
	Policy         failover.Policy
	// DegradedAfter is the number of consecutive failed cycles after which
	// health reports degraded.
	DegradedAfter int
	// PrimaryRetryInterval, when positive, sends a tracker polling on a
	// backup provider back to the head of the chain after this long.
	PrimaryRetryInterval time.Duration
	BroadcastCapacity    int
}

// ConfigFrom maps the tracker section of the application config.
func ConfigFrom(c config.Config) Config {
	t := c.Tracker
	return Config{
		Assets:          c.EnabledAssets(),
		RefreshInterval: t.RefreshInterval,
		StaleThreshold:  t.StaleThreshold,
		Policy: failover.Policy{
			MaxAttempts:    t.MaxAttempts,
			InitialBackoff: t.InitialBackoff,
			MaxBackoff:     t.MaxBackoff,
			RequestTimeout: t.RequestTimeout,
		},
		DegradedAfter:        t.DegradedAfter,
		PrimaryRetryInterval: t.PrimaryRetryInterval,
		BroadcastCapacity:    t.BroadcastCapacity,
	}
}

// Tracker is safe for concurrent use. Reads never block on the network.
type Tracker struct {
	cfg     Config
	chain   *failover.Chain
	store   *price.Store
	updates *broadcast.Hub[price.Quote]
	events  *broadcast.Hub[price.Event]
	metrics *metrics.Collector
	logger  zerolog.Logger

	mode        atomic.Int32
	active      atomic.Int32 // chain index of the provider currently serving
	failures    atomic.Int64 // consecutive failed cycles
	lastSuccess atomic.Pointer[time.Time]
	refreshes   singleflight.Group
	sessionSeq  atomic.Uint64
	stopped     atomic.Bool // supervisor has returned

	// writeMu is held by a fetch cycle while it writes; swapSession takes
	// it to wait out a write of the session it retires.
	writeMu     sync.Mutex
	sessMu      sync.Mutex
	sess        *pollSession
	sessChanged chan struct{}

	statusMu sync.Mutex
	status   map[string]price.ProviderStatus

	seenMu sync.Mutex
	seen   map[price.Asset]price.Quote

	lifeMu    sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
}

type Option func(*Tracker)

func WithLogger(l zerolog.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithMetrics shares a collector, e.g. across trackers in tests.
func WithMetrics(c *metrics.Collector) Option { return func(t *Tracker) { t.metrics = c } }

// New builds a tracker over providers, tried in the given order. The
// tracker does nothing until Start.
func New(cfg Config, providers []provider.Provider, opts ...Option) (*Tracker, error) {
	if len(providers) == 0 {
		return nil, errors.New("tracker: no providers")
	}
	if len(cfg.Assets) == 0 {
		return nil, errors.New("tracker: no assets enabled")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.DegradedAfter < 1 {
		cfg.DegradedAfter = 1
	}
	if cfg.BroadcastCapacity < 1 {
		cfg.BroadcastCapacity = 256
	}
	if cfg.Policy == (failover.Policy{}) {
		cfg.Policy = failover.DefaultPolicy()
	}

	t := &Tracker{
		cfg:     cfg,
		store:   price.NewStore(cfg.Assets),
		updates: broadcast.New[price.Quote](cfg.BroadcastCapacity),
		events:  broadcast.New[price.Event](cfg.BroadcastCapacity),
		metrics: metrics.NewCollector(),
		logger:  log.Logger,
		status:  make(map[string]price.ProviderStatus),
		seen:    make(map[price.Asset]price.Quote),

		sessChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	// Until Start, RefreshNow cycles run in a session of their own.
	t.sess = t.newSession(context.Background(), 0)
	t.chain = failover.New(providers,
		failover.WithPolicy(cfg.Policy),
		failover.WithLogger(t.logger),
		failover.WithAttemptHook(t.observeAttempt),
	)
	return t, nil
}

// Mode reports the current orchestrator state.
func (t *Tracker) Mode() Mode { return Mode(t.mode.Load()) }

// setMode moves to m. ShuttingDown is terminal.
func (t *Tracker) setMode(m Mode) {
	for {
		old := Mode(t.mode.Load())
		if old == m || old == ShuttingDown {
			return
		}
		if t.mode.CompareAndSwap(int32(old), int32(m)) {
			t.logger.Info().Str("mode", m.String()).Str("from", old.String()).Msg("tracker mode changed")
			return
		}
	}
}

// Assets returns the enabled assets.
func (t *Tracker) Assets() []price.Asset { return t.store.Assets() }

// ActiveProvider is the name of the provider currently serving data.
func (t *Tracker) ActiveProvider() string { return t.chain.At(int(t.active.Load())).Name() }

func (t *Tracker) threshold(a price.Asset) time.Duration {
	if t.cfg.StaleThreshold > 0 {
		return t.cfg.StaleThreshold
	}
	return a.DefaultStaleThreshold()
}

// GetPrice returns the latest quote for a. The error is price.ErrNotAvailable
// when nothing was ever stored and price.ErrStale (with the quote) when the
// quote is older than the stale threshold.
func (t *Tracker) GetPrice(a price.Asset) (price.Quote, error) {
	return t.store.Check(a, t.threshold(a))
}

// GetAllPrices returns the fresh quotes of all enabled assets. Missing and
// stale assets are left out.
func (t *Tracker) GetAllPrices() map[price.Asset]price.Quote {
	out := make(map[price.Asset]price.Quote, len(t.cfg.Assets))
	for _, a := range t.store.Assets() {
		if q, err := t.GetPrice(a); err == nil {
			out[a] = q
		}
	}
	return out
}

// Snapshot returns every stored quote regardless of age; nil for assets
// never populated.
func (t *Tracker) Snapshot() map[price.Asset]*price.Quote { return t.store.GetAll() }

// IsStale reports whether a is missing or past its threshold.
func (t *Tracker) IsStale(a price.Asset) bool { return t.store.IsStale(a, t.threshold(a)) }

// Subscribe attaches a receiver to the update stream. Only updates
// published after the call are delivered.
func (t *Tracker) Subscribe() *broadcast.Subscription[price.Quote] { return t.updates.Subscribe() }

// SubscribeEvents attaches a receiver to the event stream.
func (t *Tracker) SubscribeEvents() *broadcast.Subscription[price.Event] { return t.events.Subscribe() }

// ProviderMetrics returns per-provider latency and success statistics.
func (t *Tracker) ProviderMetrics() []metrics.ProviderMetrics { return t.metrics.All() }

// Start launches the background supervisor. It returns ErrAlreadyStarted on
// a second call and ErrClosed after Close.
func (t *Tracker) Start(ctx context.Context) error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if t.Mode() == ShuttingDown {
		return ErrClosed
	}
	if t.group != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	var gctx context.Context
	t.group, gctx = errgroup.WithContext(runCtx)
	t.setMode(Selecting)
	t.group.Go(func() error { return t.supervise(gctx) })
	t.logger.Info().
		Int("assets", len(t.cfg.Assets)).
		Dur("refresh_interval", t.cfg.RefreshInterval).
		Str("head", t.chain.At(0).Name()).
		Msg("price tracker started")
	return nil
}

// Close stops background work, waits for it up to ctx, and closes the
// broadcast hubs. Subscribers drain what is buffered and then see
// broadcast.ErrClosed.
func (t *Tracker) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.lifeMu.Lock()
		t.setMode(ShuttingDown)
		cancel, group := t.cancel, t.group
		t.lifeMu.Unlock()
		t.swapSession(nil)

		if cancel != nil {
			cancel()
			done := make(chan error, 1)
			go func() { done <- group.Wait() }()
			select {
			case err = <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		t.updates.Close()
		t.events.Close()
		t.logger.Info().Msg("price tracker stopped")
	})
	return err
}
