package ariston

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Engine defaults.
const (
	// MinPollPeriod is the fastest permitted poll period.
	MinPollPeriod = 30 * time.Second

	DefaultSetRetryDelay  = 5 * time.Second
	DefaultMaxSetRetries  = 5
	DefaultRequestTimeout = 25 * time.Second

	// logoutTimeout bounds the best-effort logout during Stop.
	logoutTimeout = 5 * time.Second
)

// State is the engine lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logger is the structured logger used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// API is the remote service client. Required.
	API RemoteAPI

	Username string
	Password string

	// Gateway selects a plant when the account has several. Empty picks
	// the first listed.
	Gateway string

	// Parameters is the requested parameter set. Nil uses DefaultParameters.
	Parameters []string

	// Zones is the number of configured heating zones (1..MaxZones).
	Zones int

	// Period is the poll period, raised to MinPollPeriod if lower.
	Period time.Duration

	// SetRetryDelay is the pause between write attempts.
	SetRetryDelay time.Duration

	// MaxSetRetries is the number of write attempts per set.
	MaxSetRetries int

	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// EngineMetrics holds operational counters.
type EngineMetrics struct {
	Polls        uint64 `json:"polls"`
	PollFailures uint64 `json:"poll_failures"`
	AuthFailures uint64 `json:"auth_failures"`
	Sets         uint64 `json:"sets"`
	SetFailures  uint64 `json:"set_failures"`
	SetRetries   uint64 `json:"set_retries"`
}

type engineCounters struct {
	polls        atomic.Uint64
	pollFailures atomic.Uint64
	authFailures atomic.Uint64
	sets         atomic.Uint64
	setFailures  atomic.Uint64
	setRetries   atomic.Uint64
}

// Engine keeps the device state cache synchronised with the remote service
// and executes parameter writes.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	api     RemoteAPI
	opts    EngineOptions
	catalog *Catalog
	cache   *Cache
	session session

	// Lifecycle
	stateMu    sync.Mutex
	stopMu     sync.Mutex
	state      State
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	stopCh     chan struct{}
	inflight   sync.WaitGroup

	// Poller state, written by the poll goroutine
	pollState   atomic.Int32
	primaryOK   atomic.Bool
	lastFetched map[Dataset]time.Time

	keyLocks keyLocker

	observers   []SetObserver
	observersMu sync.RWMutex

	counters engineCounters

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEngine creates an engine in the stopped state.
// Call Start to begin polling.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("remote API is required")
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrAuthentication)
	}

	if opts.Parameters == nil {
		opts.Parameters = DefaultParameters
	}
	if opts.Period < MinPollPeriod {
		opts.Period = MinPollPeriod
	}
	if opts.SetRetryDelay <= 0 {
		opts.SetRetryDelay = DefaultSetRetryDelay
	}
	if opts.MaxSetRetries < 1 {
		opts.MaxSetRetries = DefaultMaxSetRetries
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	catalog, unknown := NewCatalog(opts.Parameters, opts.Zones)
	opts.Zones = catalog.Zones()

	e := &Engine{
		api:         opts.API,
		opts:        opts,
		catalog:     catalog,
		cache:       NewCache(),
		lastFetched: make(map[Dataset]time.Time),
		keyLocks:    keyLocker{locks: make(map[string]*sync.Mutex)},
		logger:      opts.Logger,
	}
	if len(unknown) > 0 {
		e.logWarn("ignoring unknown parameters", "parameters", unknown)
	}
	e.updateDerived()
	return e, nil
}

// Start launches the poll loop and returns once the loop is about to issue
// the first authentication attempt; the engine is RUNNING from then on and
// its session follows asynchronously. Start is a no-op while the engine is
// starting or running.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	switch e.state {
	case StateStarting, StateRunning:
		e.stateMu.Unlock()
		return nil
	case StateStopping:
		e.stateMu.Unlock()
		return fmt.Errorf("%w: stop in progress", ErrNotRunning)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.state = StateStarting
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})
	e.stopCh = make(chan struct{})
	started := make(chan struct{})
	done := e.loopDone
	e.stateMu.Unlock()

	e.logInfo("engine starting",
		"zones", e.opts.Zones,
		"period", e.opts.Period.String(),
		"parameters", len(e.catalog.ActiveKeys()))

	go e.runLoop(loopCtx, started, done)

	select {
	case <-started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the poll loop, waits for it and for in-flight sets, logs out
// (errors ignored) and returns once the engine is stopped.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()

	e.stateMu.Lock()
	if e.state == StateStopped {
		e.stateMu.Unlock()
		return
	}
	e.state = StateStopping
	cancel, done, stopCh := e.loopCancel, e.loopDone, e.stopCh
	e.stateMu.Unlock()

	close(stopCh)
	cancel()
	<-done
	e.inflight.Wait()

	if s := e.session.get(); s.Authenticated || s.PlantID != "" {
		ctx, cancelLogout := context.WithTimeout(context.Background(), logoutTimeout)
		if err := e.api.Logout(ctx); err != nil {
			e.logDebug("logout failed", "error", err)
		}
		cancelLogout()
	}

	e.session.clear()
	e.primaryOK.Store(false)
	e.updateDerived()

	e.stateMu.Lock()
	e.state = StateStopped
	e.stateMu.Unlock()

	e.logInfo("engine stopped")
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) isRunning() bool {
	return e.State() == StateRunning
}

// markRunning completes Start once the first authentication attempt is done.
func (e *Engine) markRunning() {
	e.stateMu.Lock()
	if e.state == StateStarting {
		e.state = StateRunning
	}
	e.stateMu.Unlock()
}

// beginSet admits a set request while running and registers it so Stop can
// wait for it. The returned channel closes when Stop begins.
func (e *Engine) beginSet() (<-chan struct{}, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != StateRunning {
		return nil, fmt.Errorf("%w: state %s", ErrNotRunning, e.state)
	}
	e.inflight.Add(1)
	return e.stopCh, nil
}

// Available reports whether the session is authenticated and the latest
// primary fetch succeeded.
func (e *Engine) Available() bool {
	return e.session.authenticated() && e.primaryOK.Load()
}

// Session returns a copy of the session state.
func (e *Engine) Session() Session {
	return e.session.get()
}

// reportAuthFailure is how the set pipeline signals an expired session.
// The poller re-authenticates on its next cycle.
func (e *Engine) reportAuthFailure(err error) {
	e.session.invalidate(err)
	e.primaryOK.Store(false)
	e.updateDerived()
	e.logWarn("remote session rejected a write, re-authentication scheduled", "error", err)
}

// Get returns the cached entry for a key string such as "ch_mode_zone1".
func (e *Engine) Get(key string) (Entry, error) {
	return e.cache.Get(key)
}

// Snapshot returns a point-in-time copy of the cache.
func (e *Engine) Snapshot() map[string]Entry {
	return e.cache.Snapshot()
}

// ParameterCount returns the number of cached entries.
func (e *Engine) ParameterCount() int {
	return e.cache.Len()
}

// Pending returns the in-flight writes.
func (e *Engine) Pending() []PendingSet {
	return e.cache.Pending()
}

// Subscribe registers fn for cache changes. See Cache.Subscribe.
func (e *Engine) Subscribe(fn func([]Change)) func() {
	return e.cache.Subscribe(fn)
}

// Catalog returns the engine's parameter catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// AddSetObserver registers fn to receive one record per written key.
func (e *Engine) AddSetObserver(fn SetObserver) {
	e.observersMu.Lock()
	e.observers = append(e.observers, fn)
	e.observersMu.Unlock()
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() EngineMetrics {
	return EngineMetrics{
		Polls:        e.counters.polls.Load(),
		PollFailures: e.counters.pollFailures.Load(),
		AuthFailures: e.counters.authFailures.Load(),
		Sets:         e.counters.sets.Load(),
		SetFailures:  e.counters.setFailures.Load(),
		SetRetries:   e.counters.setRetries.Load(),
	}
}

// updateDerived refreshes the online and changing_data entries.
func (e *Engine) updateDerived() {
	e.cache.merge(map[string]*Entry{
		ParamOnline:       {Value: e.Available()},
		ParamChangingData: {Value: e.cache.pendingCount() > 0},
	})
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
