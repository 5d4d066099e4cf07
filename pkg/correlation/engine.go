// Package correlation implements the Correlation & Timeout Engine: the
// client-side pending-request registry, its cleanup sweep, bilateral
// request/response timeouts, and eventually-consistent statistics.
package correlation

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrShutdown is returned by Register once the engine has been stopped.
var ErrShutdown = errors.New("correlation: engine is shut down")

// ErrFull is returned by Register when the registry is at capacity.
var ErrFull = errors.New("correlation: registry is at capacity")

// ErrCancelled is the rejection reason cancel/cancel_all use.
var ErrCancelled = errors.New("correlation: request was cancelled")

// ErrTimeout is the rejection reason the cleanup sweep uses.
var ErrTimeout = errors.New("correlation: handler_timeout")

// ErrUnknownID is returned by Resolve/Reject/Cancel when id is not (or
// is no longer) registered.
var ErrUnknownID = errors.New("correlation: unknown or already-settled request id")

// ResolveFunc/RejectFunc are the caller-supplied callbacks invoked,
// outside any lock, on settlement.
type ResolveFunc func(response interface{})
type RejectFunc func(err error)

// pendingRequest is the Engine's internal representation of the spec's
// PendingRequest entity.
type pendingRequest struct {
	id           string
	resolve      ResolveFunc
	reject       RejectFunc
	registeredAt time.Time
	timeout      time.Duration
	settled      bool
}

// Statistics is the eventually-consistent snapshot Engine.Stats returns.
type Statistics struct {
	TotalRegistered     uint64
	TotalResolved       uint64
	TotalRejected       uint64
	TotalCancelled      uint64
	TotalTimeout         uint64
	CurrentPending      int
	AverageResponseMS   float64
}

// Config bounds the Engine's registry capacity and cleanup cadence.
type Config struct {
	Capacity        int
	CleanupInterval time.Duration
}

// DefaultConfig matches the spec's stated defaults: capacity 1000,
// cleanup sweep every 30 seconds.
func DefaultConfig() Config {
	return Config{Capacity: 1000, CleanupInterval: 30 * time.Second}
}

// Engine is the Correlation & Timeout Engine. One Engine instance is
// owned per client; it has an explicit Start/Stop lifecycle rather than
// being a package-level singleton.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	registry map[string]*pendingRequest
	shutdown bool

	statMu sync.Mutex
	stats  Statistics
	respSumMS float64
	respCount uint64

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}

	metricsRegistered prometheus.Counter
	metricsTimedOut   prometheus.Counter
}

// New builds an Engine. Start must be called before Register will
// accept entries subject to the cleanup sweep; Register itself works
// without Start, but timed-out entries will only be reaped once Start
// runs (matching the spec's explicit Start/Stop lifecycle, replacing
// any ambient module-level timer).
func New(cfg Config, reg prometheus.Registerer) *Engine {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	e := &Engine{
		cfg:      cfg,
		registry: make(map[string]*pendingRequest),
	}
	if reg != nil {
		e.metricsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "janus_correlation_registered_total",
			Help: "Total requests registered with the correlation engine.",
		})
		e.metricsTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "janus_correlation_timeout_total",
			Help: "Total requests rejected by the cleanup sweep as timed out.",
		})
		reg.MustRegister(e.metricsRegistered, e.metricsTimedOut)
	}
	return e
}

// Start arms the cleanup sweep ticker. Calling Start twice is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	already := e.cleanupTicker != nil
	e.mu.Unlock()
	if already {
		return
	}
	e.cleanupTicker = time.NewTicker(e.cfg.CleanupInterval)
	e.cleanupDone = make(chan struct{})
	go e.cleanupLoop()
}

func (e *Engine) cleanupLoop() {
	for {
		select {
		case <-e.cleanupTicker.C:
			e.sweep()
		case <-e.cleanupDone:
			return
		}
	}
}

// sweep rejects every entry whose deadline has passed. Per §5, no
// suspension is allowed while holding the registry lock: expired
// entries are collected under lock, then their reject callbacks are
// invoked after the lock is released.
func (e *Engine) sweep() {
	now := time.Now()
	var expired []*pendingRequest

	e.mu.Lock()
	for id, pr := range e.registry {
		if now.After(pr.registeredAt.Add(pr.timeout)) {
			pr.settled = true
			expired = append(expired, pr)
			delete(e.registry, id)
		}
	}
	e.mu.Unlock()

	for _, pr := range expired {
		e.recordSettled(&e.stats.TotalTimeout)
		if e.metricsTimedOut != nil {
			e.metricsTimedOut.Inc()
		}
		pr.reject(ErrTimeout)
	}
}

// Register inserts a PendingRequest under id, arming a deadline of
// timeout from now. Fails with ErrShutdown or ErrFull; on success emits
// the implicit "register" accounting (statistics only — event emission
// to external subscribers is the Client Facade's responsibility, layered
// on top of this call's success).
func (e *Engine) Register(id string, timeout time.Duration, resolve ResolveFunc, reject RejectFunc) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return ErrShutdown
	}
	if len(e.registry) >= e.cfg.Capacity {
		e.mu.Unlock()
		return ErrFull
	}
	e.registry[id] = &pendingRequest{
		id:           id,
		resolve:      resolve,
		reject:       reject,
		registeredAt: time.Now(),
		timeout:      timeout,
	}
	e.mu.Unlock()

	e.statMu.Lock()
	e.stats.TotalRegistered++
	e.stats.CurrentPending = e.registryLen()
	e.statMu.Unlock()
	if e.metricsRegistered != nil {
		e.metricsRegistered.Inc()
	}
	return nil
}

func (e *Engine) registryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registry)
}

// take removes and returns the entry for id if present and not already
// settled, guaranteeing at-most-once settlement under concurrent calls.
func (e *Engine) take(id string) *pendingRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	pr, ok := e.registry[id]
	if !ok || pr.settled {
		return nil
	}
	pr.settled = true
	delete(e.registry, id)
	return pr
}

// Resolve settles id successfully, invoking its resolve callback with
// response outside the lock. Returns ErrUnknownID if id is not (or no
// longer) pending.
func (e *Engine) Resolve(id string, response interface{}) error {
	pr := e.take(id)
	if pr == nil {
		return ErrUnknownID
	}
	elapsed := time.Since(pr.registeredAt).Seconds() * 1000
	e.recordSettled(&e.stats.TotalResolved)
	e.recordResponseTime(elapsed)
	pr.resolve(response)
	return nil
}

// Reject settles id with a failure, invoking its reject callback with
// err outside the lock.
func (e *Engine) Reject(id string, err error) error {
	pr := e.take(id)
	if pr == nil {
		return ErrUnknownID
	}
	e.recordSettled(&e.stats.TotalRejected)
	pr.reject(err)
	return nil
}

// Cancel settles id with ErrCancelled.
func (e *Engine) Cancel(id string) error {
	pr := e.take(id)
	if pr == nil {
		return ErrUnknownID
	}
	e.recordSettled(&e.stats.TotalCancelled)
	pr.reject(ErrCancelled)
	return nil
}

// CancelAll settles every currently-pending entry with ErrCancelled,
// returning the count cancelled.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	all := make([]*pendingRequest, 0, len(e.registry))
	for id, pr := range e.registry {
		pr.settled = true
		all = append(all, pr)
		delete(e.registry, id)
	}
	e.mu.Unlock()

	for _, pr := range all {
		e.recordSettled(&e.stats.TotalCancelled)
		pr.reject(ErrCancelled)
	}
	return len(all)
}

// PendingIDs returns a snapshot of currently-registered request IDs.
func (e *Engine) PendingIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.registry))
	for id := range e.registry {
		ids = append(ids, id)
	}
	return ids
}

// IsPending reports whether id is currently registered.
func (e *Engine) IsPending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.registry[id]
	return ok
}

// PendingCount returns the number of currently-registered entries.
func (e *Engine) PendingCount() int {
	return e.registryLen()
}

// Stop idempotently shuts the engine down: further Register calls fail
// with ErrShutdown, the cleanup ticker is stopped, and every pending
// entry is rejected with ErrCancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.mu.Unlock()

	if e.cleanupTicker != nil {
		e.cleanupTicker.Stop()
		close(e.cleanupDone)
	}
	e.CancelAll()
}

// Stats returns an eventually-consistent snapshot of the Engine's
// counters, copied under the same stats lock that writers take.
func (e *Engine) Stats() Statistics {
	e.statMu.Lock()
	defer e.statMu.Unlock()
	snap := e.stats
	snap.CurrentPending = e.registryLen()
	if e.respCount > 0 {
		snap.AverageResponseMS = e.respSumMS / float64(e.respCount)
	}
	return snap
}

func (e *Engine) recordSettled(counter *uint64) {
	e.statMu.Lock()
	*counter++
	e.statMu.Unlock()
}

func (e *Engine) recordResponseTime(ms float64) {
	e.statMu.Lock()
	e.respSumMS += ms
	e.respCount++
	e.statMu.Unlock()
}
