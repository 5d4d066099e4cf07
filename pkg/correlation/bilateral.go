package correlation

import (
	"sync"
	"time"
)

// bilateralPair tracks the two Engine registrations backing one logical
// bilateral timeout: a pre-send wire timeout ("<id>-request") and a
// post-send wait timeout ("<id>-response").
type bilateralPair struct {
	requestID  string
	responseID string
}

// BilateralTimeouts layers the spec's optional bilateral-timeout
// behavior on top of an Engine: registering, extending, and atomically
// cancelling a matched request/response timer pair under one base id.
type BilateralTimeouts struct {
	engine *Engine

	mu    sync.Mutex
	pairs map[string]*bilateralPair
}

// NewBilateralTimeouts wraps engine with bilateral pair tracking.
func NewBilateralTimeouts(engine *Engine) *BilateralTimeouts {
	return &BilateralTimeouts{engine: engine, pairs: make(map[string]*bilateralPair)}
}

// Register arms both timers for base id: a requestTimeout bounding the
// pre-send wire phase and a responseTimeout bounding the post-send wait
// phase, each with its own resolve/reject callback.
func (b *BilateralTimeouts) Register(
	baseID string,
	requestTimeout, responseTimeout time.Duration,
	onRequestSettled, onResponseSettled func(error),
) error {
	reqID := baseID + "-request"
	respID := baseID + "-response"

	if err := b.engine.Register(reqID, requestTimeout, func(interface{}) {}, onRequestSettled); err != nil {
		return err
	}
	if err := b.engine.Register(respID, responseTimeout, func(interface{}) {}, onResponseSettled); err != nil {
		_ = b.engine.Cancel(reqID)
		return err
	}

	b.mu.Lock()
	b.pairs[baseID] = &bilateralPair{requestID: reqID, responseID: respID}
	b.mu.Unlock()
	return nil
}

// CancelBoth atomically cancels both timers registered for baseID, the
// "cancel both atomically on completion" behavior the spec calls for
// once a request/response cycle finishes normally.
func (b *BilateralTimeouts) CancelBoth(baseID string) {
	b.mu.Lock()
	pair, ok := b.pairs[baseID]
	if ok {
		delete(b.pairs, baseID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = b.engine.Cancel(pair.requestID)
	_ = b.engine.Cancel(pair.responseID)
}

// ExtendResponse reschedules the response-phase deadline by increment,
// preserving the pair's original registration time rather than
// resetting it — the spec's "extending a timeout preserves the original
// registration time but reschedules the deadline by adding the new
// increment" rule. It does this by adding increment to the registered
// response entry's timeout in place, under the Engine's lock, leaving
// its registered_at untouched.
func (b *BilateralTimeouts) ExtendResponse(baseID string, increment time.Duration, onSettled func(error)) error {
	b.mu.Lock()
	pair, ok := b.pairs[baseID]
	b.mu.Unlock()
	if !ok {
		return ErrUnknownID
	}

	e := b.engine
	e.mu.Lock()
	pr, ok := e.registry[pair.responseID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownID
	}
	pr.timeout += increment
	e.mu.Unlock()
	return nil
}
