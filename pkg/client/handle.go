package client

import (
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/janusipc/janus/pkg/correlation"
	"github.com/janusipc/janus/pkg/wire"
)

// Status values for RequestHandle.Status.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// RequestHandle tracks one in-flight asynchronous request, exposing its
// status and a Cancel method, backed by a looplab/fsm state machine
// enforcing pending -> {completed, cancelled} as the only legal
// transitions.
type RequestHandle struct {
	ID       string
	mu       sync.Mutex
	machine  *fsm.FSM
	response wire.Response
	err      error
	engine   *correlation.Engine
}

func newRequestHandle(id string, engine *correlation.Engine) *RequestHandle {
	h := &RequestHandle{ID: id, engine: engine}
	h.machine = fsm.NewFSM(
		StatusPending,
		fsm.Events{
			{Name: "complete", Src: []string{StatusPending}, Dst: StatusCompleted},
			{Name: "cancel", Src: []string{StatusPending}, Dst: StatusCancelled},
		},
		fsm.Callbacks{},
	)
	return h
}

// Status returns the handle's current state: pending, completed, or
// cancelled.
func (h *RequestHandle) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.machine.Current()
}

// Cancel cancels the underlying Correlation Engine registration if the
// handle is still pending; a no-op (returns false) once the handle has
// already settled.
func (h *RequestHandle) Cancel() bool {
	h.mu.Lock()
	if h.machine.Current() != StatusPending {
		h.mu.Unlock()
		return false
	}
	_ = h.machine.Event(nil, "cancel")
	h.mu.Unlock()
	// The engine's reject callback calls settle, which takes h.mu; it
	// finds the handle already cancelled and returns.
	_ = h.engine.Cancel(h.ID)
	return true
}

// Result returns the settled Response and error once Status() reports
// completed; it is safe to call at any time, returning the zero value
// before settlement.
func (h *RequestHandle) Result() (wire.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.response, h.err
}

func (h *RequestHandle) settle(resp wire.Response, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.machine.Current() != StatusPending {
		return
	}
	h.response = resp
	h.err = err
	_ = h.machine.Event(nil, "complete")
}

// SendWithHandle sends name asynchronously, registering the outstanding
// call with the Correlation Engine and returning a RequestHandle the
// caller can poll or cancel instead of blocking.
func (c *Client) SendWithHandle(name string, args map[string]wire.Value, timeout time.Duration) (*RequestHandle, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	id := wire.NewRequestID()
	handle := newRequestHandle(id, c.engine)

	err := c.engine.Register(id, timeout, func(r interface{}) {
		if resp, ok := r.(wire.Response); ok {
			handle.settle(resp, nil)
		}
	}, func(err error) {
		handle.settle(wire.Response{}, err)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		resp, sendErr := c.SendRequest(name, args, timeout)
		if sendErr != nil {
			_ = c.engine.Reject(id, sendErr)
			return
		}
		_ = c.engine.Resolve(id, resp)
	}()

	return handle, nil
}
