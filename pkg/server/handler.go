package server

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/janusipc/janus/pkg/wire"
)

// Handler is a registered request handler: given a decoded Request it
// returns a wire.Value result or a wire.Error. Handlers never panic
// across this boundary; a panic inside a handler is recovered by the
// dispatcher and turned into an internal_error response.
type Handler func(req wire.Request) (wire.Value, *wire.Error)

// registry holds user-registered handlers, rejecting any attempt to
// shadow a reserved built-in name. register/unregister race against
// lookup from every in-flight handleDatagram goroutine, so access to
// handlers is guarded by mu.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

func (r *registry) register(name string, h Handler) error {
	if _, reserved := builtinHandlers[name]; reserved {
		return errors.Newf("server: cannot override built-in request %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return nil
}

func (r *registry) unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

func (r *registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// BindArgs decodes req.Args into dst (a pointer to a struct or map),
// using mapstructure so a registered handler can declare a typed params
// struct with `mapstructure` tags instead of indexing into
// map[string]wire.Value by hand.
func BindArgs[T any](req wire.Request, dst *T) error {
	raw := make(map[string]interface{}, len(req.Args))
	for k, v := range req.Args {
		raw[k] = v.ToInterface()
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "server: building args decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return errors.Wrap(err, "server: decoding request args")
	}
	return nil
}
