// Package server implements the Server Dispatcher: socket bind and
// receive loop, handler resolution (registered handlers then the
// built-in set), ClientRecord tracking with max_connections eviction,
// Response Validator application, and reply emission.
package server

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/janusipc/janus/pkg/manifest"
	"github.com/janusipc/janus/pkg/security"
	"github.com/janusipc/janus/pkg/transport"
	"github.com/janusipc/janus/pkg/validate"
	"github.com/janusipc/janus/pkg/wire"
)

// EventHandler receives data from a dispatcher-emitted event.
type EventHandler func(data interface{})

// Config configures a Server.
type Config struct {
	SocketPath        string
	Name              string
	Version           string
	MaxConnections    int
	DefaultTimeout    time.Duration
	MaxMessageSize    int
	CleanupOnStart    bool
	CleanupOnShutdown bool
}

// DefaultConfig matches the spec's stated server defaults.
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:        socketPath,
		Name:              "janus-server",
		Version:           "1.0.0",
		MaxConnections:    100,
		DefaultTimeout:    30 * time.Second,
		MaxMessageSize:    wire.DefaultMaxMessageSize,
		CleanupOnStart:    true,
		CleanupOnShutdown: true,
	}
}

// ClientRecord is the Server Dispatcher's transient, server-only record
// of activity from one sender path.
type ClientRecord struct {
	ID           string
	SenderPath   string
	FirstSeen    time.Time
	LastSeen     time.Time
	MessageCount int
}

// Stats is the eventually-consistent snapshot the server_stats built-in
// request and Server.Stats expose.
type Stats struct {
	StartedAt        time.Time
	TotalConnections uint64
	TotalRequests    uint64
	ActiveClients    int
}

// Server is the Server Dispatcher.
type Server struct {
	cfg      Config
	reg      *registry
	gate     *security.Gate
	listener *transport.ListenerSocket
	log      *logrus.Entry

	manifestMu sync.RWMutex
	man        *manifest.Manifest

	runMu   sync.Mutex
	running bool

	clientsMu sync.Mutex
	clients   map[string]*ClientRecord

	statsMu sync.Mutex
	stats   Stats

	eventsMu sync.RWMutex
	events   map[string][]EventHandler

	metricRequests prometheus.Counter
	metricActive   prometheus.Gauge
	metricLatency  prometheus.Histogram
}

// New constructs a Server bound to no socket yet; Start performs the
// actual bind. man may be nil, in which case handler results are never
// passed through the Response Validator.
func New(cfg Config, man *manifest.Manifest, reg prometheus.Registerer) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = wire.DefaultMaxMessageSize
	}
	s := &Server{
		cfg:     cfg,
		reg:     newRegistry(),
		gate:    security.NewGate(),
		man:     man,
		clients: make(map[string]*ClientRecord),
		events:  make(map[string][]EventHandler),
		log:     logrus.NewEntry(logrus.New()).WithField("component", "server"),
	}
	if reg != nil {
		s.metricRequests = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "janus_server_requests_total",
			Help: "Total requests processed by the dispatcher.",
		})
		s.metricActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "janus_server_active_clients",
			Help: "Currently tracked ClientRecord count.",
		})
		s.metricLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "janus_server_handler_latency_seconds",
			Help:    "Handler execution latency.",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(s.metricRequests, s.metricActive, s.metricLatency)
	}
	return s
}

// RegisterHandler registers h under name, rejecting any attempt to
// shadow a built-in request.
func (s *Server) RegisterHandler(name string, h Handler) error {
	return s.reg.register(name, h)
}

// UnregisterHandler removes a previously registered handler.
func (s *Server) UnregisterHandler(name string) {
	s.reg.unregister(name)
}

// On registers an event handler for eventType ("listening", "request",
// "response", "error").
func (s *Server) On(eventType string, h EventHandler) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events[eventType] = append(s.events[eventType], h)
}

func (s *Server) emit(eventType string, data interface{}) {
	s.eventsMu.RLock()
	handlers := append([]EventHandler(nil), s.events[eventType]...)
	s.eventsMu.RUnlock()
	for _, h := range handlers {
		go h(data)
	}
}

// SetManifest installs or replaces the Manifest used for Response
// Validation, letting a hot-reload watcher swap it without restarting
// the dispatcher.
func (s *Server) SetManifest(m *manifest.Manifest) {
	s.manifestMu.Lock()
	s.man = m
	s.manifestMu.Unlock()
}

func (s *Server) currentManifest() *manifest.Manifest {
	s.manifestMu.RLock()
	defer s.manifestMu.RUnlock()
	return s.man
}

// Stats returns a snapshot of the dispatcher's running counters.
func (s *Server) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	snap := s.stats
	s.clientsMu.Lock()
	snap.ActiveClients = len(s.clients)
	s.clientsMu.Unlock()
	return snap
}

func (s *Server) isRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Start binds the configured socket path and runs the receive loop,
// blocking until Stop is called. Startup validates the socket path via
// the Security Gate, unlinking any stale inode first when
// CleanupOnStart is set.
func (s *Server) Start() error {
	if err := s.gate.ValidateSocketPath(s.cfg.SocketPath); err != nil {
		return errors.Wrap(err, "server: invalid socket path")
	}

	listener, err := transport.Listen(s.cfg.SocketPath, s.cfg.CleanupOnStart)
	if err != nil {
		s.emit("error", err)
		return errors.Wrap(err, "server: failed to bind")
	}
	s.listener = listener
	if s.cfg.CleanupOnShutdown {
		defer listener.Close()
	} else {
		defer listener.CloseKeepInode()
	}

	s.runMu.Lock()
	s.running = true
	s.runMu.Unlock()
	s.statsMu.Lock()
	s.stats.StartedAt = time.Now()
	s.statsMu.Unlock()

	s.log.WithField("socket", s.cfg.SocketPath).Info("server listening")
	s.emit("listening", nil)

	buf := make([]byte, s.cfg.MaxMessageSize)
	for s.isRunning() {
		n, err := s.listener.ReceiveFrom(buf, time.Now().Add(1*time.Second))
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if s.isRunning() {
				s.log.WithError(err).Warn("receive error")
				s.emit("error", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go s.handleDatagram(data)
	}

	s.log.Info("server stopped")
	return nil
}

// Stop flips the running flag; the receive loop exits within one poll
// interval (at most ~1s), and the socket inode is removed if
// CleanupOnShutdown is set (handled by Start's deferred Close).
func (s *Server) Stop() {
	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()
}

func (s *Server) handleDatagram(data []byte) {
	req, err := wire.DecodeRequest(data, s.cfg.MaxMessageSize)
	if err != nil {
		s.log.WithError(err).Debug("dropping undecodable datagram")
		s.emit("error", err)
		return
	}

	senderPath := ""
	if req.ReplyTo != nil {
		senderPath = *req.ReplyTo
	}
	s.touchClient(senderPath)

	if s.metricRequests != nil {
		s.metricRequests.Inc()
	}
	s.statsMu.Lock()
	s.stats.TotalRequests++
	s.statsMu.Unlock()

	s.emit("request", req)

	if !req.ExpectsReply() {
		s.runHandler(req)
		return
	}

	deadline := req.TimeoutOrDefault(s.cfg.DefaultTimeout)
	if deadline > s.cfg.DefaultTimeout {
		deadline = s.cfg.DefaultTimeout
	}
	resp := s.runHandlerWithDeadline(req, deadline)
	s.sendReply(resp, *req.ReplyTo)
	s.emit("response", resp)
}

func (s *Server) touchClient(senderPath string) {
	key := senderPath
	if key == "" {
		return
	}
	now := time.Now()

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if rec, ok := s.clients[key]; ok {
		rec.LastSeen = now
		rec.MessageCount++
		if s.metricActive != nil {
			s.metricActive.Set(float64(len(s.clients)))
		}
		return
	}

	if s.cfg.MaxConnections > 0 && len(s.clients) >= s.cfg.MaxConnections {
		s.evictOldestLocked()
	}
	s.clients[key] = &ClientRecord{
		ID:           key,
		SenderPath:   key,
		FirstSeen:    now,
		LastSeen:     now,
		MessageCount: 1,
	}
	s.statsMu.Lock()
	s.stats.TotalConnections++
	s.statsMu.Unlock()
	if s.metricActive != nil {
		s.metricActive.Set(float64(len(s.clients)))
	}
}

// evictOldestLocked removes the least-recently-active ClientRecord.
// Callers must hold s.clientsMu.
func (s *Server) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, rec := range s.clients {
		if oldestKey == "" || rec.LastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = rec.LastSeen
		}
	}
	if oldestKey != "" {
		delete(s.clients, oldestKey)
	}
}

// runHandler executes the resolved handler for req with no reply-
// emission deadline (fire-and-forget path).
func (s *Server) runHandler(req wire.Request) wire.Response {
	return s.dispatch(req)
}

// runHandlerWithDeadline executes the resolved handler for req,
// returning a handler_timeout response if it does not complete within
// deadline.
func (s *Server) runHandlerWithDeadline(req wire.Request, deadline time.Duration) wire.Response {
	done := make(chan wire.Response, 1)
	go func() {
		done <- s.dispatch(req)
	}()

	select {
	case resp := <-done:
		return resp
	case <-time.After(deadline):
		return wire.NewFailure(req.ID, wire.NewError(wire.ErrHandlerTimeout), float64(time.Now().Unix()))
	}
}

// dispatch resolves and runs the handler for req, recovering from any
// panic at this boundary and applying the Response Validator to a
// successful result when a Manifest is loaded.
func (s *Server) dispatch(req wire.Request) (resp wire.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = wire.NewFailure(req.ID, wire.NewErrorWithData(
				wire.ErrInternalError, wire.String(errors.Newf("handler panic: %v", r).Error())), float64(time.Now().Unix()))
		}
		if s.metricLatency != nil {
			s.metricLatency.Observe(time.Since(start).Seconds())
		}
	}()

	result, handlerErr := s.resolveAndRun(req)
	if handlerErr != nil {
		return wire.NewFailure(req.ID, handlerErr, float64(time.Now().Unix()))
	}

	if m := s.currentManifest(); m != nil {
		if reqSpec, _, ok := m.ResolveRequest(req.Request); ok && reqSpec.Response != nil {
			res := validate.ValidateResponse(result, reqSpec.Response, m.Models)
			if !res.Valid {
				s.log.WithField("request", req.Request).
					WithField("errors", res.Errors).
					Warn("handler result failed response validation")
			}
		}
	}

	return wire.NewSuccess(req.ID, result, float64(time.Now().Unix()))
}

func (s *Server) resolveAndRun(req wire.Request) (wire.Value, *wire.Error) {
	if h, ok := s.reg.lookup(req.Request); ok {
		return h(req)
	}
	if h, ok := builtinHandlers[req.Request]; ok {
		return h(s, req)
	}
	return wire.Value{}, wire.NewErrorWithData(
		wire.ErrMethodNotFound,
		wire.String("request not found: "+req.Request),
	)
}

// sendReply emits resp to replyTo, downgrading a vanished reply socket
// (ENOENT) to a debug log rather than an operational failure, per the
// ephemeral reply-socket race.
func (s *Server) sendReply(resp wire.Response, replyTo string) {
	encoded, err := wire.EncodeResponse(resp, s.cfg.MaxMessageSize)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		return
	}
	if err := transport.SendReply(encoded, replyTo); err != nil {
		if transport.IsENOENT(err) {
			s.log.WithField("reply_to", replyTo).Debug("reply socket vanished before send")
			return
		}
		s.log.WithError(err).Warn("failed to send reply")
		s.emit("error", err)
	}
}
