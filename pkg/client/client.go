// Package client implements the Client Facade: request construction,
// Security Gate and Argument Validator application, lazy Manifest
// fetch, and the send/no-reply/with-handle/parallel call shapes.
package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/janusipc/janus/pkg/correlation"
	"github.com/janusipc/janus/pkg/manifest"
	"github.com/janusipc/janus/pkg/security"
	"github.com/janusipc/janus/pkg/transport"
	"github.com/janusipc/janus/pkg/validate"
	"github.com/janusipc/janus/pkg/wire"
)

// Config configures a Client. ServerPath is the only required field.
type Config struct {
	ServerPath       string
	DefaultTimeout   time.Duration
	MaxMessageSize   int
	ReplyPathPrefix  string
	EnableValidation bool
	Logger           *logrus.Logger
}

// DefaultConfig returns a Config with the spec's stated defaults: a 30s
// per-request deadline, 64 KiB transport ceiling, validation enabled.
func DefaultConfig(serverPath string) Config {
	return Config{
		ServerPath:       serverPath,
		DefaultTimeout:   30 * time.Second,
		MaxMessageSize:   wire.DefaultMaxMessageSize,
		ReplyPathPrefix:  "janus-client",
		EnableValidation: true,
	}
}

// Client is the Client Facade. Construction validates configuration via
// the Security Gate; the Manifest is fetched lazily on first validated
// request rather than at construction time, to avoid forcing every
// caller to pay a round trip up front.
type Client struct {
	cfg    Config
	gate   *security.Gate
	tr     *transport.Transport
	engine *correlation.Engine
	log    *logrus.Entry

	manifestMu sync.RWMutex
	man        *manifest.Manifest
	manFailed  bool
}

// New constructs a Client, validating cfg.ServerPath through the
// Security Gate immediately (construction fails fast on a bad path
// rather than deferring to the first call).
func New(cfg Config) (*Client, error) {
	gate := security.NewGate()
	if err := gate.ValidateSocketPath(cfg.ServerPath); err != nil {
		return nil, errors.Wrap(err, "client: invalid server path")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = wire.DefaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	engine := correlation.New(correlation.DefaultConfig(), nil)
	engine.Start()
	return &Client{
		cfg:    cfg,
		gate:   gate,
		tr:     transport.New(cfg.MaxMessageSize),
		engine: engine,
		log:    logger.WithField("component", "client"),
	}, nil
}

// ensureManifestLoaded lazily fetches the Manifest via the reserved
// "manifest" request, bypassing Argument Validation to break the
// bootstrapping cycle (you cannot validate arguments against a Manifest
// you don't have yet). A connection-level fetch failure is returned to
// the caller; any other failure (e.g. the server has no Manifest
// configured) leaves the Manifest absent and callers fall back to basic
// (unvalidated) request construction.
func (c *Client) ensureManifestLoaded() error {
	c.manifestMu.RLock()
	loaded := c.man != nil || c.manFailed
	c.manifestMu.RUnlock()
	if loaded || !c.cfg.EnableValidation {
		return nil
	}

	c.manifestMu.Lock()
	defer c.manifestMu.Unlock()
	if c.man != nil || c.manFailed {
		return nil
	}

	resp, err := c.sendRaw("manifest", nil, c.cfg.DefaultTimeout)
	if err != nil {
		var te *transport.Error
		if errors.As(err, &te) {
			c.log.WithError(err).Warn("manifest fetch failed with a connection error")
			c.manFailed = true
			return err
		}
		c.manFailed = true
		return nil
	}
	if !resp.Success || resp.Result == nil {
		c.manFailed = true
		return nil
	}
	data, err := resp.Result.MarshalJSON()
	if err != nil {
		c.manFailed = true
		return nil
	}
	m, err := manifest.ParseJSON(data)
	if err != nil {
		c.log.WithError(err).Debug("fetched manifest failed structural validation")
		c.manFailed = true
		return nil
	}
	c.man = m
	return nil
}

func (c *Client) currentManifest() *manifest.Manifest {
	c.manifestMu.RLock()
	defer c.manifestMu.RUnlock()
	return c.man
}

// SetManifest installs m as the Client's active Manifest, bypassing the
// lazy server fetch. Useful when a caller already has a trusted local
// Manifest (a CLI --manifest flag, a hot-reload watcher) and wants
// Argument Validation without a round trip.
func (c *Client) SetManifest(m *manifest.Manifest) {
	c.manifestMu.Lock()
	c.man = m
	c.manFailed = false
	c.manifestMu.Unlock()
}

// SendRequest builds, validates, sends, and awaits a reply for name,
// returning the decoded Response or a response_tracking_error if the
// reply's request_id does not match what was sent.
func (c *Client) SendRequest(name string, args map[string]wire.Value, timeout time.Duration) (wire.Response, error) {
	if name != "manifest" && name != "spec" {
		if err := c.ensureManifestLoaded(); err != nil {
			return wire.Response{}, err
		}
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	return c.sendRaw(name, args, timeout)
}

func (c *Client) sendRaw(name string, args map[string]wire.Value, timeout time.Duration) (wire.Response, error) {
	replyPath := transport.GenerateReplyPath(c.cfg.ReplyPathPrefix)
	timeoutSecs := timeout.Seconds()
	req := wire.NewRequest(name, args, &timeoutSecs, replyPath)

	if err := c.gate.ValidateRequest(req, nil); err != nil {
		return wire.Response{}, errors.Wrap(err, "client: security_violation")
	}

	if !manifest.ReservedRequestNames[name] {
		if m := c.currentManifest(); m != nil {
			if reqSpec, _, ok := m.ResolveRequest(name); ok {
				if fieldErr := validate.ValidateArguments(args, reqSpec.Args, m.Models); fieldErr != nil {
					return wire.Response{}, errors.Wrap(fieldErr, "client: invalid_params")
				}
			}
		}
	}

	encoded, err := wire.EncodeRequest(req, c.cfg.MaxMessageSize)
	if err != nil {
		return wire.Response{}, err
	}

	raw, err := c.tr.Send(encoded, c.cfg.ServerPath, replyPath, timeout)
	if err != nil {
		return wire.Response{}, err
	}

	resp, err := wire.DecodeResponse(raw, c.cfg.MaxMessageSize)
	if err != nil {
		return wire.Response{}, err
	}
	if resp.RequestID != req.ID {
		return wire.Response{}, errors.Newf(
			"client: response_tracking_error: expected request_id %q, got %q", req.ID, resp.RequestID)
	}
	return resp, nil
}

// SendRequestNoReply is the fire-and-forget variant: it builds and
// sends the Request with no reply_to and returns without waiting.
func (c *Client) SendRequestNoReply(name string, args map[string]wire.Value) error {
	timeoutSecs := c.cfg.DefaultTimeout.Seconds()
	req := wire.NewRequest(name, args, &timeoutSecs, "")
	if err := c.gate.ValidateRequest(req, nil); err != nil {
		return errors.Wrap(err, "client: security_violation")
	}
	encoded, err := wire.EncodeRequest(req, c.cfg.MaxMessageSize)
	if err != nil {
		return err
	}
	return c.tr.SendNoReply(encoded, c.cfg.ServerPath)
}

// Close cancels every pending handle-tracked request and stops the
// Correlation Engine's cleanup sweep.
func (c *Client) Close() {
	c.engine.Stop()
}

// Stats returns the Correlation Engine's current statistics snapshot.
func (c *Client) Stats() correlation.Statistics {
	return c.engine.Stats()
}

// ParallelRequest describes one call in a batch submitted to
// ExecuteParallel.
type ParallelRequest struct {
	Name    string
	Args    map[string]wire.Value
	Timeout time.Duration
}

// ParallelResult holds one ParallelRequest's outcome; ExecuteParallel
// stores it at the same position as its request, so results come back
// in input order even though the underlying sends race.
type ParallelResult struct {
	Response wire.Response
	Err      error
}

// ExecuteParallel dispatches every request concurrently, preserving
// input order in the returned slice even though the underlying sends
// race; one request's failure never cancels or delays the others.
func (c *Client) ExecuteParallel(requests []ParallelRequest) []ParallelResult {
	return c.ExecuteParallelWithOptions(requests, ParallelOptions{})
}

// ParallelOptions controls ExecuteParallelWithOptions.
type ParallelOptions struct {
	// CancelOnFirstError, when set, skips any request that has not yet
	// been sent once another request in the batch has failed. Requests
	// already in flight are not interrupted — a datagram, once sent,
	// cannot be recalled — so this shortens the batch's tail rather
	// than aborting work already underway.
	CancelOnFirstError bool
}

// ExecuteParallelWithOptions is ExecuteParallel with CancelOnFirstError
// support.
func (c *Client) ExecuteParallelWithOptions(requests []ParallelRequest, opts ParallelOptions) []ParallelResult {
	results := make([]ParallelResult, len(requests))
	var wg sync.WaitGroup

	var cancelled int32
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req ParallelRequest) {
			defer wg.Done()
			if opts.CancelOnFirstError && atomic.LoadInt32(&cancelled) != 0 {
				results[i] = ParallelResult{Err: errors.New("client: skipped after an earlier request in the batch failed")}
				return
			}
			resp, err := c.SendRequest(req.Name, req.Args, req.Timeout)
			if err != nil && opts.CancelOnFirstError {
				atomic.StoreInt32(&cancelled, 1)
			}
			results[i] = ParallelResult{Response: resp, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}
