package wire

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// TimestampLayout is the RFC 3339 layout (with fractional seconds) used
// for Request.Timestamp on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Request is the client-to-server envelope. Once built it is treated as
// immutable; callers construct a new Request rather than mutating one in
// flight.
type Request struct {
	ID        string           `json:"id"`
	Request   string           `json:"request"`
	ReplyTo   *string          `json:"reply_to,omitempty"`
	Args      map[string]Value `json:"args,omitempty"`
	Timeout   *float64         `json:"timeout,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// NewRequestID returns a fresh UUID v4 suitable for Request.ID.
func NewRequestID() string {
	return uuid.NewString()
}

// NewRequest builds a Request with a generated ID and current timestamp.
// replyTo may be empty for fire-and-forget calls.
func NewRequest(name string, args map[string]Value, timeout *float64, replyTo string) Request {
	r := Request{
		ID:        NewRequestID(),
		Request:   name,
		Args:      args,
		Timeout:   timeout,
		Timestamp: time.Now().UTC().Format(TimestampLayout),
	}
	if replyTo != "" {
		r.ReplyTo = &replyTo
	}
	return r
}

// Validate checks the structural invariants the decoder must enforce
// regardless of Manifest/Security Gate layers: non-empty id/request, and
// a parseable timestamp.
func (r Request) Validate() error {
	if r.ID == "" {
		return errors.New("wire: request id must not be empty")
	}
	if r.Request == "" {
		return errors.New("wire: request name must not be empty")
	}
	if r.Timestamp == "" {
		return errors.New("wire: request timestamp must not be empty")
	}
	if _, err := r.ParsedTimestamp(); err != nil {
		return errors.Wrap(err, "wire: request timestamp")
	}
	return nil
}

// ParsedTimestamp parses Timestamp as RFC 3339, accepting either a "Z" or
// numeric-offset suffix and either fractional-second precision.
func (r Request) ParsedTimestamp() (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, r.Timestamp); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

// TimeoutOrDefault returns the request's timeout (carried in seconds on
// the wire) as a Duration, or def if none was specified.
func (r Request) TimeoutOrDefault(def time.Duration) time.Duration {
	if r.Timeout == nil {
		return def
	}
	return time.Duration(*r.Timeout * float64(time.Second))
}

// ExpectsReply reports whether the request carries a reply_to socket
// path and therefore expects a Response to be sent back.
func (r Request) ExpectsReply() bool {
	return r.ReplyTo != nil && *r.ReplyTo != ""
}
