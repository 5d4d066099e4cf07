package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
)

// EnvelopeType distinguishes the two kinds of framed payload.
type EnvelopeType string

const (
	EnvelopeRequest  EnvelopeType = "request"
	EnvelopeResponse EnvelopeType = "response"
)

// envelope is the stream-framing wrapper: {type, payload} where payload
// is the JSON-encoded Request or Response text, preceded on the wire by
// a 4-byte big-endian length prefix. Datagram transport never uses this;
// it is reserved for stream contexts (e.g. a future TCP/pipe transport).
type envelope struct {
	Type    EnvelopeType `json:"type"`
	Payload string       `json:"payload"`
}

// WriteMessage frames payload (already-encoded Request or Response JSON)
// as a length-prefixed envelope and writes it to w.
func WriteMessage(w io.Writer, typ EnvelopeType, payload []byte) error {
	env := envelope{Type: typ, Payload: string(payload)}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "wire: marshal envelope")
	}
	if len(body) > AbsoluteMaxMessageSize {
		return errors.Wrapf(ErrTooLarge, "envelope is %d bytes, limit %d", len(body), AbsoluteMaxMessageSize)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "wire: write length prefix")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "wire: write envelope body")
	}
	return nil
}

// ReadMessage reads one length-prefixed envelope from r and returns its
// type and raw payload bytes (still JSON-encoded Request/Response text).
func ReadMessage(r io.Reader, maxSize int) (EnvelopeType, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return "", nil, errors.Wrap(err, "wire: read length prefix")
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if maxSize > 0 && int(n) > maxSize {
		return "", nil, errors.Wrapf(ErrTooLarge, "envelope declares %d bytes, limit %d", n, maxSize)
	}
	if int64(n) > AbsoluteMaxMessageSize {
		return "", nil, errors.Wrapf(ErrTooLarge, "envelope declares %d bytes, absolute limit %d", n, AbsoluteMaxMessageSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", nil, errors.Wrap(err, "wire: read envelope body")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, errors.Wrap(err, "wire: parse error: invalid envelope JSON")
	}
	if env.Type != EnvelopeRequest && env.Type != EnvelopeResponse {
		return "", nil, errors.Newf("wire: invalid envelope type %q", env.Type)
	}
	return env.Type, []byte(env.Payload), nil
}
