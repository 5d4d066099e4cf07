package wire

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultMaxMessageSize is the default transport ceiling (64 KiB).
	DefaultMaxMessageSize = 64 * 1024
	// AbsoluteMaxMessageSize is the hard ceiling no configuration may
	// exceed (10 MiB).
	AbsoluteMaxMessageSize = 10 * 1024 * 1024
)

// ErrTooLarge is returned (wrapped) when encoded or raw bytes exceed the
// configured maximum message size.
var ErrTooLarge = errors.New("message_framing_error: message exceeds maximum size")

// EncodeRequest serializes a Request as compact JSON, rejecting output
// that would exceed maxSize.
func EncodeRequest(r Request, maxSize int) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode request")
	}
	if maxSize > 0 && len(data) > maxSize {
		return nil, errors.Wrapf(ErrTooLarge, "encoded request is %d bytes, limit %d", len(data), maxSize)
	}
	return data, nil
}

// DecodeRequest parses raw JSON bytes into a Request, validating its
// structural invariants and rejecting oversized input.
func DecodeRequest(data []byte, maxSize int) (Request, error) {
	if maxSize > 0 && len(data) > maxSize {
		return Request{}, errors.Wrapf(ErrTooLarge, "request is %d bytes, limit %d", len(data), maxSize)
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, errors.Wrap(err, "wire: parse error: invalid request JSON")
	}
	if err := r.Validate(); err != nil {
		return Request{}, errors.Wrap(err, "wire: invalid_request")
	}
	return r, nil
}

// EncodeResponse serializes a Response as compact JSON, rejecting output
// that would exceed maxSize.
func EncodeResponse(r Response, maxSize int) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode response")
	}
	if maxSize > 0 && len(data) > maxSize {
		return nil, errors.Wrapf(ErrTooLarge, "encoded response is %d bytes, limit %d", len(data), maxSize)
	}
	return data, nil
}

// DecodeResponse parses raw JSON bytes into a Response, validating its
// structural invariants and rejecting oversized input.
func DecodeResponse(data []byte, maxSize int) (Response, error) {
	if maxSize > 0 && len(data) > maxSize {
		return Response{}, errors.Wrapf(ErrTooLarge, "response is %d bytes, limit %d", len(data), maxSize)
	}
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, errors.Wrap(err, "wire: parse error: invalid response JSON")
	}
	if err := r.Validate(); err != nil {
		return Response{}, errors.Wrap(err, "wire: invalid response")
	}
	return r, nil
}
