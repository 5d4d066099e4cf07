package wire

import (
	"github.com/cockroachdb/errors"
)

// Response is the server-to-client envelope. Exactly one of Result
// (Success true) or Error (Success false) is populated.
type Response struct {
	RequestID string   `json:"request_id"`
	Success   bool     `json:"success"`
	Result    *Value   `json:"result,omitempty"`
	Error     *Error   `json:"error,omitempty"`
	Timestamp float64  `json:"timestamp"`
}

// NewSuccess builds a successful Response.
func NewSuccess(requestID string, result Value, timestamp float64) Response {
	return Response{
		RequestID: requestID,
		Success:   true,
		Result:    &result,
		Timestamp: timestamp,
	}
}

// NewFailure builds a failed Response carrying the given Error.
func NewFailure(requestID string, err *Error, timestamp float64) Response {
	return Response{
		RequestID: requestID,
		Success:   false,
		Error:     err,
		Timestamp: timestamp,
	}
}

// Validate checks the structural invariants the decoder must enforce:
// non-empty request_id, and exactly one of result/error populated
// consistent with Success.
func (r Response) Validate() error {
	if r.RequestID == "" {
		return errors.New("wire: response request_id must not be empty")
	}
	if r.Success {
		if r.Error != nil {
			return errors.New("wire: successful response must not carry an error")
		}
	} else {
		if r.Error == nil {
			return errors.New("wire: failed response must carry an error")
		}
		if r.Result != nil {
			return errors.New("wire: failed response must not carry a result")
		}
	}
	return nil
}
