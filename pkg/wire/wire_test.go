package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTripPreservesIntVsFloat(t *testing.T) {
	obj := Object(map[string]Value{
		"count": Int(42),
		"ratio": Float(0.5),
		"whole": Float(3.0),
	})
	data, err := obj.MarshalJSON()
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, decoded.UnmarshalJSON(data))

	m, ok := decoded.AsObject()
	require.True(t, ok)

	count, ok := m["count"].AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(42), count)

	_, isInt := m["whole"].AsInt64()
	assert.True(t, isInt, "3.0 marshals as the literal 3, so it decodes as int64")

	ratio, ok := m["ratio"].AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 0.5, ratio)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Int(5).Equal(Float(5.0)))
	assert.False(t, Int(5).Equal(Float(5.1)))
	assert.True(t, String("a").Equal(String("a")))
	assert.False(t, String("a").Equal(String("b")))
	assert.True(t, Null().Equal(Null()))
}

func TestValueIsIntegral(t *testing.T) {
	assert.True(t, Int(7).IsIntegral())
	assert.True(t, Float(7.0).IsIntegral())
	assert.False(t, Float(7.5).IsIntegral())
}

func TestRequestValidate(t *testing.T) {
	r := NewRequest("ping", nil, nil, "/tmp/reply.sock")
	require.NoError(t, r.Validate())

	bad := r
	bad.ID = ""
	assert.Error(t, bad.Validate())

	bad2 := r
	bad2.Request = ""
	assert.Error(t, bad2.Validate())

	bad3 := r
	bad3.Timestamp = "not-a-time"
	assert.Error(t, bad3.Validate())
}

func TestRequestExpectsReply(t *testing.T) {
	withReply := NewRequest("ping", nil, nil, "/tmp/reply.sock")
	assert.True(t, withReply.ExpectsReply())

	noReply := NewRequest("ping", nil, nil, "")
	assert.False(t, noReply.ExpectsReply())
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	r := NewRequest("echo", map[string]Value{"message": String("hi")}, nil, "/tmp/reply.sock")
	data, err := EncodeRequest(r, DefaultMaxMessageSize)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data, DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, r.ID, decoded.ID)
	assert.Equal(t, r.Request, decoded.Request)
	msg, ok := decoded.Args["message"].AsString()
	require.True(t, ok)
	assert.Equal(t, "hi", msg)
}

func TestEncodeRequestTooLarge(t *testing.T) {
	huge := make(map[string]Value, 1)
	huge["blob"] = String(string(make([]byte, 200)))
	r := NewRequest("echo", huge, nil, "")
	_, err := EncodeRequest(r, 16)
	require.Error(t, err)
}

func TestResponseSuccessFailureInvariant(t *testing.T) {
	ok := NewSuccess("id-1", Bool(true), 1.0)
	require.NoError(t, ok.Validate())

	fail := NewFailure("id-1", NewError(ErrMethodNotFound), 1.0)
	require.NoError(t, fail.Validate())

	broken := ok
	broken.Error = NewError(ErrInternalError)
	assert.Error(t, broken.Validate())

	brokenFail := fail
	r := Int(1)
	brokenFail.Result = &r
	assert.Error(t, brokenFail.Validate())
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	resp := NewSuccess("req-123", Object(map[string]Value{"pong": Bool(true)}), 1735789445.678)
	data, err := EncodeResponse(resp, DefaultMaxMessageSize)
	require.NoError(t, err)

	decoded, err := DecodeResponse(data, DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, resp.RequestID, decoded.RequestID)
	assert.True(t, decoded.Success)
}

func TestErrorCodeMessage(t *testing.T) {
	assert.Equal(t, "Method not found", ErrMethodNotFound.Message())
	assert.Equal(t, "Validation failed", ErrValidationFailed.Message())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	r := NewRequest("ping", nil, nil, "/tmp/reply.sock")
	payload, err := EncodeRequest(r, DefaultMaxMessageSize)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, EnvelopeRequest, payload))

	typ, body, err := ReadMessage(&buf, DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeRequest, typ)

	decoded, err := DecodeRequest(body, DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, r.ID, decoded.ID)
}
