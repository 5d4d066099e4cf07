package security

import (
	"strings"
	"testing"
	"time"

	"github.com/janusipc/janus/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSocketPathBoundary(t *testing.T) {
	g := NewGate()

	pad := strings.Repeat("a", maxSocketPathLength-len("/tmp/")-len(".sock"))
	exact := "/tmp/" + pad + ".sock"
	require.Len(t, exact, maxSocketPathLength)
	assert.NoError(t, g.ValidateSocketPath(exact))

	tooLong := exact + "x"
	assert.Error(t, g.ValidateSocketPath(tooLong))
}

func TestValidateSocketPathRejectsTraversalAndDisallowedDir(t *testing.T) {
	g := NewGate()
	assert.Error(t, g.ValidateSocketPath("/tmp/../etc/passwd"))
	assert.Error(t, g.ValidateSocketPath("/home/user/evil.sock"))
	assert.Error(t, g.ValidateSocketPath(""))
	assert.Error(t, g.ValidateSocketPath("relative/path.sock"))
}

func TestValidateSocketPathAllowedDirs(t *testing.T) {
	g := NewGate()
	assert.NoError(t, g.ValidateSocketPath("/tmp/a.sock"))
	assert.NoError(t, g.ValidateSocketPath("/var/tmp/a.sock"))
	assert.NoError(t, g.ValidateSocketPath("/dev/shm/a.sock"))
}

func TestValidateChannelName(t *testing.T) {
	g := NewGate()
	assert.NoError(t, g.ValidateChannelName("my-channel_1"))
	assert.Error(t, g.ValidateChannelName(""))
	assert.Error(t, g.ValidateChannelName("system"))
	assert.Error(t, g.ValidateChannelName("Admin"))
	assert.Error(t, g.ValidateChannelName("bad channel"))
	assert.Error(t, g.ValidateChannelName(strings.Repeat("a", 65)))
}

func TestValidateRequestName(t *testing.T) {
	g := NewGate()
	assert.NoError(t, g.ValidateRequestName("ping"))
	assert.Error(t, g.ValidateRequestName("system_exec"))
	assert.Error(t, g.ValidateRequestName("rm-all"))
	assert.Error(t, g.ValidateRequestName(""))
}

func TestValidateArgsBlobBoundary(t *testing.T) {
	g := NewGate()
	exact := make([]byte, maxArgsBlobSize)
	assert.NoError(t, g.ValidateArgsBlob(exact, nil))

	tooBig := make([]byte, maxArgsBlobSize+1)
	assert.Error(t, g.ValidateArgsBlob(tooBig, nil))

	assert.Error(t, g.ValidateArgsBlob(nil, map[string]wire.Value{"__proto__": wire.Null()}))
}

func TestValidateStringValue(t *testing.T) {
	g := NewGate()
	assert.NoError(t, g.ValidateStringValue("hello world"))
	assert.Error(t, g.ValidateStringValue("hello\x00world"))
	assert.Error(t, g.ValidateStringValue("<script>alert(1)</script>"))
	assert.Error(t, g.ValidateStringValue("1; DROP TABLE users--"))
}

func TestValidateRequestID(t *testing.T) {
	g := NewGate()
	assert.NoError(t, g.ValidateRequestID("11111111-1111-4111-8111-111111111111"))
	assert.Error(t, g.ValidateRequestID(""))
	assert.Error(t, g.ValidateRequestID("not-a-uuid"))
}

func TestValidateTimestampBoundary(t *testing.T) {
	g := NewGate()
	ok := time.Now().Add(-299500 * time.Millisecond).Format(wire.TimestampLayout)
	assert.NoError(t, g.ValidateTimestamp(ok))

	bad := time.Now().Add(-301 * time.Second).Format(wire.TimestampLayout)
	assert.Error(t, g.ValidateTimestamp(bad))
}

func TestValidateTimeoutBoundary(t *testing.T) {
	g := NewGate()
	assert.NoError(t, g.ValidateTimeout(0.1))
	assert.Error(t, g.ValidateTimeout(0.099))
	assert.NoError(t, g.ValidateTimeout(3600))
	assert.Error(t, g.ValidateTimeout(3600.001))
}

func TestValidateResourceUsage(t *testing.T) {
	g := NewGate()
	limits := ResourceLimits{MaxConnections: 10, MaxHandlers: 5, MaxPending: 100}
	assert.NoError(t, g.ValidateResourceUsage(ResourceUsage{ActiveConnections: 10}, limits))
	assert.Error(t, g.ValidateResourceUsage(ResourceUsage{ActiveConnections: 11}, limits))
}

func TestGateIsIdempotent(t *testing.T) {
	g := NewGate()
	path := "/tmp/stable.sock"
	err1 := g.ValidateSocketPath(path)
	err2 := g.ValidateSocketPath(path)
	assert.Equal(t, err1, err2)
}

func TestValidateRequestComposesRows(t *testing.T) {
	g := NewGate()
	reply := "/tmp/reply.sock"
	timeout := 1.0
	r := wire.Request{
		ID:        "11111111-1111-4111-8111-111111111111",
		Request:   "ping",
		ReplyTo:   &reply,
		Timeout:   &timeout,
		Timestamp: time.Now().Format(wire.TimestampLayout),
	}
	assert.NoError(t, g.ValidateRequest(r, nil))

	r.Request = "eval"
	assert.Error(t, g.ValidateRequest(r, nil))
}
