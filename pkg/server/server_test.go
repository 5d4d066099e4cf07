package server

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janusipc/janus/pkg/wire"
)

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := New(cfg, nil, nil)
	go func() {
		_ = s.Start()
	}()
	require.Eventually(t, func() bool {
		return s.isRunning()
	}, time.Second, 5*time.Millisecond)
	t.Cleanup(s.Stop)
	return s
}

// sendAndAwait is a minimal hand-rolled client used only by these
// dispatcher tests: it does not exercise pkg/client at all.
func sendAndAwait(t *testing.T, dir, serverPath string, req wire.Request, timeout time.Duration) (wire.Response, error) {
	t.Helper()
	replyPath := filepath.Join(dir, "reply-"+req.ID+".sock")
	replyConn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: replyPath, Net: "unixgram"})
	require.NoError(t, err)
	defer replyConn.Close()
	replyTo := replyPath
	req.ReplyTo = &replyTo

	encoded, err := wire.EncodeRequest(req, 0)
	require.NoError(t, err)

	sender, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: serverPath, Net: "unixgram"})
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write(encoded)
	require.NoError(t, err)

	_ = replyConn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 64*1024)
	n, _, err := replyConn.ReadFromUnix(buf)
	if err != nil {
		return wire.Response{}, err
	}
	return wire.DecodeResponse(buf[:n], 0)
}

func TestServerPingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	cfg := DefaultConfig(socketPath)
	s := startTestServer(t, cfg)

	timeoutSecs := 2.0
	req := wire.NewRequest("ping", nil, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	pong, _ := resp.Result.AsObject()
	b, _ := pong["pong"].AsBool()
	assert.True(t, b)
	_ = s
}

func TestServerUnknownRequestMethodNotFound(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	cfg := DefaultConfig(socketPath)
	startTestServer(t, cfg)

	timeoutSecs := 2.0
	req := wire.NewRequest("does_not_exist", nil, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, wire.ErrMethodNotFound, resp.Error.Code)
}

func TestServerHandlerTimeout(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	cfg := DefaultConfig(socketPath)
	cfg.DefaultTimeout = 100 * time.Millisecond
	s := New(cfg, nil, nil)
	require.NoError(t, s.RegisterHandler("block_forever", func(req wire.Request) (wire.Value, *wire.Error) {
		time.Sleep(5 * time.Second)
		return wire.Null(), nil
	}))
	go func() { _ = s.Start() }()
	require.Eventually(t, func() bool { return s.isRunning() }, time.Second, 5*time.Millisecond)
	t.Cleanup(s.Stop)

	timeoutSecs := 2.0
	req := wire.NewRequest("block_forever", nil, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, wire.ErrHandlerTimeout, resp.Error.Code)
}

func TestServerRegisteredHandlerTakesPrecedenceOverBuiltinSiblings(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	s := New(DefaultConfig(socketPath), nil, nil)
	require.NoError(t, s.RegisterHandler("greet", func(req wire.Request) (wire.Value, *wire.Error) {
		var args struct {
			Name string `mapstructure:"name"`
		}
		if err := BindArgs(req, &args); err != nil {
			return wire.Value{}, wire.NewError(wire.ErrInvalidParams)
		}
		return wire.String("hello " + args.Name), nil
	}))
	go func() { _ = s.Start() }()
	require.Eventually(t, func() bool { return s.isRunning() }, time.Second, 5*time.Millisecond)
	t.Cleanup(s.Stop)

	timeoutSecs := 2.0
	req := wire.NewRequest("greet", map[string]wire.Value{"name": wire.String("ada")}, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success)
	greeting, _ := resp.Result.AsString()
	assert.Equal(t, "hello ada", greeting)
}

func TestServerCannotOverrideBuiltin(t *testing.T) {
	s := New(DefaultConfig("/tmp/unused.sock"), nil, nil)
	err := s.RegisterHandler("ping", func(req wire.Request) (wire.Value, *wire.Error) {
		return wire.Null(), nil
	})
	assert.Error(t, err)
}

func TestServerMaxConnectionsEvictsLeastRecentlyActive(t *testing.T) {
	s := New(Config{SocketPath: "/tmp/unused.sock", MaxConnections: 2, DefaultTimeout: time.Second}, nil, nil)
	s.touchClient("/tmp/a.sock")
	time.Sleep(2 * time.Millisecond)
	s.touchClient("/tmp/b.sock")
	time.Sleep(2 * time.Millisecond)
	s.touchClient("/tmp/c.sock")

	s.clientsMu.Lock()
	_, hasA := s.clients["/tmp/a.sock"]
	_, hasC := s.clients["/tmp/c.sock"]
	count := len(s.clients)
	s.clientsMu.Unlock()

	assert.False(t, hasA, "oldest client should have been evicted")
	assert.True(t, hasC)
	assert.Equal(t, 2, count)
}

func TestServerValidateAcceptsWellFormedJSON(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	startTestServer(t, DefaultConfig(socketPath))

	timeoutSecs := 2.0
	req := wire.NewRequest("validate", map[string]wire.Value{"message": wire.String(`{"a":1}`)}, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success)
	fields, _ := resp.Result.AsObject()
	valid, _ := fields["valid"].AsBool()
	assert.True(t, valid)
	_, hasError := fields["error"]
	assert.False(t, hasError)
}

func TestServerValidateRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	startTestServer(t, DefaultConfig(socketPath))

	timeoutSecs := 2.0
	req := wire.NewRequest("validate", map[string]wire.Value{"message": wire.String(`{not json`)}, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success)
	fields, _ := resp.Result.AsObject()
	valid, _ := fields["valid"].AsBool()
	assert.False(t, valid)
	errMsg, ok := fields["error"].AsString()
	assert.True(t, ok)
	assert.NotEmpty(t, errMsg)
}

func TestServerManifestReportsErrorWhenNoneLoaded(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	startTestServer(t, DefaultConfig(socketPath))

	timeoutSecs := 2.0
	req := wire.NewRequest("manifest", nil, &timeoutSecs, "")
	resp, err := sendAndAwait(t, dir, socketPath, req, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success)
	fields, _ := resp.Result.AsObject()
	errMsg, ok := fields["error"].AsString()
	assert.True(t, ok)
	assert.Equal(t, "no manifest loaded", errMsg)
	_, hasVersion := fields["version"]
	assert.False(t, hasVersion)
}

func TestServerConcurrentHandlerRegistrationAndLookupDoesNotRace(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	s := startTestServer(t, DefaultConfig(socketPath))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = s.RegisterHandler("dynamic", func(req wire.Request) (wire.Value, *wire.Error) {
				return wire.Bool(true), nil
			})
			s.UnregisterHandler("dynamic")
		}
	}()

	timeoutSecs := 1.0
	for i := 0; i < 200; i++ {
		req := wire.NewRequest("ping", nil, &timeoutSecs, "")
		_, _ = sendAndAwait(t, dir, socketPath, req, 500*time.Millisecond)
	}
	<-done
}

func TestServerGracefulStop(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "server.sock")
	s := New(DefaultConfig(socketPath), nil, nil)
	done := make(chan struct{})
	go func() {
		_ = s.Start()
		close(done)
	}()
	require.Eventually(t, func() bool { return s.isRunning() }, time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within one poll interval")
	}
}
