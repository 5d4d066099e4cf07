// Package transport implements the Datagram Transport: Unix-domain
// SOCK_DGRAM send/receive, ephemeral reply-socket lifecycle, and errno
// mapping onto the wire error taxonomy.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	cockroacherrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// MaxUnixSocketPathLength is the platform ceiling (108 bytes minus the
// trailing NUL byte sun_path reserves on Linux).
const MaxUnixSocketPathLength = 107

var replyCounter int64

// GenerateReplyPath yields an ephemeral reply-socket path of the form
// /tmp/<prefix>_<pid>_<micros>_<counter>.sock, guaranteed to be no longer than
// 104 characters (the Security Gate's socket path ceiling) as long as
// prefix stays reasonably short.
func GenerateReplyPath(prefix string) string {
	if prefix == "" {
		prefix = "janus"
	}
	n := atomic.AddInt64(&replyCounter, 1)
	path := fmt.Sprintf("/tmp/%s_%d_%d_%d.sock", prefix, os.Getpid(), time.Now().UnixMicro(), n)
	if len(path) > 104 {
		// Fall back to a shorter, still-unique suffix derived from a
		// random UUID rather than the pid/timestamp/counter tuple.
		path = fmt.Sprintf("/tmp/%s_%s.sock", prefix, uuid.NewString()[:8])
	}
	return path
}

// Kind classifies a transport failure onto the wire error taxonomy so
// callers can build the right JsonRpcError without re-inspecting errno.
type Kind int

const (
	KindServerError Kind = iota
	KindMessageFraming
	KindSocketError
)

// Error wraps a transport-layer failure with its Kind classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func classify(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ClassifyErrno maps a raw OS error observed during a socket operation
// onto the transport Kind taxonomy: ENOENT/ECONNREFUSED -> server_error
// ("target socket does not exist"), EMSGSIZE -> message_framing_error,
// oversized path -> socket_error.
func ClassifyErrno(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
		return classify(KindServerError, cockroacherrors.Wrap(err, "target socket does not exist"))
	}
	if errors.Is(err, syscall.EMSGSIZE) {
		return classify(KindMessageFraming, cockroacherrors.Wrap(err, "message exceeds socket datagram size limit"))
	}
	if errors.Is(err, syscall.ENAMETOOLONG) {
		return classify(KindSocketError, cockroacherrors.Wrap(err, "socket path exceeds platform limit"))
	}
	return classify(KindServerError, cockroacherrors.Wrap(err, "transport error"))
}

// Transport performs anonymous and reply-bound Unix datagram I/O. It
// holds no per-call state; every method is self-contained, matching the
// spec's send/send_no_reply/generate_reply_path operation triad.
type Transport struct {
	maxMessageSize int
}

// New builds a Transport with the given maximum message size (bytes);
// zero or a negative size makes the Transport use a 64 KiB limit.
func New(maxMessageSize int) *Transport {
	return &Transport{maxMessageSize: maxMessageSize}
}

func validateSocketPathLength(path string) error {
	if len(path) > MaxUnixSocketPathLength {
		return classify(KindSocketError, cockroacherrors.Newf(
			"socket path length %d exceeds platform limit %d", len(path), MaxUnixSocketPathLength))
	}
	return nil
}

// Send creates an anonymous SOCK_DGRAM client socket, optionally binds a
// second socket at replyTo, sends data to serverPath, and (if replyTo is
// non-empty) blocks until a reply arrives or timeout elapses. Both
// sockets are closed and the reply-socket inode unlinked on every exit
// path, success or failure.
func (t *Transport) Send(data []byte, serverPath, replyTo string, timeout time.Duration) ([]byte, error) {
	if err := validateSocketPathLength(serverPath); err != nil {
		return nil, err
	}

	var replyConn *net.UnixConn
	if replyTo != "" {
		if err := validateSocketPathLength(replyTo); err != nil {
			return nil, err
		}
		addr := &net.UnixAddr{Name: replyTo, Net: "unixgram"}
		conn, err := net.ListenUnixgram("unixgram", addr)
		if err != nil {
			return nil, ClassifyErrno(err)
		}
		replyConn = conn
		defer func() {
			replyConn.Close()
			os.Remove(replyTo)
		}()
	}

	sender, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: serverPath, Net: "unixgram"})
	if err != nil {
		return nil, ClassifyErrno(err)
	}
	defer sender.Close()

	if _, err := sender.Write(data); err != nil {
		return nil, ClassifyErrno(err)
	}

	if replyConn == nil {
		return nil, nil
	}

	if timeout > 0 {
		if err := replyConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, classify(KindSocketError, cockroacherrors.Wrap(err, "setting reply deadline"))
		}
	}

	buf := make([]byte, t.effectiveMaxSize())
	n, _, err := replyConn.ReadFromUnix(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, classify(KindServerError, cockroacherrors.Wrap(err, "timed out waiting for reply"))
		}
		return nil, ClassifyErrno(err)
	}
	return buf[:n], nil
}

// SendNoReply is the fire-and-forget variant of Send: it writes data to
// serverPath and returns without waiting on any reply socket.
func (t *Transport) SendNoReply(data []byte, serverPath string) error {
	if err := validateSocketPathLength(serverPath); err != nil {
		return err
	}
	sender, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: serverPath, Net: "unixgram"})
	if err != nil {
		return ClassifyErrno(err)
	}
	defer sender.Close()
	if _, err := sender.Write(data); err != nil {
		return ClassifyErrno(err)
	}
	return nil
}

func (t *Transport) effectiveMaxSize() int {
	if t.maxMessageSize > 0 {
		return t.maxMessageSize
	}
	return 64 * 1024
}

// ReplySocket is a bound, reusable reply socket a server-side handler
// reply path or a long-lived client keeps open across multiple sends,
// as opposed to the anonymous-per-call sockets Send manages internally.
type ReplySocket struct {
	conn *net.UnixConn
	path string
}

// BindReplySocket binds a SOCK_DGRAM socket at path, unlinking any stale
// inode left behind by a prior crashed process first.
func BindReplySocket(path string) (*ReplySocket, error) {
	if err := validateSocketPathLength(path); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, ClassifyErrno(err)
	}
	return &ReplySocket{conn: conn, path: path}, nil
}

// Receive blocks (bounded by timeout, zero meaning unbounded) until a
// datagram arrives, returning its bytes.
func (s *ReplySocket) Receive(maxSize int, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, classify(KindSocketError, cockroacherrors.Wrap(err, "setting read deadline"))
		}
	}
	if maxSize <= 0 {
		maxSize = 64 * 1024
	}
	buf := make([]byte, maxSize)
	n, _, err := s.conn.ReadFromUnix(buf)
	if err != nil {
		return nil, ClassifyErrno(err)
	}
	return buf[:n], nil
}

// Close closes the socket and unlinks its inode.
func (s *ReplySocket) Close() error {
	err := s.conn.Close()
	os.Remove(s.path)
	return err
}

// Path returns the bound socket path.
func (s *ReplySocket) Path() string { return s.path }

// ListenerSocket is the server's long-lived bound socket: it accepts
// datagrams from any sender without itself replying on the same fd
// (replies go out over fresh anonymous sockets per §4.7's "reply
// emission" rule).
type ListenerSocket struct {
	conn *net.UnixConn
	path string
}

// Listen binds the server's well-known socket path, unlinking any stale
// inode left behind by a prior run when cleanupOnStart is set.
func Listen(path string, cleanupOnStart bool) (*ListenerSocket, error) {
	if err := validateSocketPathLength(path); err != nil {
		return nil, err
	}
	if cleanupOnStart {
		_ = os.Remove(path)
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, ClassifyErrno(err)
	}
	return &ListenerSocket{conn: conn, path: path}, nil
}

// ReceiveFrom blocks (subject to deadline) for the next datagram and
// returns its payload. The sender's own path is not recoverable from a
// connectionless datagram read on Linux (SOCK_DGRAM unix sockets don't
// carry a peer address the way TCP does); the sender identifies itself
// via Request.ReplyTo instead, which the Server Dispatcher uses for
// ClientRecord tracking.
func (l *ListenerSocket) ReceiveFrom(buf []byte, deadline time.Time) (int, error) {
	if !deadline.IsZero() {
		if err := l.conn.SetReadDeadline(deadline); err != nil {
			return 0, classify(KindSocketError, cockroacherrors.Wrap(err, "setting read deadline"))
		}
	}
	n, _, err := l.conn.ReadFromUnix(buf)
	return n, err
}

// Close closes the listener and unlinks its inode.
func (l *ListenerSocket) Close() error {
	err := l.conn.Close()
	os.Remove(l.path)
	return err
}

// CloseKeepInode closes the listener without unlinking its socket file,
// for shutdown configurations that intentionally leave the inode behind
// (cleanup_on_shutdown disabled).
func (l *ListenerSocket) CloseKeepInode() error {
	return l.conn.Close()
}

// Path returns the bound socket path.
func (l *ListenerSocket) Path() string { return l.path }

// IsTimeout reports whether err is a read/write deadline expiration,
// distinguishing scheduled poll wakeups from genuine transport failures.
func IsTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// SendReply opens an anonymous SOCK_DGRAM socket, sends data to
// replyTo, and closes it. ENOENT here (the client's reply socket has
// already vanished due to its own timeout) is reported distinctly so
// the caller can log it at debug level rather than treat it as fatal,
// per §4.7's reply-emission rule.
func SendReply(data []byte, replyTo string) error {
	sender, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: replyTo, Net: "unixgram"})
	if err != nil {
		return ClassifyErrno(err)
	}
	defer sender.Close()
	if _, err := sender.Write(data); err != nil {
		return ClassifyErrno(err)
	}
	return nil
}

// IsENOENT reports whether err (possibly wrapped by ClassifyErrno)
// ultimately carries a syscall.ENOENT, the reply-vanished case that
// must be downgraded to a debug-level log rather than surfaced as an
// operational failure.
func IsENOENT(err error) bool {
	return errors.Is(err, syscall.ENOENT)
}
