// Package security implements the Security Gate: the checks applied at
// every public entry point of the client and server, before any I/O,
// covering socket paths, channel/request names, argument content, request
// IDs, timestamps, timeouts, and resource usage.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/janusipc/janus/pkg/wire"
)

const (
	maxSocketPathLength = 104
	maxChannelNameLen   = 64
	maxRequestNameLen   = 64
	maxRequestIDLen     = 64
	maxArgsBlobSize     = 64 * 1024
	minTimeout          = 0.1
	maxTimeout          = 3600.0
	maxTimestampSkew    = 300.0
)

var (
	socketPathPattern = regexp.MustCompile(`^(/[A-Za-z0-9._-]+)+$`)
	namePattern       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	uuidV4Pattern     = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	allowedSocketDirs = []string{"/tmp", "/var/tmp", "/dev/shm"}

	reservedChannelNames = map[string]bool{
		"system": true, "admin": true, "root": true, "internal": true,
	}

	dangerousRequestSubstrings = []string{
		"eval", "exec", "system", "shell", "rm", "delete", "drop",
	}

	dangerousArgKeys = map[string]bool{
		"__proto__": true, "constructor": true, "prototype": true,
		"eval": true, "function": true,
	}

	injectionSubstrings = []string{
		"--", "/*", "*/", "<script", "javascript:", "vbscript:", "onload=", "onerror=",
		"union select", "drop table",
	}
)

// Violation reports a single Security Gate failure with a specific,
// human-readable details string. It maps onto wire.ErrSecurityViolation.
type Violation struct {
	Details string
}

func (v *Violation) Error() string { return v.Details }

func violation(format string, args ...interface{}) *Violation {
	return &Violation{Details: fmt.Sprintf(format, args...)}
}

// ResourceUsage is a snapshot of the counters the Resource usage row of
// the Gate checks against configured caps.
type ResourceUsage struct {
	ActiveConnections int
	ActiveHandlers    int
	PendingRequests   int
}

// ResourceLimits bounds the counters in ResourceUsage. Zero means
// unbounded for that field.
type ResourceLimits struct {
	MaxConnections int
	MaxHandlers    int
	MaxPending     int
}

// Gate is the Security Gate. It is stateless and idempotent: the same
// input passes or fails identically regardless of when it is called,
// except for the Timestamp and ResourceUsage checks which are relative
// to wall-clock time and live counters respectively.
type Gate struct{}

// NewGate builds a Security Gate with the spec-fixed limits. There is no
// configuration surface for the limits themselves; they are part of the
// wire contract, not a deployment knob.
func NewGate() *Gate {
	return &Gate{}
}

// ValidateSocketPath implements the Socket path row.
func (g *Gate) ValidateSocketPath(path string) error {
	if path == "" {
		return violation("socket path must not be empty")
	}
	if !filepath.IsAbs(path) {
		return violation("socket path %q must be absolute", path)
	}
	if len(path) > maxSocketPathLength {
		return violation("socket path length %d exceeds maximum %d", len(path), maxSocketPathLength)
	}
	if strings.Contains(path, "..") {
		return violation("socket path %q contains a path traversal segment", path)
	}
	if strings.ContainsRune(path, 0) {
		return violation("socket path contains a null byte")
	}
	allowed := false
	for _, dir := range allowedSocketDirs {
		if path == dir || strings.HasPrefix(path, dir+"/") {
			allowed = true
			break
		}
	}
	if !allowed {
		return violation("socket path %q is not under an allowed directory %v", path, allowedSocketDirs)
	}
	if !socketPathPattern.MatchString(path) {
		return violation("socket path %q contains disallowed characters", path)
	}
	return nil
}

// ValidateChannelName implements the Channel name row.
func (g *Gate) ValidateChannelName(name string) error {
	if name == "" {
		return violation("channel name must not be empty")
	}
	if len(name) > maxChannelNameLen {
		return violation("channel name length %d exceeds maximum %d", len(name), maxChannelNameLen)
	}
	if !namePattern.MatchString(name) {
		return violation("channel name %q contains disallowed characters", name)
	}
	if reservedChannelNames[strings.ToLower(name)] {
		return violation("channel name %q is reserved", name)
	}
	return nil
}

// ValidateRequestName implements the Request name row.
func (g *Gate) ValidateRequestName(name string) error {
	if name == "" {
		return violation("request name must not be empty")
	}
	if len(name) > maxRequestNameLen {
		return violation("request name length %d exceeds maximum %d", len(name), maxRequestNameLen)
	}
	if !namePattern.MatchString(name) {
		return violation("request name %q contains disallowed characters", name)
	}
	lower := strings.ToLower(name)
	for _, bad := range dangerousRequestSubstrings {
		if strings.Contains(lower, bad) {
			return violation("request name %q contains dangerous substring %q", name, bad)
		}
	}
	return nil
}

// ValidateArgsBlob implements the Args blob row, checking the encoded
// size and scanning top-level keys for dangerous names. It does not
// recurse into nested objects; ValidateStringValue covers value content.
func (g *Gate) ValidateArgsBlob(encoded []byte, args map[string]wire.Value) error {
	if len(encoded) > maxArgsBlobSize {
		return violation("args blob size %d exceeds maximum %d", len(encoded), maxArgsBlobSize)
	}
	for key := range args {
		if dangerousArgKeys[strings.ToLower(key)] {
			return violation("argument name %q is not permitted", key)
		}
	}
	return nil
}

// ValidateStringValue implements the String values row.
func (g *Gate) ValidateStringValue(s string) error {
	if strings.ContainsRune(s, 0) {
		return violation("string value contains a null byte")
	}
	if !utf8.ValidString(s) {
		return violation("string value is not valid UTF-8")
	}
	lower := strings.ToLower(s)
	for _, bad := range injectionSubstrings {
		if strings.Contains(lower, bad) {
			return violation("string value contains disallowed substring %q", bad)
		}
	}
	return nil
}

// ValidateArgs walks a flat args map, applying ValidateStringValue to
// every string-typed value and rejecting dangerous keys anywhere in the
// top-level map.
func (g *Gate) ValidateArgs(args map[string]wire.Value) error {
	for key, val := range args {
		if dangerousArgKeys[strings.ToLower(key)] {
			return violation("argument name %q is not permitted", key)
		}
		if s, ok := val.AsString(); ok {
			if err := g.ValidateStringValue(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateRequestID implements the Request ID row.
func (g *Gate) ValidateRequestID(id string) error {
	if id == "" {
		return violation("request id must not be empty")
	}
	if len(id) > maxRequestIDLen {
		return violation("request id length %d exceeds maximum %d", len(id), maxRequestIDLen)
	}
	if !uuidV4Pattern.MatchString(strings.ToLower(id)) {
		return violation("request id %q is not a canonical UUID v4", id)
	}
	return nil
}

// ValidateTimestamp implements the Timestamp row, checking skew against
// the local wall clock at the moment of the call.
func (g *Gate) ValidateTimestamp(raw string) error {
	var t time.Time
	var err error
	if t, err = time.Parse(wire.TimestampLayout, raw); err != nil {
		if t, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return violation("timestamp %q does not parse as RFC 3339", raw)
		}
	}
	skew := time.Since(t).Seconds()
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return violation("timestamp %q is %.3fs from server clock, exceeding %.0fs", raw, skew, maxTimestampSkew)
	}
	return nil
}

// ValidateTimeout implements the Timeout row.
func (g *Gate) ValidateTimeout(seconds float64) error {
	if seconds < minTimeout {
		return violation("timeout %.3fs is below minimum %.1fs", seconds, minTimeout)
	}
	if seconds > maxTimeout {
		return violation("timeout %.3fs exceeds maximum %.0fs", seconds, maxTimeout)
	}
	return nil
}

// ValidateResourceUsage implements the Resource usage row.
func (g *Gate) ValidateResourceUsage(usage ResourceUsage, limits ResourceLimits) error {
	if limits.MaxConnections > 0 && usage.ActiveConnections > limits.MaxConnections {
		return violation("active connections %d exceeds maximum %d", usage.ActiveConnections, limits.MaxConnections)
	}
	if limits.MaxHandlers > 0 && usage.ActiveHandlers > limits.MaxHandlers {
		return violation("active handlers %d exceeds maximum %d", usage.ActiveHandlers, limits.MaxHandlers)
	}
	if limits.MaxPending > 0 && usage.PendingRequests > limits.MaxPending {
		return violation("pending requests %d exceeds maximum %d", usage.PendingRequests, limits.MaxPending)
	}
	return nil
}

// ValidateRequest runs every row of the Gate applicable to an outbound
// or inbound Request, short-circuiting at the first violation.
func (g *Gate) ValidateRequest(r wire.Request, encodedArgs []byte) error {
	if err := g.ValidateRequestID(r.ID); err != nil {
		return err
	}
	if err := g.ValidateRequestName(r.Request); err != nil {
		return err
	}
	if r.ReplyTo != nil {
		if err := g.ValidateSocketPath(*r.ReplyTo); err != nil {
			return err
		}
	}
	if err := g.ValidateTimestamp(r.Timestamp); err != nil {
		return err
	}
	if r.Timeout != nil {
		if err := g.ValidateTimeout(*r.Timeout); err != nil {
			return err
		}
	}
	if err := g.ValidateArgsBlob(encodedArgs, r.Args); err != nil {
		return err
	}
	if err := g.ValidateArgs(r.Args); err != nil {
		return err
	}
	return nil
}
