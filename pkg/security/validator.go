// Package security implements the broker's pure, stateless validation
// checks: socket paths, identifiers, sizes, UTF-8, JSON shape, UUID and
// timestamp formats, and SQL/script injection heuristics. None of these
// functions perform I/O or retain state between calls.
package security

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/corvidlabs/janusbroker/pkg/wire"
)

// ReservedNames are the six built-in request names a manifest or handler
// registry must never redefine.
var ReservedNames = []string{"ping", "echo", "get_info", "validate", "slow_process", "manifest"}

// Config bounds the validator's size and path checks. Zero-valued fields
// fall back to DefaultConfig's values via New.
type Config struct {
	MaxSocketPathLength int
	MaxIdentifierLength int
	MaxMessageSize      int
	MaxArgsDataSize     int
	AllowedDirectories  []string
}

// DefaultConfig matches the limits the rest of the example corpus' Janus
// implementations use.
func DefaultConfig() Config {
	return Config{
		MaxSocketPathLength: 108,
		MaxIdentifierLength: 256,
		MaxMessageSize:      10 * 1024 * 1024,
		MaxArgsDataSize:     5 * 1024 * 1024,
		AllowedDirectories:  []string{"/tmp/", "/var/run/", "/var/tmp/"},
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
var pathCharPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var sqlPatterns = []string{"'", "\"", "--", "/*", "*/", "union", "select", "drop", "delete", "insert", "update"}
var scriptPatterns = []string{"<script", "javascript:", "vbscript:", "onload=", "onerror="}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
}

// Validator runs the configured checks. It holds no mutable state and is
// safe for concurrent use.
type Validator struct {
	cfg Config
}

// New builds a Validator, filling any zero-valued Config fields from
// DefaultConfig.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxSocketPathLength == 0 {
		cfg.MaxSocketPathLength = def.MaxSocketPathLength
	}
	if cfg.MaxIdentifierLength == 0 {
		cfg.MaxIdentifierLength = def.MaxIdentifierLength
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxArgsDataSize == 0 {
		cfg.MaxArgsDataSize = def.MaxArgsDataSize
	}
	if len(cfg.AllowedDirectories) == 0 {
		cfg.AllowedDirectories = def.AllowedDirectories
	}
	return &Validator{cfg: cfg}
}

// SocketPath checks that path is absolute, free of traversal/NUL bytes,
// within an allowed directory prefix, and short enough for AF_UNIX.
func (v *Validator) SocketPath(path string) *wire.Error {
	if path == "" {
		return wire.NewValidationError("socket_path", path, "socket path cannot be empty", nil)
	}
	if len(path) > v.cfg.MaxSocketPathLength {
		return wire.NewValidationError("socket_path", path, "socket path exceeds platform length limit", map[string]any{
			"max_length": v.cfg.MaxSocketPathLength,
		})
	}
	if !filepath.IsAbs(path) {
		return wire.NewValidationError("socket_path", path, "socket path must be absolute", nil)
	}
	if strings.Contains(path, "..") {
		return wire.NewError(wire.SecurityViolation, "path traversal sequence detected in socket path")
	}
	if strings.ContainsRune(path, 0) {
		return wire.NewError(wire.SecurityViolation, "NUL byte detected in socket path")
	}
	if !pathCharPattern.MatchString(path) {
		return wire.NewValidationError("socket_path", path, "socket path contains disallowed characters", nil)
	}
	clean := filepath.Clean(path)
	allowed := false
	for _, dir := range v.cfg.AllowedDirectories {
		if strings.HasPrefix(clean+"/", dir) || strings.HasPrefix(path, dir) {
			allowed = true
			break
		}
	}
	if !allowed {
		return wire.NewValidationError("socket_path", path, "socket path is outside allowed directories", map[string]any{
			"allowed_directories": v.cfg.AllowedDirectories,
		})
	}
	return nil
}

// Identifier checks a channel id or request name: non-empty, bounded
// length, charset [A-Za-z0-9_-].
func (v *Validator) Identifier(name string) *wire.Error {
	if name == "" {
		return wire.NewValidationError("identifier", name, "identifier cannot be empty", nil)
	}
	if len(name) > v.cfg.MaxIdentifierLength {
		return wire.NewValidationError("identifier", name, "identifier exceeds maximum length", map[string]any{
			"max_length": v.cfg.MaxIdentifierLength,
		})
	}
	if !identifierPattern.MatchString(name) {
		return wire.NewValidationError("identifier", name, "identifier contains disallowed characters", map[string]any{
			"pattern": identifierPattern.String(),
		})
	}
	if !utf8.ValidString(name) {
		return wire.NewError(wire.SecurityViolation, "identifier contains invalid UTF-8")
	}
	return nil
}

// ReservedRequestName rejects any of the six built-in names.
func (v *Validator) ReservedRequestName(name string) *wire.Error {
	lower := strings.ToLower(name)
	for _, reserved := range ReservedNames {
		if lower == reserved {
			return wire.NewValidationError("request", name, "request name is reserved for a built-in", map[string]any{
				"reserved_names": ReservedNames,
			})
		}
	}
	return nil
}

// MessageSize checks size against the configured datagram payload cap.
func (v *Validator) MessageSize(size int) *wire.Error {
	if size > v.cfg.MaxMessageSize {
		return wire.NewError(wire.ResourceLimitExceeded, "message size exceeds configured maximum")
	}
	return nil
}

// ArgsSize checks size against the configured serialized-args cap.
func (v *Validator) ArgsSize(size int) *wire.Error {
	if size > v.cfg.MaxArgsDataSize {
		return wire.NewError(wire.ResourceLimitExceeded, "serialized arguments size exceeds configured maximum")
	}
	return nil
}

// UTF8 rejects invalid byte sequences and stray control characters other
// than tab, newline, and carriage return.
func (v *Validator) UTF8(s string) *wire.Error {
	if !utf8.ValidString(s) {
		return wire.NewError(wire.SecurityViolation, "value is not valid UTF-8")
	}
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return wire.NewError(wire.SecurityViolation, "value contains a disallowed control character")
		}
	}
	return nil
}

// JSONObjectShape verifies that data parses as JSON and its top-level
// value is an object, not an array or scalar.
func (v *Validator) JSONObjectShape(data []byte) *wire.Error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return wire.NewError(wire.ParseError, "value is not valid JSON")
	}
	if _, ok := value.(map[string]any); !ok {
		return wire.NewValidationError("args", nil, "top-level value must be a JSON object", nil)
	}
	return nil
}

// UUID checks the exact 8-4-4-4-12 lowercase hex form.
func (v *Validator) UUID(s string) *wire.Error {
	if !uuidPattern.MatchString(s) {
		return wire.NewValidationError("id", s, "value is not a well-formed UUID", nil)
	}
	return nil
}

// Timestamp checks an RFC 3339 / ISO 8601 timestamp string.
func (v *Validator) Timestamp(s string) *wire.Error {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return wire.NewValidationError("timestamp", s, "value is not a valid RFC3339 timestamp", nil)
}

// DangerousPattern is an advisory defense-in-depth heuristic: it flags
// values whose lowercased form contains a SQL or script injection marker.
// The broker itself never evaluates these values as code; this exists so
// callers that forward argument values downstream have a cheap signal
// available.
func (v *Validator) DangerousPattern(value string) *wire.Error {
	lower := strings.ToLower(value)
	for _, pattern := range sqlPatterns {
		if strings.Contains(lower, pattern) {
			return wire.NewError(wire.SecurityViolation, "value contains a SQL-injection-like pattern: "+pattern)
		}
	}
	for _, pattern := range scriptPatterns {
		if strings.Contains(lower, pattern) {
			return wire.NewError(wire.SecurityViolation, "value contains a script-injection-like pattern: "+pattern)
		}
	}
	return nil
}
