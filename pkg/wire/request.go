package wire

import (
	"time"

	"github.com/google/uuid"
)

// Request is the canonical request record exchanged over the wire. The
// JSON tags below give the field names and optionality of the
// cross-language wire contract.
type Request struct {
	ID        string         `json:"id"`
	Request   string         `json:"request"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Timeout   float64        `json:"timeout,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// NewRequest builds a Request with a fresh UUID v4 id and the current
// timestamp.
func NewRequest(name string, args map[string]any) *Request {
	return NewRequestWithID(uuid.NewString(), name, args)
}

// NewRequestWithID builds a Request with a caller-supplied id, useful for
// deterministic test fixtures that need to assert on a known id.
func NewRequestWithID(id, name string, args map[string]any) *Request {
	return &Request{
		ID:        id,
		Request:   name,
		Args:      args,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// WithReplyTo sets the reply-to path and returns the request for chaining.
func (r *Request) WithReplyTo(path string) *Request {
	r.ReplyTo = path
	return r
}

// WithTimeout sets a positive timeout, in seconds, and returns the request.
func (r *Request) WithTimeout(seconds float64) *Request {
	r.Timeout = seconds
	return r
}

// HasTimeout reports whether a positive timeout was set.
func (r *Request) HasTimeout() bool {
	return r.Timeout > 0
}

// TimeoutDuration converts Timeout to a time.Duration, or 0 if unset.
func (r *Request) TimeoutDuration() time.Duration {
	if r.Timeout <= 0 {
		return 0
	}
	return time.Duration(r.Timeout * float64(time.Second))
}

// ExpectsResponse reports whether the request carries a reply-to path.
func (r *Request) ExpectsResponse() bool {
	return r.ReplyTo != ""
}
