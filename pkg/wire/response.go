package wire

import (
	"time"

	"github.com/google/uuid"
)

// Response is the canonical response record. Exactly one of Result/Error
// is populated, matching the Success flag.
type Response struct {
	RequestID string     `json:"request_id"`
	ID        string     `json:"id"`
	Success   bool       `json:"success"`
	Result    any        `json:"result,omitempty"`
	Error     *Error     `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// NewSuccessResponse builds a successful Response echoing requestID.
func NewSuccessResponse(requestID string, result any) *Response {
	return &Response{
		RequestID: requestID,
		ID:        uuid.NewString(),
		Success:   true,
		Result:    result,
		Timestamp: now(),
	}
}

// NewErrorResponse builds a failed Response echoing requestID.
func NewErrorResponse(requestID string, err *Error) *Response {
	return &Response{
		RequestID: requestID,
		ID:        uuid.NewString(),
		Success:   false,
		Error:     err,
		Timestamp: now(),
	}
}

// NewInternalErrorResponse wraps a handler panic/error as InternalError.
func NewInternalErrorResponse(requestID string, details string) *Response {
	return NewErrorResponse(requestID, NewError(InternalError, details))
}

// NewTimeoutResponse reports a HandlerTimeout against requestID.
func NewTimeoutResponse(requestID string, duration time.Duration) *Response {
	return NewErrorResponse(requestID, NewErrorWithContext(HandlerTimeout, "handler timed out", map[string]any{
		"request_id": requestID,
		"duration_ms": duration.Milliseconds(),
	}))
}
