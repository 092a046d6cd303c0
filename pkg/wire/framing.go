package wire

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

const (
	// LengthPrefixSize is the width, in bytes, of the big-endian frame
	// length prefix used by the optional stream transport.
	LengthPrefixSize = 4
	// MaxFrameSize bounds a single length-prefixed frame. The datagram
	// path does not use this helper at all — SOCK_DGRAM's own kernel
	// ceiling (~64KB) is the effective limit there.
	MaxFrameSize = 100 * 1024 * 1024
)

// EncodeRequest serializes r to canonical JSON, with no length prefix —
// the broker's primary path is one JSON object per datagram.
func EncodeRequest(r *Request) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode request")
	}
	return b, nil
}

// DecodeRequest parses a single datagram payload as a Request.
func DecodeRequest(payload []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.Wrap(err, "wire: decode request")
	}
	return &r, nil
}

// EncodeResponse serializes r to canonical JSON.
func EncodeResponse(r *Response) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode response")
	}
	return b, nil
}

// DecodeResponse parses a single datagram payload as a Response.
func DecodeResponse(payload []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.Wrap(err, "wire: decode response")
	}
	return &r, nil
}

// EncodeFrame prefixes payload with its 4-byte big-endian length, for
// callers using the optional length-prefixed stream transport (pkg/pool).
// Zero-length payloads and payloads exceeding MaxFrameSize are rejected.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("wire: refusing to encode a zero-length frame")
	}
	if len(payload) > MaxFrameSize {
		return nil, errors.Newf("wire: frame of %d bytes exceeds ceiling %d", len(payload), MaxFrameSize)
	}
	out := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[LengthPrefixSize:], payload)
	return out, nil
}

// DecodeFrameLength reads the 4-byte big-endian length prefix from header,
// validating it against the zero-length and ceiling rules EncodeFrame
// enforces on write.
func DecodeFrameLength(header []byte) (int, error) {
	if len(header) < LengthPrefixSize {
		return 0, errors.New("wire: frame header shorter than length prefix")
	}
	n := binary.BigEndian.Uint32(header[:LengthPrefixSize])
	if n == 0 {
		return 0, errors.New("wire: zero-length frame rejected")
	}
	if n > MaxFrameSize {
		return 0, errors.Newf("wire: frame of %d bytes exceeds ceiling %d", n, MaxFrameSize)
	}
	return int(n), nil
}
