package common

import (
	"errors"
	"fmt"
)

// ErrNoResult marks a request whose outcome is unknown. Callers must not read it
// as "rejected": the exchange may still have accepted the order.
var ErrNoResult = errors.New("no result")

// TransportError is a connection failure, timeout or unreadable body.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrNoResult }

// APIError is a non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool { return target == ErrNoResult }

// StreamProtocolError is a malformed or unexpected stream message.
type StreamProtocolError struct {
	Raw string
	Err error
}

func (e *StreamProtocolError) Error() string {
	raw := e.Raw
	if len(raw) > 256 {
		raw = raw[:256] + "..."
	}
	return fmt.Sprintf("stream protocol: %v: %s", e.Err, raw)
}

func (e *StreamProtocolError) Unwrap() error { return e.Err }
