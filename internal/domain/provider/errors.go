package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownProvider is returned by the registry for codes without an adapter.
var ErrUnknownProvider = errors.New("unknown provider")

// Error is a failed provider call. StatusCode follows HTTP semantics: 4xx is
// a client or configuration problem, 5xx a transient one (timeouts and
// transport failures are reported as 504 and 502).
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed with status %d", e.Provider, e.Op, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsClientError reports a 4xx outcome the engine should not retry.
func (e *Error) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode <= 499
}

// IsTransient reports a 5xx, timeout or transport outcome.
func (e *Error) IsTransient() bool {
	return e.StatusCode >= 500
}

// ConfigError reports a missing or malformed connector setting.
func ConfigError(providerCode, op, format string, args ...any) *Error {
	return &Error{
		Provider:   providerCode,
		Op:         op,
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf(format, args...),
	}
}

// TransportError classifies a failure that produced no HTTP response.
func TransportError(providerCode, op string, err error) *Error {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		status = http.StatusGatewayTimeout
	}
	return &Error{Provider: providerCode, Op: op, StatusCode: status, Cause: err}
}

// StatusError classifies a non-2xx HTTP response.
func StatusError(providerCode, op string, status int, body string) *Error {
	if len(body) > 300 {
		body = body[:300]
	}
	return &Error{Provider: providerCode, Op: op, StatusCode: status, Message: body}
}

// AsError extracts a provider error from err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
