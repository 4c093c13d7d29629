// Package apperr defines the error taxonomy shared by every layer of the
// proxy, from the Registry up through the Proxy Server's HTTP rendering.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error so the Proxy Server can render it without
// inspecting message text.
type Kind int

const (
	// InvalidClientRequest: body unparseable, required field missing,
	// tool_result with no matching tool_use.
	InvalidClientRequest Kind = iota
	// InvalidArgs: a tool call's arguments fail the Registry's
	// rename+validate pass. Never rendered to HTTP directly; the
	// Transformer rewrites it into a self-healing tool_result before it
	// ever reaches the Proxy Server.
	InvalidArgs
	// BackendAuth: backend rejected the credential.
	BackendAuth
	// BackendRateLimited: retries exhausted against 429 responses.
	BackendRateLimited
	// BackendServerError: backend 5xx after retries exhausted.
	BackendServerError
	// BackendProtocol: backend response could not be parsed as the
	// documented schema.
	BackendProtocol
	// UpstreamCancelled: client closed the socket mid-stream.
	UpstreamCancelled
	// InternalError: a bug. Rendered generically with a correlation id.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case InvalidClientRequest:
		return "invalid_client_request"
	case InvalidArgs:
		return "invalid_args"
	case BackendAuth:
		return "backend_auth"
	case BackendRateLimited:
		return "backend_rate_limited"
	case BackendServerError:
		return "backend_server_error"
	case BackendProtocol:
		return "backend_protocol"
	case UpstreamCancelled:
		return "upstream_cancelled"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is the single typed error every layer above the transport raises
// and the Server renders to HTTP. Message is safe to surface to clients:
// callers must not stuff secrets (credentials, raw backend bodies) into it.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int // 0 means "derive from Kind"
	RetryAfter int // seconds; only meaningful for BackendRateLimited
	Retryable  bool
	Err        error // wrapped cause, for logs only, never surfaced verbatim
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, retaining cause for logs.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WithStatus overrides the HTTP status this error renders with.
func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithStatusNotFound is a convenience for the Proxy Server's catch-all
// route, which reflects a minimal 404 shaped like the client's upstream
// API.
func (e *Error) WithStatusNotFound() *Error {
	return e.WithStatus(http.StatusNotFound)
}

// WithRetryAfter attaches a Retry-After hint to a BackendRateLimited error.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// Status returns the HTTP status this error should be rendered with.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Kind {
	case InvalidClientRequest:
		return http.StatusBadRequest
	case InvalidArgs:
		// Should never actually render: the Transformer self-heals this
		// kind before it reaches the Proxy Server. 422 is the safety net
		// if one ever escapes, since the fault is in the arguments, not
		// the request shape.
		return http.StatusUnprocessableEntity
	case BackendAuth:
		return http.StatusUnauthorized
	case BackendRateLimited:
		return http.StatusTooManyRequests
	case BackendServerError, BackendProtocol:
		return http.StatusBadGateway
	case InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
