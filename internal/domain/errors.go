package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind represents the category of a failure surfaced to the user.
type ErrorKind string

const (
	// ErrorKindTransport indicates a network or HTTP failure of a remote call.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindUnexpectedResponse indicates a response outside the known union.
	ErrorKindUnexpectedResponse ErrorKind = "unexpected_response_kind"

	// ErrorKindRedirectStateCorrupt indicates persisted redirect state that
	// could not be decoded.
	ErrorKindRedirectStateCorrupt ErrorKind = "redirect_state_corrupt"

	// ErrorKindIncompleteCredentials indicates a credentials submission that
	// failed local validation.
	ErrorKindIncompleteCredentials ErrorKind = "incomplete_credentials"

	// ErrorKindUsage indicates the caller attempted an operation the current
	// state does not allow.
	ErrorKindUsage ErrorKind = "usage"

	// ErrorKindUnknown is anything else.
	ErrorKindUnknown ErrorKind = "unknown"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current flow state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")

	// ErrCallInFlight is returned when a remote call is issued while another
	// one of the same flow has not resolved yet.
	ErrCallInFlight = errors.New("another remote call is in flight")

	// ErrStaleDialog is returned when answering an interrupt that has already
	// been superseded by a newer response.
	ErrStaleDialog = errors.New("interrupt has already been answered")

	// ErrInvalidAnswer is returned when a dialog answer fails local validation.
	ErrInvalidAnswer = errors.New("invalid dialog answer")
)

// TransportError is a failed remote call. It is surfaced with status and
// trace id when available and never retried automatically.
type TransportError struct {
	// Operation is the remote operation, e.g. "search" or "confirm".
	Operation string

	// StatusCode is the HTTP status code, zero if no response was received.
	StatusCode int

	// Body is the response body of a non-2xx reply, if any.
	Body string

	// TraceID identifies an encrypted error report that can be downloaded
	// with the trace call.
	TraceID []byte

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Operation)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
		if text := http.StatusText(e.StatusCode); text != "" {
			fmt.Fprintf(&b, " (%s)", text)
		}
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// TraceIDString returns the trace id in a printable form.
func (e *TransportError) TraceIDString() string {
	if len(e.TraceID) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(e.TraceID)
}

// UnexpectedResponseError reports a response value outside
// {Result, Dialog, RedirectHandle}.
type UnexpectedResponseError struct {
	Kind string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response: %s", e.Kind)
}

// CorruptStateError reports persisted redirect state that could not be read.
type CorruptStateError struct {
	Err error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("redirect state corrupt: %v", e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// IncompleteCredentialsError is a client-side validation failure. It is never
// sent to the remote service.
type IncompleteCredentialsError struct {
	Missing []string
}

func (e *IncompleteCredentialsError) Error() string {
	if len(e.Missing) == 0 {
		return "incomplete credentials"
	}
	return fmt.Sprintf("incomplete credentials: %s required", strings.Join(e.Missing, " and "))
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var transport *TransportError
	var unexpected *UnexpectedResponseError
	var corrupt *CorruptStateError
	var incomplete *IncompleteCredentialsError

	switch {
	case errors.As(err, &transport):
		return ErrorKindTransport
	case errors.As(err, &unexpected):
		return ErrorKindUnexpectedResponse
	case errors.As(err, &corrupt):
		return ErrorKindRedirectStateCorrupt
	case errors.As(err, &incomplete):
		return ErrorKindIncompleteCredentials
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrCallInFlight),
		errors.Is(err, ErrStaleDialog),
		errors.Is(err, ErrInvalidAnswer):
		return ErrorKindUsage
	default:
		return ErrorKindUnknown
	}
}
