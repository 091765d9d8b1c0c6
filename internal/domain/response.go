// Package domain holds the vocabulary shared by every part of the client: the
// tagged Response union a remote call yields, connection descriptors, and the
// canonical error kinds.
package domain

import "fmt"

// Response is the result of every service-advancing call. It is a closed sum
// type: Result, Dialog and RedirectHandle are the known variants,
// UnknownResponse carries a wire value this client does not understand.
//
// Callers switch over the concrete type; the unexported marker method keeps
// the set of variants fixed to this package.
type Response interface {
	isResponse()
	// Kind names the variant for logging and error messages.
	Kind() string
}

// Result is the terminal response. Payload is a signed artifact that has not
// been verified by this client and must not drive business decisions;
// ConnectionData should be retained and passed back on future operations
// against the same connection.
type Result struct {
	Payload        string
	ConnectionData []byte
}

// Dialog asks the user for exactly one answer before the flow can continue.
type Dialog struct {
	Message string
	Image   *Image
	Input   DialogInput
	Context Context
}

// Image is an inline picture attached to a dialog, e.g. a photoTAN code.
type Image struct {
	Data     []byte
	MimeType string
}

// RedirectHandle requires registering a return address with the remote
// service and sending the user to the URL it hands back.
type RedirectHandle struct {
	Handle  string
	Context Context
}

// UnknownResponse is produced by the wire codec for a response (or dialog
// input) type it does not know. The state machine treats it as an
// UnexpectedResponseKind condition.
type UnknownResponse struct {
	Type string
}

func (Result) isResponse()          {}
func (Dialog) isResponse()          {}
func (RedirectHandle) isResponse()  {}
func (UnknownResponse) isResponse() {}

func (Result) Kind() string         { return "Result" }
func (Dialog) Kind() string         { return "Dialog" }
func (RedirectHandle) Kind() string { return "RedirectHandle" }
func (u UnknownResponse) Kind() string {
	if u.Type == "" {
		return "unknown"
	}
	return fmt.Sprintf("unknown(%s)", u.Type)
}

// InterruptContext returns the opaque context attached to an interrupt, or
// nil when the response carries none.
func InterruptContext(r Response) Context {
	switch v := r.(type) {
	case Dialog:
		return v.Context
	case *Dialog:
		return v.Context
	case RedirectHandle:
		return v.Context
	case *RedirectHandle:
		return v.Context
	}
	return nil
}
