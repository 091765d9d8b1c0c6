// Package flow sequences one service invocation against the remote service:
// ticket, connection, credentials, then a loop over interrupts until a
// terminal result.
package flow

import (
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// State is the state of a flow. It is a closed sum type; switch over the
// concrete variants.
type State interface {
	isState()
	// Name identifies the variant for logs.
	Name() string
}

// Initial is a fresh flow without a ticket.
type Initial struct{}

// TicketIssued holds a ticket; no connection has been chosen yet.
type TicketIssued struct {
	Ticket string
}

// ConnectionSelected waits for credentials for ConnectionID.
type ConnectionSelected struct {
	Ticket       string
	ConnectionID string
}

// ServiceInitiated is held while the start call is in flight.
type ServiceInitiated struct {
	Ticket       string
	ConnectionID string
}

// AwaitingDialog waits for the one answer to Dialog.
type AwaitingDialog struct {
	Ticket string
	Seq    int
	Dialog domain.Dialog
}

// AwaitingRedirect holds a RedirectHandle. Followed is set once the user has
// been sent to the external site.
type AwaitingRedirect struct {
	Ticket   string
	Seq      int
	Handle   string
	Context  domain.Context
	Followed bool
}

// AwaitingRedirectResume is entered after the user came back from the
// external site. The confirm call carrying Context continues the flow.
type AwaitingRedirectResume struct {
	Ticket  string
	Context domain.Context
}

// Terminal ends the flow, either with a Result or with Err.
type Terminal struct {
	Ticket string
	Seq    int
	Result *domain.Result
	Err    error
}

// Success reports whether the flow ended with a Result.
func (t Terminal) Success() bool {
	return t.Err == nil && t.Result != nil
}

func (Initial) isState()                {}
func (TicketIssued) isState()           {}
func (ConnectionSelected) isState()     {}
func (ServiceInitiated) isState()       {}
func (AwaitingDialog) isState()         {}
func (AwaitingRedirect) isState()       {}
func (AwaitingRedirectResume) isState() {}
func (Terminal) isState()               {}

func (Initial) Name() string                { return "Initial" }
func (TicketIssued) Name() string           { return "TicketIssued" }
func (ConnectionSelected) Name() string     { return "ConnectionSelected" }
func (ServiceInitiated) Name() string       { return "ServiceInitiated" }
func (AwaitingDialog) Name() string         { return "AwaitingDialog" }
func (AwaitingRedirect) Name() string       { return "AwaitingRedirect" }
func (AwaitingRedirectResume) Name() string { return "AwaitingRedirectResume" }
func (Terminal) Name() string               { return "Terminal" }

// seqOf returns the response counter a state carries, zero if none.
func seqOf(s State) int {
	switch v := s.(type) {
	case AwaitingDialog:
		return v.Seq
	case AwaitingRedirect:
		return v.Seq
	case Terminal:
		return v.Seq
	}
	return 0
}
