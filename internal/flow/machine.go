package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/credentials"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/redirect"
	"github.com/tjfontaine/routex-demo/internal/vault"
)

const tracerName = "github.com/tjfontaine/routex-demo/internal/flow"

// RPC is the part of the remote client a flow drives.
type RPC interface {
	Info(ctx context.Context, ticket, connectionID string) (domain.ConnectionInfo, error)
	Start(ctx context.Context, service domain.Service, req routex.StartRequest) (domain.Response, error)
	Respond(ctx context.Context, service domain.Service, req routex.RespondRequest) (domain.Response, error)
	Confirm(ctx context.Context, service domain.Service, req routex.ConfirmRequest) (domain.Response, error)
	redirect.Registrar
}

// TicketIssuer obtains a ticket for one flow of a service.
type TicketIssuer interface {
	Issue(ctx context.Context, service domain.Service, data any) (string, error)
}

// Deps are the collaborators of a flow. Vault, Logger and Tracer are
// optional.
type Deps struct {
	RPC       RPC
	Tickets   TicketIssuer
	Handoff   *redirect.Handoff
	Navigator redirect.Navigator
	Vault     vault.Vault
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

func (d Deps) withDefaults() Deps {
	if d.Vault == nil {
		d.Vault = vault.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	return d
}

// Machine is the state machine of one flow. At most one remote call is in
// flight at a time; a second one fails with domain.ErrCallInFlight.
//
// Remote failures are recorded in Err and also returned. A transport failure
// leaves the state as it was so the user can act again.
type Machine struct {
	service domain.Service
	deps    Deps
	logger  *slog.Logger

	mu           sync.Mutex
	state        State
	conn         *domain.ConnectionInfo
	connectionID string
	seq          int
	inFlight     bool
	gen          uint64
	err          error
}

// New creates a flow for service in the Initial state.
func New(service domain.Service, deps Deps) (*Machine, error) {
	if !service.Valid() {
		return nil, fmt.Errorf("unknown service %q", service)
	}
	deps = deps.withDefaults()
	return &Machine{
		service: service,
		deps:    deps,
		logger:  deps.Logger.With(slog.String("service", string(service))),
		state:   Initial{},
	}, nil
}

// Restore is the startup check of the return address. When location carries
// the resume marker and the mailbox holds valid state, it returns a flow in
// AwaitingRedirectResume and issues the confirm call; the outcome is in the
// flow's State and Err. Otherwise it reports false and the caller starts a
// fresh flow.
func Restore(ctx context.Context, deps Deps, location string) (*Machine, bool) {
	deps = deps.withDefaults()
	if deps.Handoff == nil {
		return nil, false
	}
	parked, ok := redirect.Restore(ctx, deps.Handoff, location)
	if !ok {
		return nil, false
	}

	m, err := New(parked.Service, deps)
	if err != nil {
		deps.Logger.Warn("cannot resume flow", slog.String("error", err.Error()))
		return nil, false
	}
	m.state = AwaitingRedirectResume{Ticket: parked.Ticket, Context: parked.Context}
	m.connectionID = parked.ConnectionID

	_ = m.Continue(ctx)
	return m, true
}

// Service returns the service this flow drives.
func (m *Machine) Service() domain.Service {
	return m.service
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Seq returns the response counter: the number of responses applied so far.
func (m *Machine) Seq() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Err returns the last recorded failure, nil after a successful step.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Busy reports whether a remote call is in flight.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Connection returns the selected connection once its info has been fetched.
func (m *Machine) Connection() (domain.ConnectionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return domain.ConnectionInfo{}, false
	}
	return *m.conn, true
}

// Fields returns the credential field rules of the selected connection. Both
// fields are hidden while no connection info is known.
func (m *Machine) Fields() credentials.Fields {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fieldsOf(m.conn)
}

func fieldsOf(conn *domain.ConnectionInfo) credentials.Fields {
	if conn == nil {
		return credentials.Resolve(nil)
	}
	return credentials.Resolve(&conn.Credentials)
}

// IssueTicket obtains the ticket for this flow. data is the service specific
// ticket body.
func (m *Machine) IssueTicket(ctx context.Context, data any) error {
	snap, err := m.claim()
	if err != nil {
		return err
	}
	if _, ok := snap.state.(Initial); !ok {
		m.release(snap.gen)
		return invalid("IssueTicket", snap.state)
	}

	ctx, span := m.span(ctx, "flow.ticket", 0)
	ticket, err := m.deps.Tickets.Issue(ctx, m.service, data)
	endSpan(span, err)

	m.finish(snap.gen, func() {
		if err != nil {
			m.err = err
			return
		}
		m.err = nil
		m.state = TicketIssued{Ticket: ticket}
	})
	if err != nil {
		return fmt.Errorf("failed to issue ticket: %w", err)
	}
	return nil
}

// SelectConnection fetches the info of connectionID and selects it.
func (m *Machine) SelectConnection(ctx context.Context, connectionID string) error {
	snap, err := m.claim()
	if err != nil {
		return err
	}
	s, ok := snap.state.(TicketIssued)
	if !ok {
		m.release(snap.gen)
		return invalid("SelectConnection", snap.state)
	}

	ctx, span := m.span(ctx, "flow.info", 0)
	m.logger.Debug("remote call", slog.String("operation", "info"))
	info, err := m.deps.RPC.Info(ctx, s.Ticket, connectionID)
	endSpan(span, err)

	m.finish(snap.gen, func() {
		if err != nil {
			m.err = err
			return
		}
		m.err = nil
		m.conn = &info
		m.connectionID = connectionID
		m.state = ConnectionSelected{Ticket: s.Ticket, ConnectionID: connectionID}
	})
	return err
}

// ChangeConnection goes back to choosing a connection with the same ticket.
func (m *Machine) ChangeConnection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return domain.ErrCallInFlight
	}
	s, ok := m.state.(ConnectionSelected)
	if !ok {
		return invalid("ChangeConnection", m.state)
	}
	m.conn = nil
	m.connectionID = ""
	m.err = nil
	m.state = TicketIssued{Ticket: s.Ticket}
	return nil
}

// SubmitCredentials validates in against the field rules of the selected
// connection and starts the service. Incomplete credentials are rejected
// with *domain.IncompleteCredentialsError before anything is sent.
func (m *Machine) SubmitCredentials(ctx context.Context, in credentials.Input) error {
	snap, err := m.claim()
	if err != nil {
		return err
	}
	s, ok := snap.state.(ConnectionSelected)
	if !ok {
		m.release(snap.gen)
		return invalid("SubmitCredentials", snap.state)
	}

	creds, err := fieldsOf(snap.conn).Build(s.ConnectionID, in)
	if err != nil {
		m.finish(snap.gen, func() { m.err = err })
		return err
	}

	connData, err := m.deps.Vault.Load(ctx, s.ConnectionID)
	if err != nil {
		m.logger.Warn("failed to load connection data", slog.String("error", err.Error()))
		connData = nil
	}

	m.transition(snap.gen, ServiceInitiated(s))

	ctx, span := m.span(ctx, "flow.start", 0)
	m.logger.Debug("remote call", slog.String("operation", "start"), slog.Bool("connection_data", connData != nil))
	resp, err := m.deps.RPC.Start(ctx, m.service, routex.StartRequest{
		Ticket:         s.Ticket,
		Credentials:    creds,
		ConnectionData: connData,
	})
	endSpan(span, err)

	var result *domain.Result
	m.finish(snap.gen, func() {
		if err != nil {
			m.err = err
			m.state = s
			return
		}
		result = m.applyLocked(s.Ticket, resp)
	})
	m.retain(ctx, s.ConnectionID, result)
	return err
}

// Answer submits value for the Selection or Field dialog with response
// counter seq.
func (m *Machine) Answer(ctx context.Context, seq int, value string) error {
	snap, err := m.claim()
	if err != nil {
		return err
	}
	s, err := dialogAt("Answer", snap, seq)
	if err != nil {
		m.release(snap.gen)
		return err
	}
	if err := ValidateAnswer(s.Dialog.Input, value); err != nil {
		m.release(snap.gen)
		return err
	}

	ctx, span := m.span(ctx, "flow.respond", seq)
	m.logger.Debug("remote call", slog.String("operation", "respond"), slog.Int("seq", seq))
	resp, err := m.deps.RPC.Respond(ctx, m.service, routex.RespondRequest{
		Ticket:   s.Ticket,
		Context:  s.Dialog.Context,
		Response: value,
	})
	endSpan(span, err)

	return m.settle(ctx, snap, s.Ticket, resp, err)
}

// Confirm confirms the Confirmation dialog with response counter seq.
func (m *Machine) Confirm(ctx context.Context, seq int) error {
	snap, err := m.claim()
	if err != nil {
		return err
	}
	s, err := dialogAt("Confirm", snap, seq)
	if err != nil {
		m.release(snap.gen)
		return err
	}
	if _, ok := s.Dialog.Input.(domain.Confirmation); !ok {
		m.release(snap.gen)
		return fmt.Errorf("%w: %s dialog needs an answer", domain.ErrInvalidAnswer, s.Dialog.Input.Kind())
	}

	ctx, span := m.span(ctx, "flow.confirm", seq)
	m.logger.Debug("remote call", slog.String("operation", "confirm"), slog.Int("seq", seq))
	resp, err := m.deps.RPC.Confirm(ctx, m.service, routex.ConfirmRequest{
		Ticket:  s.Ticket,
		Context: s.Dialog.Context,
	})
	endSpan(span, err)

	return m.settle(ctx, snap, s.Ticket, resp, err)
}

// FollowRedirect parks the flow in the redirect mailbox, registers location
// as return address and navigates to the external URL, which is returned.
func (m *Machine) FollowRedirect(ctx context.Context, seq int, location string) (string, error) {
	snap, err := m.claim()
	if err != nil {
		return "", err
	}
	s, ok := snap.state.(AwaitingRedirect)
	switch {
	case ok && s.Seq == seq && !s.Followed:
	case seq > 0 && seq < snap.seq, ok && s.Seq == seq && s.Followed:
		m.release(snap.gen)
		return "", domain.ErrStaleDialog
	default:
		m.release(snap.gen)
		return "", invalid("FollowRedirect", snap.state)
	}

	parked := redirect.State{
		Service:      m.service,
		Ticket:       s.Ticket,
		Context:      s.Context,
		ConnectionID: snap.connectionID,
	}

	ctx, span := m.span(ctx, "flow.register_redirect", seq)
	m.logger.Debug("remote call", slog.String("operation", "registerRedirectUri"), slog.Int("seq", seq))
	externalURL, err := redirect.Follow(ctx, m.deps.Handoff, m.deps.RPC, m.deps.Navigator, parked, s.Handle, location)
	endSpan(span, err)

	m.finish(snap.gen, func() {
		m.err = err
		if err == nil || externalURL != "" {
			s.Followed = true
			m.state = s
		}
	})
	return externalURL, err
}

// Resume is called when the return address is loaded in this process. It
// consumes the redirect mailbox and continues the flow with the confirm
// call. A load that is not a resume, or that belongs to an earlier redirect,
// reports false and leaves the state unchanged. When the mailbox holds
// nothing usable for this flow, the flow falls back to Initial and the
// reason is returned.
func (m *Machine) Resume(ctx context.Context, location string) (bool, error) {
	snap, err := m.claim()
	if err != nil {
		return false, err
	}
	s, ok := snap.state.(AwaitingRedirect)
	if !ok || !s.Followed {
		m.release(snap.gen)
		return false, invalid("Resume", snap.state)
	}
	if m.deps.Handoff == nil {
		return false, m.abandon(snap.gen, redirect.ErrNothingParked)
	}

	parked, err := redirect.Claim(ctx, m.deps.Handoff, location)
	switch {
	case errors.Is(err, redirect.ErrNotResume), errors.Is(err, redirect.ErrStaleReturn):
		m.logger.Info("ignoring redirect return", slog.String("reason", err.Error()))
		m.release(snap.gen)
		return false, nil
	case err != nil:
		return false, m.abandon(snap.gen, err)
	}
	if parked.Service != m.service || parked.Ticket != s.Ticket {
		return false, m.abandon(snap.gen, fmt.Errorf("redirect state of %s belongs to another flow", parked.Service))
	}

	resume := AwaitingRedirectResume{Ticket: parked.Ticket, Context: parked.Context}
	m.transition(snap.gen, resume)
	return true, m.confirmResume(ctx, snap.gen, resume)
}

// abandon drops a flow whose redirect cannot be resumed and starts over at
// Initial.
func (m *Machine) abandon(gen uint64, cause error) error {
	err := fmt.Errorf("cannot resume after redirect: %w", cause)
	m.logger.Warn("redirect not resumable, starting over",
		slog.String("kind", string(domain.KindOf(cause))),
		slog.String("error", cause.Error()))
	m.finish(gen, func() {
		m.resetLocked()
		m.err = err
	})
	return err
}

// Continue issues the confirm call of a flow resumed after a redirect. It is
// also how the user retries after that call failed.
func (m *Machine) Continue(ctx context.Context) error {
	snap, err := m.claim()
	if err != nil {
		return err
	}
	s, ok := snap.state.(AwaitingRedirectResume)
	if !ok {
		m.release(snap.gen)
		return invalid("Continue", snap.state)
	}
	return m.confirmResume(ctx, snap.gen, s)
}

func (m *Machine) confirmResume(ctx context.Context, gen uint64, s AwaitingRedirectResume) error {
	ctx, span := m.span(ctx, "flow.confirm", 0)
	m.logger.Debug("remote call", slog.String("operation", "confirm"), slog.Bool("resume", true))
	resp, err := m.deps.RPC.Confirm(ctx, m.service, routex.ConfirmRequest{
		Ticket:  s.Ticket,
		Context: s.Context,
	})
	endSpan(span, err)

	m.mu.Lock()
	snap := snapshot{gen: gen, connectionID: m.connectionID}
	m.mu.Unlock()
	return m.settle(ctx, snap, s.Ticket, resp, err)
}

// StartAgain discards a successfully finished flow. Tickets are single use,
// so the flow starts over at Initial.
func (m *Machine) StartAgain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return domain.ErrCallInFlight
	}
	if t, ok := m.state.(Terminal); !ok || !t.Success() {
		return invalid("StartAgain", m.state)
	}
	m.resetLocked()
	return nil
}

// Reset discards all state of the flow, whatever it is. A call still in
// flight is ignored when it returns.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Machine) resetLocked() {
	m.gen++
	m.inFlight = false
	m.state = Initial{}
	m.conn = nil
	m.connectionID = ""
	m.seq = 0
	m.err = nil
}

type snapshot struct {
	state        State
	seq          int
	gen          uint64
	conn         *domain.ConnectionInfo
	connectionID string
}

// claim reserves the in-flight slot.
func (m *Machine) claim() (snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return snapshot{}, domain.ErrCallInFlight
	}
	m.inFlight = true
	return snapshot{
		state:        m.state,
		seq:          m.seq,
		gen:          m.gen,
		conn:         m.conn,
		connectionID: m.connectionID,
	}, nil
}

// finish frees the in-flight slot and runs update, unless the flow was reset
// in the meantime.
func (m *Machine) finish(gen uint64, update func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.inFlight = false
	update()
}

func (m *Machine) release(gen uint64) {
	m.finish(gen, func() {})
}

// transition changes the state while keeping the in-flight slot.
func (m *Machine) transition(gen uint64, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.state = s
	}
}

// settle applies the outcome of a respond or confirm call.
func (m *Machine) settle(ctx context.Context, snap snapshot, ticket string, resp domain.Response, err error) error {
	var result *domain.Result
	m.finish(snap.gen, func() {
		if err != nil {
			m.err = err
			return
		}
		result = m.applyLocked(ticket, resp)
	})
	m.retain(ctx, snap.connectionID, result)
	return err
}

// applyLocked branches on a response. Every applied response advances the
// counter, which makes any earlier interrupt stale.
func (m *Machine) applyLocked(ticket string, resp domain.Response) *domain.Result {
	m.seq++
	m.err = nil

	switch r := resp.(type) {
	case domain.Result:
		m.state = Terminal{Ticket: ticket, Seq: m.seq, Result: &r}
		m.logger.Info("flow finished", slog.Int("seq", m.seq))
		return &r
	case domain.Dialog:
		m.state = AwaitingDialog{Ticket: ticket, Seq: m.seq, Dialog: r}
	case domain.RedirectHandle:
		m.state = AwaitingRedirect{Ticket: ticket, Seq: m.seq, Handle: r.Handle, Context: r.Context}
	default:
		kind := "none"
		if resp != nil {
			kind = resp.Kind()
		}
		err := &domain.UnexpectedResponseError{Kind: kind}
		m.state = Terminal{Ticket: ticket, Seq: m.seq, Err: err}
		m.err = err
		m.logger.Warn("unexpected response", slog.String("kind", kind), slog.Int("seq", m.seq))
		return nil
	}
	m.logger.Debug("response applied", slog.String("kind", resp.Kind()), slog.Int("seq", m.seq))
	return nil
}

// retain files the connection data of a result for the next start.
func (m *Machine) retain(ctx context.Context, connectionID string, result *domain.Result) {
	if result == nil || connectionID == "" || len(result.ConnectionData) == 0 {
		return
	}
	if err := m.deps.Vault.Save(ctx, connectionID, result.ConnectionData); err != nil {
		m.logger.Warn("failed to retain connection data", slog.String("error", err.Error()))
	}
}

func (m *Machine) span(ctx context.Context, name string, seq int) (context.Context, trace.Span) {
	return m.deps.Tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("flow.service", string(m.service)),
		attribute.Int("flow.seq", seq),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// dialogAt returns the dialog awaiting an answer if it carries counter seq.
func dialogAt(op string, snap snapshot, seq int) (AwaitingDialog, error) {
	s, ok := snap.state.(AwaitingDialog)
	if ok && s.Seq == seq {
		return s, nil
	}
	if seq > 0 && seq < snap.seq {
		return AwaitingDialog{}, domain.ErrStaleDialog
	}
	return AwaitingDialog{}, invalid(op, snap.state)
}

func invalid(op string, s State) error {
	return fmt.Errorf("%w: %s in state %s", domain.ErrInvalidTransition, op, s.Name())
}
