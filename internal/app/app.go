// Package app drives flows interactively: it asks the user for whatever the
// current flow state needs and feeds the answers to the state machine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/routex-demo/internal/console"
	"github.com/tjfontaine/routex-demo/internal/credentials"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/flow"
	"github.com/tjfontaine/routex-demo/internal/redirect"
	"github.com/tjfontaine/routex-demo/internal/search"
	"github.com/tjfontaine/routex-demo/internal/ticket"
	"github.com/tjfontaine/routex-demo/internal/vault"
)

// ErrDetached is returned when the user was sent to an external site and no
// return listener is running in this process. The flow continues with the
// resume command.
var ErrDetached = errors.New("flow continues after the redirect returns")

// RPC is the remote client as used by the driver.
type RPC interface {
	flow.RPC
	search.Backend
	Trace(ctx context.Context, ticket string, traceID []byte) ([]byte, error)
}

// Options configures an App.
type Options struct {
	RPC       RPC
	Tickets   flow.TicketIssuer
	Handoff   *redirect.Handoff
	Vault     vault.Vault
	Tracer    trace.Tracer
	Prompter  console.Prompter
	Renderer  *console.Renderer
	Logger    *slog.Logger
	ReportDir string

	// Location is the return address registered for redirects.
	Location string
	// Returns delivers loads of the return address. Nil means no listener
	// runs in this process.
	Returns <-chan string

	SearchLimit    int
	MinQueryLength int
	// AutoPoll confirms polling confirmations after their delay without
	// asking.
	AutoPoll bool

	Now func() time.Time
}

// App is the interactive driver.
type App struct {
	opts   Options
	deps   flow.Deps
	logger *slog.Logger
}

// New creates an App.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &App{opts: opts, logger: opts.Logger}
	a.deps = flow.Deps{
		RPC:       opts.RPC,
		Tickets:   opts.Tickets,
		Handoff:   opts.Handoff,
		Navigator: redirect.NavigatorFunc(a.navigate),
		Vault:     opts.Vault,
		Logger:    opts.Logger,
		Tracer:    opts.Tracer,
	}
	return a
}

// Run drives a fresh flow of service until the user is done.
func (a *App) Run(ctx context.Context, service domain.Service) error {
	m, err := flow.New(service, a.deps)
	if err != nil {
		return err
	}
	return a.Drive(ctx, m)
}

// Resume is the startup check for location. It reports false when there was
// nothing to resume; otherwise it drives the resumed flow.
func (a *App) Resume(ctx context.Context, location string) (bool, error) {
	m, ok := flow.Restore(ctx, a.deps, location)
	if !ok {
		return false, nil
	}
	a.opts.Renderer.Title(fmt.Sprintf("Resuming %s", m.Service()))
	if err := m.Err(); err != nil {
		a.report(ctx, m, err)
	}
	return true, a.Drive(ctx, m)
}

// Drive runs m until the user finishes or quits. Errors of individual steps
// are shown and the step is offered again; only quitting ends the loop with
// an error.
func (a *App) Drive(ctx context.Context, m *flow.Machine) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch s := m.State().(type) {
		case flow.Initial:
			err = a.issueTicket(ctx, m)
		case flow.TicketIssued:
			err = a.selectConnection(ctx, m, s.Ticket)
		case flow.ConnectionSelected:
			err = a.submitCredentials(ctx, m)
		case flow.ServiceInitiated:
			return fmt.Errorf("flow is busy")
		case flow.AwaitingDialog:
			err = a.answer(ctx, m, s)
		case flow.AwaitingRedirect:
			err = a.redirect(ctx, m, s)
		case flow.AwaitingRedirectResume:
			if _, err = a.opts.Prompter.Ask("Press Enter to check the status again: "); err == nil {
				err = m.Continue(ctx)
			}
		case flow.Terminal:
			var done bool
			done, err = a.finish(m, s)
			if done && err == nil {
				return nil
			}
		}

		if err != nil {
			if errors.Is(err, console.ErrAborted) || errors.Is(err, ErrDetached) || ctx.Err() != nil {
				return err
			}
			a.report(ctx, m, err)
		}
	}
}

func (a *App) issueTicket(ctx context.Context, m *flow.Machine) error {
	a.opts.Renderer.Title(string(m.Service()))

	var data interface{ Validate() error }
	switch m.Service() {
	case domain.ServiceCollectPayment:
		answers, err := a.askAll("Amount (EUR): ", "Creditor name: ", "Creditor IBAN: ", "Remittance: ")
		if err != nil {
			return err
		}
		data = ticket.NewCollectPaymentData(answers[0], answers[1], answers[2], answers[3])
	case domain.ServiceTransactions:
		answers, err := a.askAll("Account IBAN: ", "From (YYYY-MM-DD): ", "To (optional): ", "Webhook URL (optional): ")
		if err != nil {
			return err
		}
		data = ticket.NewTransactionsData(answers[0], answers[1], answers[2], answers[3])
	}

	if err := data.Validate(); err != nil {
		return err
	}
	return m.IssueTicket(ctx, data)
}

func (a *App) askAll(prompts ...string) ([]string, error) {
	answers := make([]string, len(prompts))
	for i, p := range prompts {
		v, err := a.opts.Prompter.Ask(p)
		if err != nil {
			return nil, err
		}
		answers[i] = v
	}
	return answers, nil
}

func (a *App) selectConnection(ctx context.Context, m *flow.Machine, tkt string) error {
	searcher := search.NewSearcher(a.opts.RPC, tkt,
		search.WithLimit(a.opts.SearchLimit),
		search.WithMinQueryLength(a.opts.MinQueryLength),
		search.WithLogger(a.logger),
	)

	for {
		query, err := a.opts.Prompter.Ask("Search your bank: ")
		if err != nil {
			return err
		}
		outcome, err := searcher.Search(ctx, query)
		if err != nil {
			return err
		}
		if outcome == search.Cleared {
			a.opts.Renderer.Hint("Type at least %d characters.", max(a.opts.MinQueryLength, search.MinQueryLength))
			continue
		}

		results, _ := searcher.Results()
		if len(results) == 0 {
			a.opts.Renderer.Info("No matching bank found.")
			continue
		}
		a.opts.Renderer.Connections(results)

		choice, err := a.opts.Prompter.Ask(fmt.Sprintf("Choose 1-%d (Enter to search again): ", len(results)))
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(results) {
			continue
		}
		return m.SelectConnection(ctx, results[n-1].ID)
	}
}

func (a *App) submitCredentials(ctx context.Context, m *flow.Machine) error {
	conn, _ := m.Connection()
	fields := m.Fields()
	a.opts.Renderer.Connection(conn, fields)
	a.opts.Renderer.Hint("Enter /back to choose a different bank.")

	var in credentials.Input
	if fields.UserID.Visible {
		label := conn.UserIDLabel
		if label == "" {
			label = "User ID"
		}
		v, err := a.opts.Prompter.Ask(label + optional(fields.UserID) + ": ")
		if err != nil {
			return err
		}
		if v == "/back" {
			return m.ChangeConnection()
		}
		in.UserID = v
	}
	if fields.Password.Visible {
		v, err := a.opts.Prompter.AskSecret("Password" + optional(fields.Password) + ": ")
		if err != nil {
			return err
		}
		in.Password = v
	}
	return m.SubmitCredentials(ctx, in)
}

func optional(f credentials.Field) string {
	if f.Required == credentials.Always {
		return ""
	}
	return " (optional)"
}

func (a *App) answer(ctx context.Context, m *flow.Machine, s flow.AwaitingDialog) error {
	if err := a.opts.Renderer.Dialog(s.Seq, s.Dialog); err != nil {
		a.logger.Warn("failed to render dialog", slog.String("error", err.Error()))
	}

	switch in := s.Dialog.Input.(type) {
	case domain.Confirmation:
		if delay, ok := in.PollingDelay(); ok && a.opts.AutoPoll {
			a.opts.Renderer.Hint("Checking again in %s...", delay)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			return m.Confirm(ctx, s.Seq)
		}
		if _, err := a.opts.Prompter.Ask("Press Enter to confirm: "); err != nil {
			return err
		}
		return m.Confirm(ctx, s.Seq)

	case domain.Selection:
		v, err := a.opts.Prompter.Ask("Choose: ")
		if err != nil {
			return err
		}
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= len(in.Options) {
			v = in.Options[n-1].Key
		}
		return m.Answer(ctx, s.Seq, v)

	case domain.Field:
		ask := a.opts.Prompter.Ask
		if in.Secrecy == domain.SecrecyPassword {
			ask = a.opts.Prompter.AskSecret
		}
		v, err := ask("> ")
		if err != nil {
			return err
		}
		return m.Answer(ctx, s.Seq, v)
	}
	return fmt.Errorf("dialog input %T cannot be answered", s.Dialog.Input)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *App) redirect(ctx context.Context, m *flow.Machine, s flow.AwaitingRedirect) error {
	if !s.Followed {
		a.dropPendingReturns()
		_, err := m.FollowRedirect(ctx, s.Seq, a.opts.Location)
		return err
	}

	if a.opts.Returns == nil {
		a.opts.Renderer.Hint("When your bank sends you back, run: routex-demo resume <return URL>")
		return ErrDetached
	}

	a.opts.Renderer.Hint("Waiting for you to come back from your bank...")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case location := <-a.opts.Returns:
		ok, err := m.Resume(ctx, location)
		switch {
		case err != nil:
			if _, reset := m.State().(flow.Initial); reset {
				a.opts.Renderer.Hint("The redirect cannot be resumed. Starting over.")
			}
		case !ok:
			a.opts.Renderer.Info("Ignoring a return from an earlier redirect.")
		}
		return err
	}
}

// dropPendingReturns discards return loads that arrived before the next
// redirect is registered. They cannot belong to it.
func (a *App) dropPendingReturns() {
	for {
		select {
		case location := <-a.opts.Returns:
			a.logger.Debug("dropping earlier redirect return", slog.String("location", location))
		default:
			return
		}
	}
}

func (a *App) navigate(ctx context.Context, externalURL string) error {
	a.opts.Renderer.Redirect(externalURL)
	return nil
}

// finish reports whether the user is done.
func (a *App) finish(m *flow.Machine, s flow.Terminal) (bool, error) {
	if s.Success() {
		a.opts.Renderer.Result(*s.Result)
		again, err := a.confirm("Start again? [y/N]: ")
		if err != nil || !again {
			return true, err
		}
		return false, m.StartAgain()
	}

	a.opts.Renderer.Error(s.Err)
	restart, err := a.confirm("Restart? [y/N]: ")
	if err != nil || !restart {
		return true, err
	}
	m.Reset()
	return false, nil
}

func (a *App) confirm(prompt string) (bool, error) {
	v, err := a.opts.Prompter.Ask(prompt)
	if err != nil {
		return false, err
	}
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "y" || v == "yes", nil
}

// report shows err and offers the encrypted error report when the service
// handed out a trace id.
func (a *App) report(ctx context.Context, m *flow.Machine, err error) {
	a.opts.Renderer.Error(err)

	var terr *domain.TransportError
	if !errors.As(err, &terr) || len(terr.TraceID) == 0 {
		return
	}
	tkt := ticketOf(m.State())
	if tkt == "" {
		return
	}

	download, perr := a.confirm("Download the encrypted error report? [y/N]: ")
	if perr != nil || !download {
		return
	}

	path, derr := a.downloadReport(ctx, tkt, terr.TraceID)
	if derr != nil {
		a.opts.Renderer.Error(derr)
		return
	}
	a.opts.Renderer.Info("Error report saved to %s", path)
}

func (a *App) downloadReport(ctx context.Context, tkt string, traceID []byte) (string, error) {
	data, err := a.opts.RPC.Trace(ctx, tkt, traceID)
	if err != nil {
		return "", err
	}
	name := a.opts.Now().Format("error-report-2006-01-02-150405") + ".gz.age"
	path := filepath.Join(a.opts.ReportDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write error report: %w", err)
	}
	return path, nil
}

func ticketOf(s flow.State) string {
	switch v := s.(type) {
	case flow.TicketIssued:
		return v.Ticket
	case flow.ConnectionSelected:
		return v.Ticket
	case flow.ServiceInitiated:
		return v.Ticket
	case flow.AwaitingDialog:
		return v.Ticket
	case flow.AwaitingRedirect:
		return v.Ticket
	case flow.AwaitingRedirectResume:
		return v.Ticket
	case flow.Terminal:
		return v.Ticket
	}
	return ""
}
