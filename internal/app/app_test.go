package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/routex-demo/internal/app"
	"github.com/tjfontaine/routex-demo/internal/console"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/redirect"
	"github.com/tjfontaine/routex-demo/internal/storage"
	"github.com/tjfontaine/routex-demo/internal/storage/memory"
	"github.com/tjfontaine/routex-demo/internal/testutil"
	"github.com/tjfontaine/routex-demo/internal/vault"
)

const location = "http://127.0.0.1:8765/return"

type issuer struct{ ticket string }

func (i issuer) Issue(ctx context.Context, service domain.Service, data any) (string, error) {
	return i.ticket, nil
}

type env struct {
	fake    *testutil.FakeRoutex
	store   storage.KeyValueStore
	handoff *redirect.Handoff
	vault   *vault.Store
	out     bytes.Buffer
	script  *console.Script
	returns chan string
	opts    app.Options
}

func newEnv(t *testing.T, answers ...string) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := &env{
		fake:    testutil.NewFakeRoutex(t),
		store:   memory.New(),
		script:  console.NewScript(answers...),
		returns: make(chan string, 4),
	}
	e.fake.SetConnections(domain.ConnectionInfo{
		ID:          "demo-1",
		DisplayName: "Demo Bank",
		Credentials: domain.CredentialCapability{Full: true},
		UserIDLabel: "Login name",
	})
	e.handoff = redirect.NewHandoff(e.store, redirect.WithLogger(logger))
	e.vault = vault.NewStore(e.store)
	e.opts = app.Options{
		RPC:       e.fake.Client(),
		Tickets:   issuer{ticket: "T1"},
		Handoff:   e.handoff,
		Vault:     e.vault,
		Prompter:  e.script,
		Renderer:  console.NewRenderer(&e.out, t.TempDir()),
		Logger:    logger,
		ReportDir: t.TempDir(),
		Location:  location,
		Returns:   e.returns,
	}
	return e
}

var transactionsForm = []string{"DE02 1203 0000 0000 2020 51", "2026-01-01", "", ""}

func answers(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func respondValues(t *testing.T, fake *testutil.FakeRoutex) []string {
	t.Helper()
	var out []string
	for _, c := range fake.CallsOf("respond") {
		var body struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(c.Body, &body); err != nil {
			t.Fatalf("bad respond body: %v", err)
		}
		out = append(out, body.Response)
	}
	return out
}

func TestApp_TransactionsWithRedirect(t *testing.T) {
	e := newEnv(t, answers(transactionsForm, []string{"demo", "1", "alice", "secret", "n"})...)
	e.fake.SetRedirectURL("https://demo-bank.example/consent/1")
	e.fake.Enqueue(
		domain.RedirectHandle{Handle: "rh-1", Context: domain.Context{3}},
		domain.Result{Payload: "signed-result", ConnectionData: []byte("cd")},
	)
	e.fake.OnRegister(func(redirectURI string) { e.returns <- redirectURI })

	if err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out := e.out.String()
	for _, want := range []string{"Demo Bank", "https://demo-bank.example/consent/1", "signed-result"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if e.script.Remaining() != 0 {
		t.Errorf("%d answers unused; prompts: %q", e.script.Remaining(), e.script.Prompts())
	}
	if !strings.Contains(strings.Join(e.script.Prompts(), "\n"), "Login name: ") {
		t.Errorf("user id prompt does not use the connection's label: %q", e.script.Prompts())
	}

	saved, err := e.vault.Load(context.Background(), "demo-1")
	if err != nil || string(saved) != "cd" {
		t.Errorf("vault Load() = %q, %v", saved, err)
	}
}

func TestApp_RepeatedReturnOfEarlierRedirect(t *testing.T) {
	e := newEnv(t, answers(transactionsForm, []string{"demo", "1", "alice", "secret", "n"})...)
	e.fake.Enqueue(
		domain.RedirectHandle{Handle: "rh-1", Context: domain.Context{1}},
		domain.RedirectHandle{Handle: "rh-2", Context: domain.Context{2}},
		domain.Result{Payload: "both-consents"},
	)

	var (
		mu         sync.Mutex
		registered []string
	)
	e.fake.OnRegister(func(redirectURI string) {
		mu.Lock()
		defer mu.Unlock()
		registered = append(registered, redirectURI)
		if len(registered) == 1 {
			// The bank page of the first redirect is loaded twice.
			e.returns <- redirectURI
			e.returns <- redirectURI
			return
		}
		// A late reload of the first page beats the real return.
		e.returns <- registered[0]
		e.returns <- redirectURI
	})

	if err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	confirms := e.fake.CallsOf("confirm")
	if len(confirms) != 2 {
		t.Fatalf("confirm calls = %d, want 2", len(confirms))
	}
	for i, want := range []string{"[1]", "[2]"} {
		var body struct {
			Context json.RawMessage `json:"context"`
		}
		if err := json.Unmarshal(confirms[i].Body, &body); err != nil {
			t.Fatalf("confirm body: %v", err)
		}
		if string(body.Context) != want {
			t.Errorf("confirm %d context = %s, want %s", i+1, body.Context, want)
		}
	}
	if !strings.Contains(e.out.String(), "Ignoring a return from an earlier redirect.") {
		t.Errorf("stale return not reported:\n%s", e.out.String())
	}
	if !strings.Contains(e.out.String(), "both-consents") {
		t.Errorf("result not shown:\n%s", e.out.String())
	}
}

func TestApp_CorruptStateOnReturnStartsOver(t *testing.T) {
	e := newEnv(t, answers(transactionsForm, []string{"demo", "1", "alice", "secret"})...)
	e.fake.Enqueue(domain.RedirectHandle{Handle: "rh-1", Context: domain.Context{1}})
	e.fake.OnRegister(func(redirectURI string) {
		_ = e.store.Set(context.Background(), redirect.StorageKey, []byte("{{{"))
		e.returns <- redirectURI
	})

	err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions)
	if !errors.Is(err, console.ErrAborted) {
		t.Fatalf("Run() error = %v, want the script to run out", err)
	}

	if !strings.Contains(e.out.String(), "Starting over") {
		t.Errorf("fallback not shown:\n%s", e.out.String())
	}
	var forms int
	for _, p := range e.script.Prompts() {
		if p == "Account IBAN: " {
			forms++
		}
	}
	if forms != 2 {
		t.Errorf("ticket form asked %d times, want 2; prompts: %q", forms, e.script.Prompts())
	}
	if n := len(e.fake.CallsOf("confirm")); n != 0 {
		t.Errorf("confirm calls = %d, want 0", n)
	}
	if _, err := e.store.Get(context.Background(), redirect.StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("corrupt state left in storage: %v", err)
	}
}

func TestApp_DialogsWithRetry(t *testing.T) {
	six := 6
	e := newEnv(t,
		"12.50", "Demo Shop", "DE02120300000000202051", "Order 1",
		"demo", "1", "alice", "secret",
		"2",
		"123", "123456",
		"n",
	)
	e.fake.Enqueue(
		domain.Dialog{
			Message: "Choose a TAN method",
			Input: domain.Selection{Options: []domain.SelectionOption{
				{Key: "sms", Label: "SMS"},
				{Key: "app", Label: "pushTAN"},
			}},
			Context: domain.Context{1},
		},
		domain.Dialog{
			Message: "Enter TAN",
			Input:   domain.Field{InputKind: domain.InputNumber, Secrecy: domain.SecrecyPassword, MinLength: &six, MaxLength: &six},
			Context: domain.Context{2},
		},
		domain.Result{Payload: "paid"},
	)

	if err := app.New(e.opts).Run(context.Background(), domain.ServiceCollectPayment); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := respondValues(t, e.fake)
	if strings.Join(got, ",") != "app,123456" {
		t.Errorf("respond values = %q, want app then 123456", got)
	}
	if !strings.Contains(e.out.String(), "at least 6 characters") {
		t.Errorf("invalid answer not reported:\n%s", e.out.String())
	}
	if c := e.fake.CallsOf("start"); len(c) != 1 || c[0].Service != "collect-payment" {
		t.Errorf("start calls = %+v", c)
	}
}

func TestApp_TraceReportDownload(t *testing.T) {
	e := newEnv(t, answers(transactionsForm, []string{"demo", "y", "demo", "1", "alice", "secret", "n"})...)
	e.opts.Now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	e.fake.FailNext(http.StatusBadGateway, "bank down", []byte{0xca, 0xfe})
	e.fake.SetReport([]byte("age-encrypted-report"))
	e.fake.Enqueue(domain.Result{Payload: "ok"})

	if err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	path := filepath.Join(e.opts.ReportDir, "error-report-2026-10-19-120000.gz.age")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("report not written: %v\n%s", err, e.out.String())
	}
	if string(data) != "age-encrypted-report" {
		t.Errorf("report = %q", data)
	}
	if c := e.fake.CallsOf("trace"); len(c) != 1 || c[0].Ticket != "T1" {
		t.Errorf("trace calls = %+v", c)
	}
	if !strings.Contains(e.out.String(), "Trace ID: yv4") {
		t.Errorf("trace id not shown:\n%s", e.out.String())
	}
}

func TestApp_Resume(t *testing.T) {
	e := newEnv(t, "n")
	ctx := context.Background()
	if err := e.handoff.Put(ctx, redirect.State{
		Service:      domain.ServiceTransactions,
		Ticket:       "T9",
		Context:      domain.Context{1, 2},
		ConnectionID: "demo-1",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	e.fake.Enqueue(domain.Result{Payload: "resumed", ConnectionData: []byte("cd9")})

	a := app.New(e.opts)
	ok, err := a.Resume(ctx, location+"?fromRedirect=1")
	if err != nil || !ok {
		t.Fatalf("Resume() = %v, %v", ok, err)
	}
	if c := e.fake.CallsOf("confirm"); len(c) != 1 || c[0].Ticket != "T9" || c[0].Service != "transactions" {
		t.Errorf("confirm calls = %+v", c)
	}
	if !strings.Contains(e.out.String(), "resumed") {
		t.Errorf("result not shown:\n%s", e.out.String())
	}
	if saved, _ := e.vault.Load(ctx, "demo-1"); string(saved) != "cd9" {
		t.Errorf("connection data = %q", saved)
	}

	ok, err = a.Resume(ctx, location+"?fromRedirect=1")
	if err != nil || ok {
		t.Errorf("second Resume() = %v, %v; want nothing to resume", ok, err)
	}
}

func TestApp_DetachedRedirect(t *testing.T) {
	e := newEnv(t, answers(transactionsForm, []string{"demo", "1", "alice", "secret"})...)
	e.opts.Returns = nil
	e.fake.Enqueue(domain.RedirectHandle{Handle: "rh-1", Context: domain.Context{8}})

	err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions)
	if !errors.Is(err, app.ErrDetached) {
		t.Fatalf("Run() error = %v, want ErrDetached", err)
	}

	data, err := e.store.Get(context.Background(), redirect.StorageKey)
	if err != nil {
		t.Fatalf("mailbox empty after detaching: %v", err)
	}
	var parked redirect.State
	if err := json.Unmarshal(data, &parked); err != nil || parked.Ticket != "T1" || parked.Service != domain.ServiceTransactions {
		t.Errorf("parked state = %+v, %v", parked, err)
	}
}

func TestApp_UnexpectedResponse(t *testing.T) {
	e := newEnv(t, answers(transactionsForm, []string{"demo", "1", "alice", "secret", "y"})...)
	e.fake.Enqueue(domain.UnknownResponse{Type: "Surprise"})

	err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions)
	if !errors.Is(err, console.ErrAborted) {
		t.Fatalf("Run() error = %v, want ErrAborted after restarting", err)
	}
	if !strings.Contains(e.out.String(), "does not understand") {
		t.Errorf("output:\n%s", e.out.String())
	}
	last := e.script.Prompts()[len(e.script.Prompts())-1]
	if last != "Account IBAN: " {
		t.Errorf("restart did not return to the ticket form, last prompt %q", last)
	}
}

func TestApp_InvalidForm(t *testing.T) {
	e := newEnv(t, "DE02", "not-a-date", "", "")

	err := app.New(e.opts).Run(context.Background(), domain.ServiceTransactions)
	if !errors.Is(err, console.ErrAborted) {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(e.out.String(), "YYYY-MM-DD") {
		t.Errorf("validation error not shown:\n%s", e.out.String())
	}
}
