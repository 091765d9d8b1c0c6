package redirect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/storage"
	"github.com/tjfontaine/routex-demo/internal/storage/memory"
)

type fakeRegistrar struct {
	reqs []routex.RegisterRedirectRequest
	url  string
	err  error
	// stored is what the mailbox held when registration was requested.
	stored []byte
	store  storage.KeyValueStore
}

func (f *fakeRegistrar) RegisterRedirectURI(ctx context.Context, req routex.RegisterRedirectRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.store != nil {
		f.stored, _ = f.store.Get(ctx, StorageKey)
	}
	return f.url, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarkResume(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8765/return", "http://127.0.0.1:8765/return?fromRedirect=1"},
		{"https://app.example/flow?service=Transactions", "https://app.example/flow?fromRedirect=1&service=Transactions"},
		{"https://app.example/?fromRedirect=0", "https://app.example/?fromRedirect=1"},
	}
	for _, tt := range tests {
		got, err := MarkResume(tt.in)
		if err != nil {
			t.Fatalf("MarkResume(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("MarkResume(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !IsResume(got) {
			t.Errorf("IsResume(%q) = false", got)
		}
	}

	if IsResume("http://127.0.0.1:8765/return") {
		t.Errorf("IsResume() true without marker")
	}
}

func TestFollow(t *testing.T) {
	store := memory.New()
	h := NewHandoff(store, WithLogger(discardLogger()))
	reg := &fakeRegistrar{url: "https://bank.example/sca", store: store}

	var navigated []string
	nav := NavigatorFunc(func(ctx context.Context, u string) error {
		navigated = append(navigated, u)
		return nil
	})

	state := State{Service: domain.ServiceTransactions, Ticket: "T1", Context: domain.Context{1, 2}}
	got, err := Follow(context.Background(), h, reg, nav, state, "h-1", "http://127.0.0.1:8765/return")
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if got != "https://bank.example/sca" {
		t.Errorf("Follow() = %q", got)
	}

	if len(reg.reqs) != 1 {
		t.Fatalf("register requests = %d, want 1", len(reg.reqs))
	}
	req := reg.reqs[0]
	if req.Ticket != "T1" || req.Handle != "h-1" {
		t.Errorf("register request = %+v", req)
	}
	if !strings.HasPrefix(req.RedirectURI, "http://127.0.0.1:8765/return?") || !IsResume(req.RedirectURI) {
		t.Errorf("RedirectURI = %q, want the marked return address", req.RedirectURI)
	}
	if len(reg.stored) == 0 {
		t.Fatalf("state was not persisted before registration")
	}
	parked, ok, err := h.Peek(context.Background())
	if err != nil || !ok {
		t.Fatalf("Peek() = %v, %v", ok, err)
	}
	if parked.ReturnID == "" || parked.ReturnID != ReturnID(req.RedirectURI) {
		t.Errorf("parked return id %q does not match RedirectURI %q", parked.ReturnID, req.RedirectURI)
	}
	if diff := cmp.Diff([]string{"https://bank.example/sca"}, navigated); diff != "" {
		t.Errorf("navigation mismatch (-want +got):\n%s", diff)
	}
}

func TestFollow_RegistrationFailureEmptiesMailbox(t *testing.T) {
	store := memory.New()
	h := NewHandoff(store, WithLogger(discardLogger()))
	regErr := &domain.TransportError{Operation: "registerRedirectUri", StatusCode: 500}
	reg := &fakeRegistrar{err: regErr}
	nav := NavigatorFunc(func(ctx context.Context, u string) error {
		t.Errorf("navigated to %q after failed registration", u)
		return nil
	})

	state := State{Service: domain.ServiceCollectPayment, Ticket: "T1", Context: domain.Context{1}}
	_, err := Follow(context.Background(), h, reg, nav, state, "h", "http://localhost/return")
	if !errors.Is(err, regErr) {
		t.Fatalf("Follow() error = %v, want %v", err, regErr)
	}
	if _, err := store.Get(context.Background(), StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("mailbox not emptied: %v", err)
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h := NewHandoff(store, WithLogger(discardLogger()))

	want := State{Service: domain.ServiceTransactions, Ticket: "T1", Context: domain.Context{0, 7, 255}}
	if err := h.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	location := "http://127.0.0.1:8765/return?fromRedirect=1&code=abc"
	got, ok := Restore(ctx, h, location)
	if !ok {
		t.Fatalf("Restore() did not resume")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Restore() mismatch (-want +got):\n%s", diff)
	}

	if _, ok := Restore(ctx, h, location); ok {
		t.Errorf("second Restore() resumed again")
	}
}

func TestRestore_RequiresMarker(t *testing.T) {
	ctx := context.Background()
	h := NewHandoff(memory.New(), WithLogger(discardLogger()))
	state := State{Service: domain.ServiceCollectPayment, Ticket: "T1", Context: domain.Context{}}
	if err := h.Put(ctx, state); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, ok := Restore(ctx, h, "http://127.0.0.1:8765/return"); ok {
		t.Fatalf("Restore() resumed without marker")
	}
	// The unmarked load must not consume the mailbox.
	if _, ok := Restore(ctx, h, "http://127.0.0.1:8765/return?fromRedirect=1"); !ok {
		t.Errorf("marked Restore() did not resume")
	}
}

func TestRestore_CorruptState(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"wrong shape", `["Transactions","T1"]`},
		{"unknown service", `{"service":"Payout","ticket":"T1","context":[1]}`},
		{"context not bytes", `{"service":"Transactions","ticket":"T1","context":[999]}`},
		{"context as string", `{"service":"Transactions","ticket":"T1","context":"AQI="}`},
		{"missing ticket", `{"service":"Transactions","context":[1]}`},
		{"missing context", `{"service":"Transactions","ticket":"T1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			var logs bytes.Buffer
			h := NewHandoff(store, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

			if err := store.Set(ctx, StorageKey, []byte(tt.data)); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			if _, ok := Restore(ctx, h, "http://x/return?fromRedirect=1"); ok {
				t.Fatalf("Restore() resumed from corrupt state")
			}
			if !strings.Contains(logs.String(), string(domain.ErrorKindRedirectStateCorrupt)) {
				t.Errorf("corruption not logged: %s", logs.String())
			}
			if _, err := store.Get(ctx, StorageKey); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("corrupt state left in storage: %v", err)
			}
		})
	}
}

func TestHandoff_WireLayout(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h := NewHandoff(store)

	if err := h.Put(ctx, State{Service: domain.ServiceTransactions, Ticket: "T1", Context: domain.Context{1, 200}}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _ := store.Get(ctx, StorageKey)
	want := `{"service":"Transactions","ticket":"T1","context":[1,200]}`
	if string(got) != want {
		t.Errorf("persisted = %s, want %s", got, want)
	}
}

func TestFollow_FreshReturnIDPerRedirect(t *testing.T) {
	ctx := context.Background()
	h := NewHandoff(memory.New(), WithLogger(discardLogger()))
	reg := &fakeRegistrar{url: "https://bank.example/sca"}
	nav := NavigatorFunc(func(context.Context, string) error { return nil })

	state := State{Service: domain.ServiceTransactions, Ticket: "T1", Context: domain.Context{1}}
	for _, handle := range []string{"h-1", "h-2"} {
		if _, err := Follow(ctx, h, reg, nav, state, handle, "http://127.0.0.1:8765/return"); err != nil {
			t.Fatalf("Follow(%s) error = %v", handle, err)
		}
	}
	first, second := ReturnID(reg.reqs[0].RedirectURI), ReturnID(reg.reqs[1].RedirectURI)
	if first == "" || first == second {
		t.Errorf("return ids = %q, %q; want two distinct ids", first, second)
	}
}

func TestClaim_ReturnID(t *testing.T) {
	const base = "http://127.0.0.1:8765/return?fromRedirect=1"
	parked := State{Service: domain.ServiceTransactions, Ticket: "T1", Context: domain.Context{2}, ReturnID: "r-2"}

	tests := []struct {
		name      string
		location  string
		wantErr   error
		wantTaken bool
	}{
		{name: "matching id", location: base + "&returnId=r-2", wantTaken: true},
		{name: "earlier redirect", location: base + "&returnId=r-1", wantErr: ErrStaleReturn},
		{name: "no id", location: base, wantTaken: true},
		{name: "no marker", location: "http://127.0.0.1:8765/return?returnId=r-2", wantErr: ErrNotResume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := NewHandoff(memory.New(), WithLogger(discardLogger()))
			if err := h.Put(ctx, parked); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := Claim(ctx, h, tt.location)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Claim() error = %v, want %v", err, tt.wantErr)
			}
			_, stillParked, _ := h.Peek(ctx)
			if stillParked == tt.wantTaken {
				t.Errorf("mailbox parked = %v after Claim(), want %v", stillParked, !tt.wantTaken)
			}
			if tt.wantTaken {
				if diff := cmp.Diff(parked, got); diff != "" {
					t.Errorf("Claim() mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestClaim_EmptyMailbox(t *testing.T) {
	h := NewHandoff(memory.New(), WithLogger(discardLogger()))
	if _, err := Claim(context.Background(), h, "http://x/return?fromRedirect=1&returnId=r-1"); !errors.Is(err, ErrNothingParked) {
		t.Errorf("Claim() error = %v, want %v", err, ErrNothingParked)
	}
}
