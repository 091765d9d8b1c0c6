package ticket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/routex-demo/internal/backend"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/ticket"
)

func TestIssuer_AgainstBackend(t *testing.T) {
	tickets, err := backend.NewTicketService("k1", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewTicketService() error = %v", err)
	}
	r := chi.NewRouter()
	backend.NewHandler(tickets, nil).Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	issuer := ticket.NewIssuer(srv.URL, ticket.WithHTTPClient(srv.Client()))
	data := ticket.NewTransactionsData("de02 1203 0000 0000 2020 51", "2026-01-01", "", "")

	token, err := issuer.Issue(context.Background(), domain.ServiceTransactions, data)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := tickets.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Data.Service != domain.ServiceTransactions {
		t.Errorf("service = %q", claims.Data.Service)
	}
	payload, ok := claims.Data.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %#v", claims.Data.Data)
	}
	account, _ := payload["account"].(map[string]any)
	if account["iban"] != "DE02120300000000202051" || account["currency"] != "EUR" {
		t.Errorf("account = %v", account)
	}
}

func TestIssuer_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := ticket.NewIssuer(srv.URL).Issue(context.Background(), domain.ServiceCollectPayment, struct{}{})

	var terr *domain.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Issue() error = %v, want *domain.TransportError", err)
	}
	if terr.StatusCode != http.StatusServiceUnavailable || terr.Body != "backend down" {
		t.Errorf("TransportError = %+v", terr)
	}
}

func TestIssuer_EmptyTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`""`))
	}))
	defer srv.Close()

	if _, err := ticket.NewIssuer(srv.URL).Issue(context.Background(), domain.ServiceCollectPayment, nil); err == nil {
		t.Fatal("Issue() expected error for an empty ticket")
	}
}
