package backend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/routex-demo/internal/domain"
)

func newTestRouter(t *testing.T) (*chi.Mux, *TicketService) {
	t.Helper()
	svc, err := NewTicketService("k1", testKey)
	if err != nil {
		t.Fatalf("NewTicketService() error = %v", err)
	}
	r := chi.NewRouter()
	NewHandler(svc, nil).Mount(r)
	return r, svc
}

func TestHandler_Issue(t *testing.T) {
	r, svc := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/ticket?service=CollectPayment",
		strings.NewReader(`{"amount":{"amount":"1.00","currency":"EUR"}}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var token string
	if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
		t.Fatalf("reply is not a JSON string: %v", err)
	}
	claims, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Data.Service != domain.ServiceCollectPayment {
		t.Errorf("service = %q", claims.Data.Service)
	}
}

func TestHandler_BadRequests(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{name: "missing service", target: "/ticket", body: `{}`},
		{name: "unknown service", target: "/ticket?service=Loans", body: `{}`},
		{name: "body not JSON", target: "/ticket?service=Transactions", body: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandler_EmptyBody(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ticket?service=Transactions", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
