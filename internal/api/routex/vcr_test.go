package routex_test

import (
	"context"
	"os"
	"testing"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/testutil"
)

func vcrBaseURL() string {
	if u := os.Getenv("ROUTEX_URL"); u != "" && os.Getenv("VCR_MODE") == "record" {
		return u
	}
	return "https://routex.example"
}

func TestClient_RecordedRedirectFlow(t *testing.T) {
	if os.Getenv("ROUTEX_TICKET") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: ROUTEX_TICKET not set")
	}
	ticket := os.Getenv("ROUTEX_TICKET")
	if ticket == "" {
		ticket = "test-ticket"
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, "routex_transactions")
	defer cleanup()

	client := routex.NewClient(vcrBaseURL(), routex.WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	ctx := context.Background()

	conns, err := client.Search(ctx, routex.SearchRequest{
		Ticket:        ticket,
		Filters:       []routex.SearchFilter{{Term: "demo"}},
		IBANDetection: true,
		Limit:         50,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "demo-1" || conns[0].UserIDLabel != "Login name" {
		t.Fatalf("Search() = %+v", conns)
	}
	if !conns[0].Credentials.Full {
		t.Errorf("credentials = %+v, want full", conns[0].Credentials)
	}

	user, password := "demo", "secret"
	resp, err := client.Start(ctx, domain.ServiceTransactions, routex.StartRequest{
		Ticket:      ticket,
		Credentials: domain.Credentials{ConnectionID: "demo-1", UserID: &user, Password: &password},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	redirect, ok := resp.(domain.RedirectHandle)
	if !ok {
		t.Fatalf("Start() = %T, want domain.RedirectHandle", resp)
	}
	if redirect.Handle != "rh-91" || !redirect.Context.Equal(domain.Context("hi")) {
		t.Errorf("redirect = %+v", redirect)
	}

	location, err := client.RegisterRedirectURI(ctx, routex.RegisterRedirectRequest{
		Ticket:      ticket,
		Handle:      redirect.Handle,
		RedirectURI: "http://127.0.0.1:8765/return?fromRedirect=1",
	})
	if err != nil {
		t.Fatalf("RegisterRedirectURI() error = %v", err)
	}
	if location != "https://demo-bank.example/consent/91" {
		t.Errorf("RegisterRedirectURI() = %q", location)
	}

	resp, err = client.Confirm(ctx, domain.ServiceTransactions, routex.ConfirmRequest{
		Ticket:  ticket,
		Context: redirect.Context,
	})
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	result, ok := resp.(domain.Result)
	if !ok {
		t.Fatalf("Confirm() = %T, want domain.Result", resp)
	}
	if string(result.ConnectionData) != "conn-data" {
		t.Errorf("connectionData = %q", result.ConnectionData)
	}
}
