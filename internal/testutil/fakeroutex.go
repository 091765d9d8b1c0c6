package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// Call is one request received by FakeRoutex.
type Call struct {
	Operation string
	Service   string
	Ticket    string
	Body      json.RawMessage
}

type failure struct {
	status  int
	body    string
	traceID []byte
}

// FakeRoutex is an in-process stand-in for the remote service. Service calls
// answer with queued responses in order.
type FakeRoutex struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	connections []domain.ConnectionInfo
	responses   []domain.Response
	redirectURL string
	report      []byte
	failures    []failure
	calls       []Call
	onRegister  func(redirectURI string)
}

// NewFakeRoutex starts a fake remote service that is closed when the test ends.
func NewFakeRoutex(t *testing.T) *FakeRoutex {
	t.Helper()

	f := &FakeRoutex{t: t, redirectURL: "https://bank.example/authorize"}

	r := chi.NewRouter()
	r.Post("/search", f.handleSearch)
	r.Get("/info/{id}", f.handleInfo)
	r.Post("/{service}/{op}", f.handleService)
	r.Post("/redirect-uri", f.handleRegister)
	r.Get("/trace/{id}", f.handleTrace)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

// URL is the base URL of the fake.
func (f *FakeRoutex) URL() string {
	return f.server.URL
}

// Client returns a routex client pointed at the fake.
func (f *FakeRoutex) Client(opts ...routex.ClientOption) *routex.Client {
	opts = append([]routex.ClientOption{routex.WithHTTPClient(f.server.Client())}, opts...)
	return routex.NewClient(f.server.URL, opts...)
}

// SetConnections sets what search and info answer from.
func (f *FakeRoutex) SetConnections(conns ...domain.ConnectionInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = conns
}

// Enqueue appends responses for subsequent start, respond and confirm calls.
func (f *FakeRoutex) Enqueue(rs ...domain.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, rs...)
}

// SetRedirectURL sets the external URL returned by redirect registration.
func (f *FakeRoutex) SetRedirectURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirectURL = u
}

// OnRegister sets fn to be called with the redirect URI of every successful
// registration, before the registration is answered.
func (f *FakeRoutex) OnRegister(fn func(redirectURI string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRegister = fn
}

// SetReport sets the bytes served by the trace endpoint.
func (f *FakeRoutex) SetReport(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = b
}

// FailNext makes the next call of any kind fail with status. A non-empty
// traceID is sent in the trace id header.
func (f *FakeRoutex) FailNext(status int, body string, traceID []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{status: status, body: body, traceID: traceID})
}

// Calls returns every request received so far.
func (f *FakeRoutex) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf returns the received requests for one operation.
func (f *FakeRoutex) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Operation == op {
			out = append(out, c)
		}
	}
	return out
}

// record logs the call and reports whether the handler should answer. It
// writes a queued failure itself.
func (f *FakeRoutex) record(w http.ResponseWriter, r *http.Request, op, service string) (json.RawMessage, bool) {
	var body json.RawMessage
	if r.ContentLength != 0 && r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("fake routex: bad %s body: %v", op, err)
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{
		Operation: op,
		Service:   service,
		Ticket:    strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		Body:      body,
	})
	var fail *failure
	if len(f.failures) > 0 {
		fail = &f.failures[0]
		f.failures = f.failures[1:]
	}
	f.mu.Unlock()

	if fail != nil {
		if len(fail.traceID) > 0 {
			w.Header().Set(routex.TraceIDHeader, base64.RawURLEncoding.EncodeToString(fail.traceID))
		}
		http.Error(w, fail.body, fail.status)
		return body, false
	}
	return body, true
}

func (f *FakeRoutex) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, ok := f.record(w, r, "search", "")
	if !ok {
		return
	}
	var req routex.SearchRequest
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	conns := f.connections
	f.mu.Unlock()

	out := []domain.ConnectionInfo{}
	for _, c := range conns {
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
		if matchesAll(c.DisplayName, req.Filters) {
			out = append(out, c)
		}
	}
	writeJSON(w, out)
}

func matchesAll(name string, filters []routex.SearchFilter) bool {
	name = strings.ToLower(name)
	for _, flt := range filters {
		if !strings.Contains(name, strings.ToLower(flt.Term)) {
			return false
		}
	}
	return true
}

func (f *FakeRoutex) handleInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.record(w, r, "info", ""); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connections {
		if c.ID == id {
			writeJSON(w, c)
			return
		}
	}
	http.Error(w, "unknown connection", http.StatusNotFound)
}

func (f *FakeRoutex) handleService(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	if op != "start" && op != "respond" && op != "confirm" {
		http.NotFound(w, r)
		return
	}
	if _, ok := f.record(w, r, op, chi.URLParam(r, "service")); !ok {
		return
	}

	f.mu.Lock()
	if len(f.responses) == 0 {
		f.mu.Unlock()
		f.t.Errorf("fake routex: no response queued for %s", op)
		http.Error(w, "no response queued", http.StatusInternalServerError)
		return
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	f.mu.Unlock()

	data, err := routex.EncodeResponse(next)
	if err != nil {
		f.t.Errorf("fake routex: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (f *FakeRoutex) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, ok := f.record(w, r, "registerRedirectUri", "")
	if !ok {
		return
	}
	f.mu.Lock()
	u := f.redirectURL
	fn := f.onRegister
	f.mu.Unlock()

	if fn != nil {
		var req struct {
			RedirectURI string `json:"redirectUri"`
		}
		_ = json.Unmarshal(body, &req)
		fn(req.RedirectURI)
	}
	writeJSON(w, map[string]string{"url": u})
}

func (f *FakeRoutex) handleTrace(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.record(w, r, "trace", ""); !ok {
		return
	}
	f.mu.Lock()
	report := f.report
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
