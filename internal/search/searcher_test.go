package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pendingSearch struct {
	req  routex.SearchRequest
	done chan struct{}
	res  []domain.ConnectionInfo
	err  error
}

// gatedBackend blocks every search until the test releases it.
type gatedBackend struct {
	mu      sync.Mutex
	calls   []*pendingSearch
	started chan *pendingSearch
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{started: make(chan *pendingSearch, 8)}
}

func (b *gatedBackend) Search(ctx context.Context, req routex.SearchRequest) ([]domain.ConnectionInfo, error) {
	p := &pendingSearch{req: req, done: make(chan struct{})}
	b.mu.Lock()
	b.calls = append(b.calls, p)
	b.mu.Unlock()
	b.started <- p
	<-p.done
	return p.res, p.err
}

func (p *pendingSearch) resolve(res []domain.ConnectionInfo, err error) {
	p.res = res
	p.err = err
	close(p.done)
}

type staticBackend struct {
	res  []domain.ConnectionInfo
	err  error
	reqs []routex.SearchRequest
}

func (b *staticBackend) Search(ctx context.Context, req routex.SearchRequest) ([]domain.ConnectionInfo, error) {
	b.reqs = append(b.reqs, req)
	return b.res, b.err
}

func TestSearcher_ShortQueryClears(t *testing.T) {
	backend := &staticBackend{res: conns("Bank A")}
	s := NewSearcher(backend, "ticket-1")

	if out, err := s.Search(context.Background(), "bank"); err != nil || out != Applied {
		t.Fatalf("Search(bank) = %v, %v", out, err)
	}
	if _, ok := s.Results(); !ok {
		t.Fatalf("expected a result set after search")
	}

	out, err := s.Search(context.Background(), "ba")
	if err != nil || out != Cleared {
		t.Fatalf("Search(ba) = %v, %v; want cleared", out, err)
	}
	if _, ok := s.Results(); ok {
		t.Errorf("result set should be cleared for a short query")
	}
	if len(backend.reqs) != 1 {
		t.Errorf("backend calls = %d, want 1 (short query must not search)", len(backend.reqs))
	}
}

func TestSearcher_RequestShape(t *testing.T) {
	backend := &staticBackend{}
	s := NewSearcher(backend, "ticket-1", WithLimit(10))

	if _, err := s.Search(context.Background(), "sparkasse  berlin"); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	req := backend.reqs[0]
	if req.Ticket != "ticket-1" || req.Limit != 10 || !req.IBANDetection {
		t.Errorf("request = %+v", req)
	}
	if len(req.Filters) != 2 || req.Filters[0].Term != "sparkasse" || req.Filters[1].Term != "berlin" {
		t.Errorf("filters = %+v", req.Filters)
	}
}

func TestSearcher_EmptyResultIsVisible(t *testing.T) {
	s := NewSearcher(&staticBackend{}, "t")
	if _, err := s.Search(context.Background(), "nothing"); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	results, ok := s.Results()
	if !ok || len(results) != 0 {
		t.Errorf("Results() = %v, %v; want empty set", results, ok)
	}
}

func TestSearcher_StaleResultDiscarded(t *testing.T) {
	backend := newGatedBackend()
	s := NewSearcher(backend, "t")

	var wg sync.WaitGroup
	outcomes := make(map[string]Outcome)
	var omu sync.Mutex
	run := func(q string) {
		defer wg.Done()
		out, _ := s.Search(context.Background(), q)
		omu.Lock()
		outcomes[q] = out
		omu.Unlock()
	}

	wg.Add(1)
	go run("spar")
	first := <-backend.started

	wg.Add(1)
	go run("sparkasse")
	second := <-backend.started

	// The newer search resolves first, the older one arrives afterwards.
	second.resolve(conns("Sparkasse Hannover"), nil)
	first.resolve(conns("Sparda Bank"), nil)
	wg.Wait()

	if outcomes["sparkasse"] != Applied {
		t.Errorf("current search outcome = %v, want applied", outcomes["sparkasse"])
	}
	if outcomes["spar"] != Discarded {
		t.Errorf("stale search outcome = %v, want discarded", outcomes["spar"])
	}

	results, _ := s.Results()
	if len(results) != 1 || results[0].DisplayName != "Sparkasse Hannover" {
		t.Errorf("visible results = %v, want the current query's", names(results))
	}
	if s.Query() != "sparkasse" {
		t.Errorf("Query() = %q", s.Query())
	}
}

func TestSearcher_StaleErrorDiscarded(t *testing.T) {
	backend := newGatedBackend()
	s := NewSearcher(backend, "t")

	done := make(chan Outcome, 1)
	go func() {
		out, _ := s.Search(context.Background(), "volks")
		done <- out
	}()
	stale := <-backend.started

	if out, _ := s.Search(context.Background(), "vo"); out != Cleared {
		t.Fatalf("short query outcome = %v", out)
	}

	stale.resolve(nil, errors.New("boom"))
	if out := <-done; out != Discarded {
		t.Errorf("stale outcome = %v, want discarded", out)
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestSearcher_AppliedError(t *testing.T) {
	wantErr := &domain.TransportError{Operation: "search", StatusCode: 500}
	s := NewSearcher(&staticBackend{err: wantErr}, "t")

	out, err := s.Search(context.Background(), "bank")
	if out != Applied || !errors.Is(err, wantErr) {
		t.Fatalf("Search() = %v, %v", out, err)
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Errorf("Err() = %v", s.Err())
	}
}
