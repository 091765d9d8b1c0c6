package search

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// Backend performs the remote search call.
type Backend interface {
	Search(ctx context.Context, req routex.SearchRequest) ([]domain.ConnectionInfo, error)
}

// Outcome tells what a Search call did to the visible result set.
type Outcome int

const (
	// Applied means the search resolved for the current query and its
	// results (or error) are now visible.
	Applied Outcome = iota
	// Cleared means the query was too short; no search was dispatched and
	// the visible result set was cleared.
	Cleared
	// Discarded means the query changed while the search was in flight; its
	// result was ignored.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Cleared:
		return "cleared"
	case Discarded:
		return "discarded"
	}
	return "unknown"
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLimit sets the result-count ceiling.
func WithLimit(limit int) Option {
	return func(s *Searcher) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithMinQueryLength sets the minimum query length.
func WithMinQueryLength(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.minLength = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// Searcher holds the visible result set of a connection search for one
// ticket. Searches may overlap; only a search whose query is still the
// current one when it resolves updates the visible state. Stale searches are
// ignored rather than aborted.
type Searcher struct {
	backend   Backend
	ticket    string
	limit     int
	minLength int
	logger    *slog.Logger

	mu      sync.Mutex
	seq     uint64
	query   string
	results []domain.ConnectionInfo
	err     error
}

// NewSearcher creates a Searcher for ticket.
func NewSearcher(backend Backend, ticket string, opts ...Option) *Searcher {
	s := &Searcher{
		backend:   backend,
		ticket:    ticket,
		limit:     DefaultLimit,
		minLength: MinQueryLength,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search makes query the current query and, if it is long enough, searches
// for it. It returns the remote error only when the search was applied.
func (s *Searcher) Search(ctx context.Context, query string) (Outcome, error) {
	s.mu.Lock()
	s.seq++
	token := s.seq
	s.query = query
	if TooShort(query, s.minLength) {
		s.results = nil
		s.err = nil
		s.mu.Unlock()
		return Cleared, nil
	}
	s.mu.Unlock()

	terms := Terms(query)
	filters := make([]routex.SearchFilter, len(terms))
	for i, term := range terms {
		filters[i] = routex.SearchFilter{Term: term}
	}

	results, err := s.backend.Search(ctx, routex.SearchRequest{
		Ticket:        s.ticket,
		Filters:       filters,
		IBANDetection: true,
		Limit:         s.limit,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.seq {
		s.logger.Debug("discarding stale search result",
			slog.String("query", query),
			slog.String("current_query", s.query))
		return Discarded, nil
	}

	if err != nil {
		s.err = err
		return Applied, err
	}

	s.results = Rank(results, query, s.limit)
	s.err = nil
	return Applied, nil
}

// Query returns the current query.
func (s *Searcher) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Results returns a copy of the visible result set. ok is false when there is
// none, e.g. before the first search or after the query got too short.
func (s *Searcher) Results() (results []domain.ConnectionInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		return nil, false
	}
	out := make([]domain.ConnectionInfo, len(s.results))
	copy(out, s.results)
	return out, true
}

// Err returns the error of the last applied search.
func (s *Searcher) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
