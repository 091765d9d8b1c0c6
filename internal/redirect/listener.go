package redirect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const returnPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>routex-demo</title></head>
<body><p>You can close this window and return to the terminal.</p></body></html>
`

// Listener is the local return address of a terminal client. The external
// site sends the user back to it after a redirect; each marked load is
// delivered on Returns.
type Listener struct {
	ln      net.Listener
	path    string
	server  *http.Server
	returns chan string
	logger  *slog.Logger
}

// Listen binds addr and serves the return address on path.
func Listen(addr, path string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		ln:      ln,
		path:    path,
		returns: make(chan string, 1),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(path, l.handleReturn)

	l.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return l, nil
}

// Location is the address to register, without the resume marker.
func (l *Listener) Location() string {
	return "http://" + l.ln.Addr().String() + l.path
}

// Returns delivers the full URL of every marked load.
func (l *Listener) Returns() <-chan string {
	return l.returns
}

// Serve serves until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.server.Serve(l.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down return listener: %w", err)
		}
		<-errCh
		return nil
	}
}

func (l *Listener) handleReturn(w http.ResponseWriter, r *http.Request) {
	location := "http://" + r.Host + r.URL.RequestURI()
	if !IsResume(location) {
		http.Error(w, "not a redirect return", http.StatusBadRequest)
		return
	}

	select {
	case l.returns <- location:
		l.logger.Debug("redirect return received", slog.String("path", r.URL.Path))
	default:
		l.logger.Warn("redirect return dropped, previous one not consumed yet")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(returnPage))
}
