package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a request when none is configured.
const DefaultRequestTimeout = 30 * time.Second

// TimeoutMiddleware gives each request a deadline of timeout. Handlers must
// watch the context; they are not interrupted. A handler that gives up on
// the deadline without writing a response is answered with 503 and a JSON
// error. A non-positive timeout disables the middleware.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutResponseWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if !tw.written && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				AddError(r.Context(), ctx.Err())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"request timed out"}` + "\n"))
			}
		})
	}
}

// timeoutResponseWriter records whether the handler answered.
type timeoutResponseWriter struct {
	http.ResponseWriter
	written bool
}

func (tw *timeoutResponseWriter) WriteHeader(code int) {
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutResponseWriter) Write(b []byte) (int, error) {
	tw.written = true
	return tw.ResponseWriter.Write(b)
}
