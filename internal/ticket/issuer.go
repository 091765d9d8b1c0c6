// Package ticket obtains tickets from the backend collaborator. A ticket is
// an opaque bearer token scoping one flow; this client never looks inside.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/routex-demo/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Option configures an Issuer.
type Option func(*Issuer)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(i *Issuer) {
		i.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

// Issuer requests tickets from the backend.
type Issuer struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIssuer creates an issuer for the backend at baseURL.
func NewIssuer(baseURL string, opts ...Option) *Issuer {
	i := &Issuer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue posts data to the backend's ticket endpoint for service and returns
// the token. Any non-2xx status is a hard failure.
func (i *Issuer) Issue(ctx context.Context, service domain.Service, data any) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket data: %w", err)
	}

	endpoint := i.baseURL + "/ticket?" + url.Values{"service": {string(service)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", &domain.TransportError{Operation: "ticket", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &domain.TransportError{
			Operation:  "ticket",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			Err:        fmt.Errorf("ticket endpoint returned unexpected status %d", resp.StatusCode),
		}
	}

	var token string
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", &domain.TransportError{Operation: "ticket", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal ticket: %w", err)}
	}
	if token == "" {
		return "", &domain.TransportError{Operation: "ticket", StatusCode: resp.StatusCode, Err: fmt.Errorf("empty ticket")}
	}

	i.logger.Debug("ticket issued", slog.String("service", string(service)))
	return token, nil
}
