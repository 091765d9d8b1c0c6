// Package routex is the HTTP client for the remote banking-operation service.
// Every call is authorized by the flow's ticket and returns responses already
// decoded into the domain model.
package routex

import (
	"bytes"
	"context"
	"encoding/base64"
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

const (
	defaultTimeout = 60 * time.Second

	// TraceIDHeader carries the id of the encrypted error report for a
	// failed call.
	TraceIDHeader = "Routex-Trace-Id"

	maxErrorBody = 4096
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client talks to the remote service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		logger:    slog.Default(),
		userAgent: "routex-demo",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// servicePath maps a service to its URL segment.
func servicePath(s domain.Service) (string, error) {
	switch s {
	case domain.ServiceCollectPayment:
		return "collect-payment", nil
	case domain.ServiceTransactions:
		return "transactions", nil
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// Search returns connections matching every filter term.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]domain.ConnectionInfo, error) {
	var out []domain.ConnectionInfo
	if err := c.do(ctx, "search", http.MethodPost, "/search", req.Ticket, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Info returns a single connection.
func (c *Client) Info(ctx context.Context, ticket, connectionID string) (domain.ConnectionInfo, error) {
	var out domain.ConnectionInfo
	path := "/info/" + url.PathEscape(connectionID)
	if err := c.do(ctx, "info", http.MethodGet, path, ticket, nil, &out); err != nil {
		return domain.ConnectionInfo{}, err
	}
	return out, nil
}

// Start starts service with the given credentials.
func (c *Client) Start(ctx context.Context, service domain.Service, req StartRequest) (domain.Response, error) {
	return c.serviceCall(ctx, service, "start", req.Ticket, req)
}

// Respond answers a Selection or Field dialog.
func (c *Client) Respond(ctx context.Context, service domain.Service, req RespondRequest) (domain.Response, error) {
	return c.serviceCall(ctx, service, "respond", req.Ticket, req)
}

// Confirm answers a Confirmation dialog or resumes after a redirect.
func (c *Client) Confirm(ctx context.Context, service domain.Service, req ConfirmRequest) (domain.Response, error) {
	return c.serviceCall(ctx, service, "confirm", req.Ticket, req)
}

// RegisterRedirectURI registers the return address for a redirect handle and
// returns the external URL the user must be sent to.
func (c *Client) RegisterRedirectURI(ctx context.Context, req RegisterRedirectRequest) (string, error) {
	var out registerRedirectResponse
	if err := c.do(ctx, "registerRedirectUri", http.MethodPost, "/redirect-uri", req.Ticket, req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", &domain.TransportError{Operation: "registerRedirectUri", Err: fmt.Errorf("empty redirect url")}
	}
	return out.URL, nil
}

// Trace downloads the encrypted error report identified by traceID.
func (c *Client) Trace(ctx context.Context, ticket string, traceID []byte) ([]byte, error) {
	path := "/trace/" + base64.RawURLEncoding.EncodeToString(traceID)
	resp, err := c.send(ctx, "trace", http.MethodGet, path, ticket, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Operation: "trace", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return data, nil
}

func (c *Client) serviceCall(ctx context.Context, service domain.Service, op, ticket string, body any) (domain.Response, error) {
	seg, err := servicePath(service)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodPost, "/"+seg+"/"+op, ticket, body, &raw); err != nil {
		return nil, err
	}

	resp, err := DecodeResponse(raw)
	if err != nil {
		return nil, &domain.TransportError{Operation: op, StatusCode: http.StatusOK, Err: err}
	}

	c.logger.Debug("remote call completed",
		slog.String("service", string(service)),
		slog.String("operation", op),
		slog.String("response", resp.Kind()))
	return resp, nil
}

// do sends a JSON request and decodes a JSON reply into out.
func (c *Client) do(ctx context.Context, op, method, path, ticket string, body, out any) error {
	resp, err := c.send(ctx, op, method, path, ticket, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return nil
}

// send performs the request and turns non-2xx replies into
// *domain.TransportError. The caller closes the body of a successful reply.
func (c *Client) send(ctx context.Context, op, method, path, ticket string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+ticket)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{Operation: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		terr := &domain.TransportError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			TraceID:    parseTraceID(resp.Header.Get(TraceIDHeader)),
		}
		c.logger.Debug("remote call failed",
			slog.String("operation", op),
			slog.Int("status", resp.StatusCode),
			slog.Bool("has_trace_id", len(terr.TraceID) > 0))
		return nil, terr
	}

	return resp, nil
}

func parseTraceID(v string) []byte {
	if v == "" {
		return nil
	}
	if id, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "=")); err == nil {
		return id
	}
	return []byte(v)
}
