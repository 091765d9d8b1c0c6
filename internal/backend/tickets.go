// Package backend is the ticket-issuing collaborator: it signs short-lived
// HS256 tickets scoping one flow of one service.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/routex-demo/internal/domain"
)

// DefaultValidity is how long an issued ticket stays valid.
const DefaultValidity = 10 * time.Minute

// TicketData is the "data" claim of a ticket.
type TicketData struct {
	Service domain.Service `json:"service"`
	ID      string         `json:"id"`
	Data    any            `json:"data"`
}

// Claims are the claims of a ticket.
type Claims struct {
	Data TicketData `json:"data"`
	jwt.RegisteredClaims
}

// Ticket is an issued ticket.
type Ticket struct {
	ID    uuid.UUID
	Token string
}

// Option configures a TicketService.
type Option func(*TicketService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *TicketService) {
		s.now = now
	}
}

// WithIDSource overrides ticket id generation.
func WithIDSource(newID func() uuid.UUID) Option {
	return func(s *TicketService) {
		s.newID = newID
	}
}

// WithValidity sets the ticket lifetime.
func WithValidity(d time.Duration) Option {
	return func(s *TicketService) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *TicketService) {
		s.logger = logger
	}
}

// TicketService issues tickets. The signing key can be rotated while the
// service runs.
type TicketService struct {
	mu    sync.RWMutex
	keyID string
	key   []byte

	validity time.Duration
	now      func() time.Time
	newID    func() uuid.UUID
	logger   *slog.Logger
}

// NewTicketService creates a service signing with key under keyID.
func NewTicketService(keyID string, key []byte, opts ...Option) (*TicketService, error) {
	s := &TicketService{
		validity: DefaultValidity,
		now:      time.Now,
		newID:    uuid.New,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.SetKey(keyID, key); err != nil {
		return nil, err
	}
	return s, nil
}

// SetKey replaces the signing key.
func (s *TicketService) SetKey(keyID string, key []byte) error {
	if keyID == "" {
		return errors.New("key id is required")
	}
	if len(key) < 32 {
		return fmt.Errorf("signing key must be at least 32 bytes, got %d", len(key))
	}

	s.mu.Lock()
	s.keyID = keyID
	s.key = append([]byte(nil), key...)
	s.mu.Unlock()

	s.logger.Info("using key for issuing tickets", slog.String("key_id", keyID))
	return nil
}

// KeyID returns the id of the current signing key.
func (s *TicketService) KeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyID
}

// Issue signs a ticket for service carrying data.
func (s *TicketService) Issue(service domain.Service, data any) (Ticket, error) {
	if !service.Valid() {
		return Ticket{}, fmt.Errorf("unknown service %q", service)
	}

	id := s.newID()
	claims := Claims{
		Data: TicketData{Service: service, ID: id.String(), Data: data},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.validity)),
		},
	}

	s.mu.RLock()
	keyID, key := s.keyID, s.key
	s.mu.RUnlock()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(key)
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to sign ticket: %w", err)
	}
	return Ticket{ID: id, Token: signed}, nil
}

// Parse verifies a ticket signed with the current key and returns its
// claims.
func (s *TicketService) Parse(token string) (*Claims, error) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket: %w", err)
	}
	return claims, nil
}
