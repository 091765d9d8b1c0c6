// Package redirect carries an interrupted flow across a redirect to an
// external site. The state is parked in a single-slot mailbox in durable
// storage before the user leaves and consumed exactly once when the return
// address is loaded.
package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/storage"
)

// StorageKey is the mailbox slot in durable storage.
const StorageKey = "redirectState"

// State is what survives the round trip through the external site.
// ConnectionID is optional and only used to file the connection data of the
// eventual Result. ReturnID names the redirect the state was parked for; it
// is also carried by the registered return address.
type State struct {
	Service      domain.Service `json:"service"`
	Ticket       string         `json:"ticket"`
	Context      domain.Context `json:"context"`
	ConnectionID string         `json:"connectionId,omitempty"`
	ReturnID     string         `json:"returnId,omitempty"`
}

func (s State) validate() error {
	if !s.Service.Valid() {
		return fmt.Errorf("unknown service %q", s.Service)
	}
	if s.Ticket == "" {
		return errors.New("missing ticket")
	}
	if s.Context == nil {
		return errors.New("missing context")
	}
	return nil
}

// Handoff is the single-slot, single-consumer mailbox.
type Handoff struct {
	store  storage.KeyValueStore
	logger *slog.Logger
}

// HandoffOption configures a Handoff.
type HandoffOption func(*Handoff)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandoffOption {
	return func(h *Handoff) {
		h.logger = logger
	}
}

// NewHandoff creates a mailbox backed by store.
func NewHandoff(store storage.KeyValueStore, opts ...HandoffOption) *Handoff {
	h := &Handoff{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Put parks state, replacing anything parked before.
func (h *Handoff) Put(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect state: %w", err)
	}
	if err := h.store.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("failed to persist redirect state: %w", err)
	}
	return nil
}

// Peek returns the parked state without consuming it.
func (h *Handoff) Peek(ctx context.Context) (State, bool, error) {
	data, err := h.store.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read redirect state: %w", err)
	}
	return decode(data)
}

// Take consumes the parked state. It reports false when the slot is empty.
// The slot is emptied even when its content is corrupt, in which case a
// *domain.CorruptStateError is returned.
func (h *Handoff) Take(ctx context.Context) (State, bool, error) {
	data, err := h.store.Take(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read redirect state: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (State, bool, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, &domain.CorruptStateError{Err: err}
	}
	if err := state.validate(); err != nil {
		return State{}, false, &domain.CorruptStateError{Err: err}
	}
	return state, true, nil
}

// Discard empties the slot.
func (h *Handoff) Discard(ctx context.Context) error {
	return h.store.Delete(ctx, StorageKey)
}
