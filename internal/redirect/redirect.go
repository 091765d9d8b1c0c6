package redirect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// ResumeParam marks a load of the return address as a redirect resume.
const ResumeParam = "fromRedirect"

// ReturnIDParam carries the id of the redirect a return belongs to.
const ReturnIDParam = "returnId"

var (
	// ErrNotResume means the location carries no resume marker.
	ErrNotResume = errors.New("location is not a redirect return")
	// ErrNothingParked means the mailbox is empty.
	ErrNothingParked = errors.New("no redirect state parked")
	// ErrStaleReturn means the location belongs to an earlier redirect than
	// the one parked. The mailbox is left as it is.
	ErrStaleReturn = errors.New("return belongs to an earlier redirect")
)

// Registrar registers the return address for a redirect handle and returns
// the external URL to send the user to.
type Registrar interface {
	RegisterRedirectURI(ctx context.Context, req routex.RegisterRedirectRequest) (string, error)
}

// Navigator sends the user to an external URL.
type Navigator interface {
	Navigate(ctx context.Context, externalURL string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, externalURL string) error

func (f NavigatorFunc) Navigate(ctx context.Context, externalURL string) error {
	return f(ctx, externalURL)
}

// MarkResume adds the resume marker to location.
func MarkResume(location string) (string, error) {
	return markReturn(location, "")
}

func markReturn(location, returnID string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid location %q: %w", location, err)
	}
	q := u.Query()
	q.Set(ResumeParam, "1")
	if returnID != "" {
		q.Set(ReturnIDParam, returnID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ReturnID returns the redirect id carried by location, or "".
func ReturnID(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Query().Get(ReturnIDParam)
}

// IsResume reports whether location carries the resume marker.
func IsResume(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Query().Has(ResumeParam)
}

// Follow parks state, registers location (with the resume marker and a fresh
// return id) for handle, and navigates to the external URL the service hands
// back. It returns that URL. A failed registration empties the mailbox again.
func Follow(ctx context.Context, h *Handoff, reg Registrar, nav Navigator, state State, handle, location string) (string, error) {
	state.ReturnID = uuid.NewString()
	redirectURI, err := markReturn(location, state.ReturnID)
	if err != nil {
		return "", err
	}

	if err := h.Put(ctx, state); err != nil {
		return "", err
	}

	externalURL, err := reg.RegisterRedirectURI(ctx, routex.RegisterRedirectRequest{
		Ticket:      state.Ticket,
		Handle:      handle,
		RedirectURI: redirectURI,
	})
	if err != nil {
		if derr := h.Discard(ctx); derr != nil {
			h.logger.Warn("failed to discard redirect state", slog.String("error", derr.Error()))
		}
		return "", err
	}

	if err := nav.Navigate(ctx, externalURL); err != nil {
		return externalURL, fmt.Errorf("failed to navigate: %w", err)
	}
	return externalURL, nil
}

// Claim consumes the parked state for a load of location. It fails with
// ErrNotResume without the resume marker, and with ErrStaleReturn, leaving
// the mailbox untouched, when location carries the id of another redirect
// than the parked one. Corrupt state is consumed and reported as a
// *domain.CorruptStateError.
func Claim(ctx context.Context, h *Handoff, location string) (State, error) {
	if !IsResume(location) {
		return State{}, ErrNotResume
	}

	if id := ReturnID(location); id != "" {
		parked, ok, err := h.Peek(ctx)
		if err == nil && ok && parked.ReturnID != "" && parked.ReturnID != id {
			return State{}, ErrStaleReturn
		}
	}

	state, ok, err := h.Take(ctx)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, ErrNothingParked
	}
	return state, nil
}

// Restore is the startup check. It consumes the mailbox only when location
// is a return for the parked redirect. Missing, stale or corrupt state is not
// an error: it is logged and reported as false so the caller starts a fresh
// flow.
func Restore(ctx context.Context, h *Handoff, location string) (State, bool) {
	state, err := Claim(ctx, h, location)
	switch {
	case err == nil:
		h.logger.Info("resuming after redirect", slog.String("service", string(state.Service)))
		return state, true
	case errors.Is(err, ErrNotResume):
	case errors.Is(err, ErrNothingParked):
		h.logger.Info("resume marker present but no redirect state stored")
	case errors.Is(err, ErrStaleReturn):
		h.logger.Info("ignoring return of an earlier redirect")
	default:
		h.logger.Warn("discarding redirect state",
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()))
	}
	return State{}, false
}
