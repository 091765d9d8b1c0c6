package backend

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/server"
)

const maxTicketBody = 64 << 10

// Handler serves POST /ticket?service=.
type Handler struct {
	tickets *TicketService
	logger  *slog.Logger
}

// NewHandler creates the ticket HTTP handler.
func NewHandler(tickets *TicketService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tickets: tickets, logger: logger}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/ticket", h.issue)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	service, err := domain.ParseService(r.URL.Query().Get("service"))
	if err != nil {
		server.AddError(r.Context(), err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	server.AddLogField(r.Context(), "service", string(service))

	var data any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTicketBody))
	if err != nil {
		server.AddError(r.Context(), err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			server.AddError(r.Context(), err)
			http.Error(w, "body must be JSON", http.StatusBadRequest)
			return
		}
	}

	ticket, err := h.tickets.Issue(service, data)
	if err != nil {
		server.AddError(r.Context(), err)
		http.Error(w, "failed to issue ticket", http.StatusInternalServerError)
		return
	}
	server.AddLogField(r.Context(), "ticket_id", ticket.ID.String())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ticket.Token); err != nil {
		h.logger.Error("failed to write ticket", slog.String("error", err.Error()))
	}
}
