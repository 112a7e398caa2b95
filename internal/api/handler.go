// Package api provides JSON helpers and the operational HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/uhwio/whatsappaibot/internal/upstream"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStater exposes the circuit breaker state.
type BreakerStater interface {
	State() upstream.BreakerState
}

// Handler serves health checks.
type Handler struct {
	db      Pinger
	markers Pinger // nil when markers share the database
	breaker BreakerStater
}

// NewHandler creates a new Handler.
func NewHandler(db Pinger, markers Pinger, breaker BreakerStater) *Handler {
	return &Handler{db: db, markers: markers, breaker: breaker}
}

// RegisterRoutes registers the health route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
}

type healthResponse struct {
	Status   string        `json:"status"`
	Database string        `json:"database"`
	Dedupe   string        `json:"dedupe,omitempty"`
	Upstream upstreamState `json:"upstream"`
}

type upstreamState struct {
	Open      bool       `json:"open"`
	OpenUntil *time.Time `json:"open_until,omitempty"`
	Cooldown  string     `json:"cooldown"`
}

// Health reports store reachability and breaker state. An open breaker does
// not make the service unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		resp.Status, resp.Database = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.markers != nil {
		resp.Dedupe = "ok"
		if err := h.markers.Ping(ctx); err != nil {
			resp.Dedupe = "unreachable"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}
	if h.breaker != nil {
		st := h.breaker.State()
		resp.Upstream = upstreamState{Open: st.Open, Cooldown: st.Cooldown.String()}
		if st.Open {
			until := st.OpenUntil
			resp.Upstream.OpenUntil = &until
		}
	}

	JSON(w, status, resp)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
