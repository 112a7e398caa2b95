// Package webhook serves the WhatsApp Cloud API webhook.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/uhwio/whatsappaibot/internal/api"
	"github.com/uhwio/whatsappaibot/internal/dispatch"
	"github.com/uhwio/whatsappaibot/internal/whatsapp"
)

// DefaultEventTimeout bounds the processing of a single inbound event.
const DefaultEventTimeout = 2 * time.Minute

// Dispatcher handles one inbound event.
type Dispatcher interface {
	Handle(ctx context.Context, ev dispatch.Event) dispatch.Outcome
}

// Handler serves GET and POST /webhook.
type Handler struct {
	verifyToken  string
	dispatcher   Dispatcher
	eventTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(verifyToken string, d Dispatcher, eventTimeout time.Duration, logger *slog.Logger) *Handler {
	if eventTimeout <= 0 {
		eventTimeout = DefaultEventTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{verifyToken: verifyToken, dispatcher: d, eventTimeout: eventTimeout, logger: logger}
}

// RegisterRoutes registers webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.Verify)
	r.Post("/webhook", h.Receive)
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// Receive processes every message in the envelope and always answers 200.
// A non-2xx answer makes the provider redeliver the whole batch.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var env whatsapp.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		api.JSON(w, http.StatusOK, map[string]string{"status": "invalid_payload"})
		return
	}

	events := env.Events()
	if len(events) == 0 {
		status := "no_message"
		if env.StatusCount() > 0 {
			status = "ignored_status"
		}
		api.JSON(w, http.StatusOK, map[string]string{"status": status})
		return
	}

	// Processing must finish even if the provider hangs up.
	base := context.WithoutCancel(r.Context())
	for _, in := range events {
		ctx, cancel := context.WithTimeout(base, h.eventTimeout)
		outcome := h.dispatcher.Handle(ctx, toEvent(in))
		cancel()
		h.logger.Debug("event handled", "message_id", in.MessageID, "outcome", outcome)
	}

	api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toEvent(in whatsapp.InboundEvent) dispatch.Event {
	ev := dispatch.Event{
		MessageID:   in.MessageID,
		From:        in.From,
		Text:        in.Text,
		SelectionID: in.SelectionID,
		RawType:     in.RawType,
	}
	switch in.Kind {
	case whatsapp.EventText:
		ev.Kind = dispatch.KindText
	case whatsapp.EventSelection:
		ev.Kind = dispatch.KindSelection
	default:
		ev.Kind = dispatch.KindOther
	}
	return ev
}
