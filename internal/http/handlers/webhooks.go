// Package handlers holds the HTTP surface: inbound CRM, calendar, and
// payment webhooks. Handlers validate and acknowledge fast; the heavy
// lifting happens in the engine and the sync workers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/inkflow-ai/studio-platform/internal/calendarsync"
	"github.com/inkflow-ai/studio-platform/internal/engine"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// turnTimeout bounds one background turn, debounce wait included.
const turnTimeout = 90 * time.Second

// TurnProcessor is the engine surface the webhook layer drives.
type TurnProcessor interface {
	HandleInboundMessage(ctx context.Context, contactID, message string) (*engine.TurnResult, error)
	HandlePaymentConfirmed(ctx context.Context, contactID, paymentID string) error
}

// WebhookHandler terminates the external webhook endpoints.
type WebhookHandler struct {
	processor TurnProcessor
	queue     engine.Queue
	logger    *logging.Logger

	// background runs the deferred part of a request. Swapped for an
	// inline runner in tests.
	background func(func())
}

func NewWebhookHandler(processor TurnProcessor, queue engine.Queue, logger *logging.Logger) *WebhookHandler {
	if processor == nil {
		panic("handlers: nil turn processor")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		processor:  processor,
		queue:      queue,
		logger:     logger,
		background: func(fn func()) { go fn() },
	}
}

type messageWebhook struct {
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
	Body      string `json:"body"`
	Channel   string `json:"channel"`
}

// HandleMessage accepts one inbound lead message. The turn runs in the
// background because the coalescing window can hold the leader for
// several seconds; the CRM only needs the ack.
func (h *WebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var payload messageWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	text := payload.Message
	if text == "" {
		text = payload.Body
	}
	text = strings.TrimSpace(text)
	if payload.ContactID == "" || text == "" {
		http.Error(w, "contactId and message are required", http.StatusBadRequest)
		return
	}

	contactID := payload.ContactID
	h.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()
		result, err := h.processor.HandleInboundMessage(ctx, contactID, text)
		if err != nil {
			h.logger.Error("inbound turn failed", "contact_id", contactID, "error", err)
			return
		}
		if result.Skipped {
			h.logger.Debug("inbound turn coalesced away", "contact_id", contactID)
		}
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleCalendar accepts a calendar-change event and hands it to the sync
// queue. Propagation to sibling calendars never happens on the webhook
// goroutine.
func (h *WebhookHandler) HandleCalendar(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		http.Error(w, "calendar sync not configured", http.StatusServiceUnavailable)
		return
	}
	var ev calendarsync.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if ev.AppointmentID == "" || ev.CalendarID == "" {
		http.Error(w, "appointmentId and calendarId are required", http.StatusBadRequest)
		return
	}

	if err := engine.EnqueueCalendarEvent(r.Context(), h.queue, ev); err != nil {
		h.logger.Error("calendar event enqueue failed", "appointment_id", ev.AppointmentID, "error", err)
		http.Error(w, "failed to queue event", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type paymentWebhook struct {
	ContactID string `json:"contactId"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// HandlePayment promotes the contact's hold when a deposit clears. Other
// payment statuses are acknowledged and ignored.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	var payload paymentWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.ContactID == "" {
		http.Error(w, "contactId is required", http.StatusBadRequest)
		return
	}

	switch strings.ToLower(payload.Status) {
	case "paid", "completed", "succeeded":
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.processor.HandlePaymentConfirmed(r.Context(), payload.ContactID, payload.PaymentID); err != nil {
		h.logger.Error("payment confirmation failed", "contact_id", payload.ContactID, "error", err)
		http.Error(w, "failed to process payment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

// HealthCheck reports liveness.
func (h *WebhookHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
