package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/studio-platform/internal/engine"
)

type recordingProcessor struct {
	contactID string
	message   string
	paymentID string
	turnErr   error
	payErr    error
}

func (p *recordingProcessor) HandleInboundMessage(_ context.Context, contactID, message string) (*engine.TurnResult, error) {
	p.contactID = contactID
	p.message = message
	if p.turnErr != nil {
		return nil, p.turnErr
	}
	return &engine.TurnResult{Bubbles: []string{"ok"}}, nil
}

func (p *recordingProcessor) HandlePaymentConfirmed(_ context.Context, contactID, paymentID string) error {
	p.contactID = contactID
	p.paymentID = paymentID
	return p.payErr
}

func newTestHandler() (*WebhookHandler, *recordingProcessor, *engine.MemoryQueue) {
	proc := &recordingProcessor{}
	queue := engine.NewMemoryQueue(4)
	h := NewWebhookHandler(proc, queue, nil)
	h.background = func(fn func()) { fn() }
	return h, proc, queue
}

func TestHandleMessageAcksAndProcesses(t *testing.T) {
	h, proc, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/message",
		strings.NewReader(`{"contactId":"c-1","message":"what times are open?"}`))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "c-1", proc.contactID)
	assert.Equal(t, "what times are open?", proc.message)
}

func TestHandleMessageAcceptsBodyAlias(t *testing.T) {
	h, proc, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/message",
		strings.NewReader(`{"contactId":"c-1","body":"hello"}`))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "hello", proc.message)
}

func TestHandleMessageRejectsMissingFields(t *testing.T) {
	h, _, _ := newTestHandler()

	for _, body := range []string{`{}`, `{"contactId":"c-1"}`, `{"message":"hi"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/message", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.HandleMessage(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestHandleMessageAcksEvenWhenTurnFails(t *testing.T) {
	h, proc, _ := newTestHandler()
	proc.turnErr = errors.New("engine down")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/message",
		strings.NewReader(`{"contactId":"c-1","message":"hi"}`))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleCalendarQueuesEvent(t *testing.T) {
	h, _, queue := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendar",
		strings.NewReader(`{"appointmentId":"appt-1","calendarId":"cal-mara","status":"cancelled"}`))
	rec := httptest.NewRecorder()
	h.HandleCalendar(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	msgs, err := queue.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "appt-1")
}

func TestHandleCalendarRejectsIncompleteEvent(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendar",
		strings.NewReader(`{"appointmentId":"appt-1"}`))
	rec := httptest.NewRecorder()
	h.HandleCalendar(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCalendarWithoutQueue(t *testing.T) {
	h := NewWebhookHandler(&recordingProcessor{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendar",
		strings.NewReader(`{"appointmentId":"appt-1","calendarId":"cal-mara"}`))
	rec := httptest.NewRecorder()
	h.HandleCalendar(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlePaymentConfirmsPaidStatus(t *testing.T) {
	h, proc, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment",
		strings.NewReader(`{"contactId":"c-1","paymentId":"pay-9","status":"paid"}`))
	rec := httptest.NewRecorder()
	h.HandlePayment(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pay-9", proc.paymentID)
}

func TestHandlePaymentIgnoresOtherStatuses(t *testing.T) {
	h, proc, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment",
		strings.NewReader(`{"contactId":"c-1","paymentId":"pay-9","status":"pending"}`))
	rec := httptest.NewRecorder()
	h.HandlePayment(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, proc.paymentID)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestHandlePaymentSurfacesProcessorError(t *testing.T) {
	h, proc, _ := newTestHandler()
	proc.payErr = errors.New("promote failed")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment",
		strings.NewReader(`{"contactId":"c-1","paymentId":"pay-9","status":"paid"}`))
	rec := httptest.NewRecorder()
	h.HandlePayment(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
