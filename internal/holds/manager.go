// Package holds owns the tentative-appointment lifecycle: a slot is held
// while the lead completes the deposit, kept alive by conversation activity,
// warned once as the window closes, and released if the lead goes quiet.
package holds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// State is the hold machine position for one contact.
type State string

const (
	StateNone      State = "NONE"
	StateHeld      State = "HELD"
	StateConfirmed State = "CONFIRMED"
	StateExpired   State = "EXPIRED"
)

// Transition is the outcome of one Evaluate tick.
type Transition string

const (
	TransitionNone    Transition = "none"
	TransitionWarned  Transition = "warned"
	TransitionExpired Transition = "expired"
)

// CalendarAPI is the appointment surface the manager needs.
type CalendarAPI interface {
	GetAppointment(ctx context.Context, appointmentID string) (*highlevel.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID, status string) error
}

// FieldWriter persists hold bookkeeping to the contact's field store.
type FieldWriter interface {
	Apply(ctx context.Context, contactID string, updates fieldstore.Fields) error
}

// Messenger delivers the one-time expiry warning.
type Messenger interface {
	SendMessage(ctx context.Context, contactID, text, channelHint string) error
}

// ReleasedSlot records what an expired hold gave back, so the slot can be
// re-offered.
type ReleasedSlot struct {
	Display    string `json:"display"`
	CalendarID string `json:"calendar_id"`
}

// Manager runs the hold state machine. All clock reads go through now so
// tests can pin time.
type Manager struct {
	api       CalendarAPI
	fields    FieldWriter
	messenger Messenger
	holdFor   time.Duration
	warnLead  time.Duration
	logger    *logging.Logger
	metrics   *metrics.EngineMetrics
	registry  *Registry
	now       func() time.Time
}

func NewManager(api CalendarAPI, fields FieldWriter, messenger Messenger, holdMinutes, warningMinutes int, logger *logging.Logger, m *metrics.EngineMetrics) *Manager {
	if api == nil || fields == nil {
		panic("holds: api and fields cannot be nil")
	}
	if holdMinutes <= 0 {
		holdMinutes = 15
	}
	if warningMinutes <= 0 || warningMinutes >= holdMinutes {
		warningMinutes = holdMinutes / 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		api:       api,
		fields:    fields,
		messenger: messenger,
		holdFor:   time.Duration(holdMinutes) * time.Minute,
		warnLead:  time.Duration(warningMinutes) * time.Minute,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// WithRegistry attaches the sweeper's contact tracker.
func (m *Manager) WithRegistry(r *Registry) *Manager {
	m.registry = r
	return m
}

// Current reports the machine position for a state snapshot. EXPIRED is
// transient: once the fields are cleared, the contact reads as NONE again.
func Current(s leadstate.CanonicalState) State {
	switch {
	case s.AppointmentBooked():
		return StateConfirmed
	case s.HasLiveHold():
		return StateHeld
	default:
		return StateNone
	}
}

// Establish records a fresh hold on the contact. An existing live hold is
// resolved (cancelled and cleared) first: at most one non-expired hold per
// contact.
func (m *Manager) Establish(ctx context.Context, contactID string, state leadstate.CanonicalState, appt *highlevel.Appointment) error {
	if state.HasLiveHold() && state.HoldAppointmentID != appt.ID {
		if err := m.api.UpdateAppointmentStatus(ctx, state.HoldAppointmentID, highlevel.StatusCancelled); err != nil {
			return fmt.Errorf("holds: cancel superseded hold %s: %w", state.HoldAppointmentID, err)
		}
		m.logger.Info("superseded prior hold", "contact_id", contactID, "appointment_id", state.HoldAppointmentID)
	}

	updates := fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  appt.ID,
		fieldstore.KeyHoldCalendarID:     appt.CalendarID,
		fieldstore.KeyHoldLastActivityAt: m.now().UTC().Format(time.RFC3339),
		fieldstore.KeyHoldWarningSent:    "false",
	}
	if err := m.fields.Apply(ctx, contactID, updates); err != nil {
		return err
	}
	m.registry.Add(contactID)
	return nil
}

// Touch slides the keep-alive window. Called on every inbound message while
// a hold is live.
func (m *Manager) Touch(ctx context.Context, contactID string, state leadstate.CanonicalState) error {
	if !state.HasLiveHold() {
		return nil
	}
	return m.fields.Apply(ctx, contactID, fieldstore.Fields{
		fieldstore.KeyHoldLastActivityAt: m.now().UTC().Format(time.RFC3339),
	})
}

// Evaluate is the idempotent expiry tick. The elapsed time is recomputed
// from the stored activity timestamp every call, never counted down, so
// sweeps and per-turn piggybacks can overlap freely.
func (m *Manager) Evaluate(ctx context.Context, contactID string, state leadstate.CanonicalState) (Transition, error) {
	if !state.HasLiveHold() {
		m.registry.Remove(contactID)
		return TransitionNone, nil
	}

	now := m.now()
	lastActivity := state.HoldLastActivityAt
	if lastActivity.IsZero() {
		// Legacy hold without a recorded timestamp: start the window now.
		return TransitionNone, m.fields.Apply(ctx, contactID, fieldstore.Fields{
			fieldstore.KeyHoldLastActivityAt: now.UTC().Format(time.RFC3339),
		})
	}
	elapsed := now.Sub(lastActivity)

	if elapsed >= m.holdFor {
		return m.expire(ctx, contactID, state, "expired")
	}

	if elapsed >= m.holdFor-m.warnLead && !state.HoldWarningSent {
		return m.warn(ctx, contactID, state)
	}
	return TransitionNone, nil
}

func (m *Manager) warn(ctx context.Context, contactID string, state leadstate.CanonicalState) (Transition, error) {
	remaining := m.warnLead
	text := fmt.Sprintf(
		"Just a heads up, we're holding your consultation time for about %d more minutes. Reply here or pay the deposit to keep it.",
		int(remaining.Minutes()),
	)
	if m.messenger != nil {
		if err := m.messenger.SendMessage(ctx, contactID, text, "SMS"); err != nil {
			// The warning is best effort; the flag stays unset so the next
			// tick retries.
			m.logger.Warn("hold warning send failed", "contact_id", contactID, "error", err)
			return TransitionNone, nil
		}
	}
	if err := m.fields.Apply(ctx, contactID, fieldstore.Fields{
		fieldstore.KeyHoldWarningSent: "true",
	}); err != nil {
		return TransitionNone, err
	}
	m.metrics.ObserveHoldTransition(string(TransitionWarned))
	m.logger.Info("hold warning sent", "contact_id", contactID, "appointment_id", state.HoldAppointmentID)
	return TransitionWarned, nil
}

// Release cancels a live hold at the lead's explicit request (cancel or
// reschedule), recording the freed slot the same way expiry does. No-op
// without a live hold.
func (m *Manager) Release(ctx context.Context, contactID string, state leadstate.CanonicalState) error {
	if !state.HasLiveHold() {
		return nil
	}
	_, err := m.expire(ctx, contactID, state, "released")
	return err
}

func (m *Manager) expire(ctx context.Context, contactID string, state leadstate.CanonicalState, reason string) (Transition, error) {
	if err := m.api.UpdateAppointmentStatus(ctx, state.HoldAppointmentID, highlevel.StatusCancelled); err != nil {
		// Leave the fields in place; the next sweep retries the cancel.
		return TransitionNone, fmt.Errorf("holds: cancel %s hold %s: %w", reason, state.HoldAppointmentID, err)
	}

	released := ReleasedSlot{CalendarID: state.HoldCalendarID}
	if appt, err := m.api.GetAppointment(ctx, state.HoldAppointmentID); err == nil {
		released.Display = appt.Start.Format("Mon Jan 2 at 3:04 PM")
	} else {
		m.logger.Warn("could not read expired hold for release record", "appointment_id", state.HoldAppointmentID, "error", err)
	}
	releasedJSON, _ := json.Marshal(released)

	updates := fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  "",
		fieldstore.KeyHoldCalendarID:     "",
		fieldstore.KeyHoldLastActivityAt: "",
		fieldstore.KeyHoldWarningSent:    "",
		fieldstore.KeyLastReleasedSlot:   string(releasedJSON),
	}
	if err := m.fields.Apply(ctx, contactID, updates); err != nil {
		return TransitionNone, err
	}
	m.registry.Remove(contactID)
	m.metrics.ObserveHoldTransition(reason)
	m.logger.Info("hold released",
		"contact_id", contactID,
		"appointment_id", state.HoldAppointmentID,
		"calendar_id", state.HoldCalendarID,
		"reason", reason,
	)
	return TransitionExpired, nil
}

// Promote confirms the held appointment after the deposit clears. The same
// appointment record is promoted, never re-created, and hold bookkeeping is
// cleared in the same write.
func (m *Manager) Promote(ctx context.Context, contactID string, state leadstate.CanonicalState) error {
	if !state.HasLiveHold() {
		return fmt.Errorf("holds: no live hold to promote for %s", contactID)
	}
	if err := m.api.UpdateAppointmentStatus(ctx, state.HoldAppointmentID, highlevel.StatusConfirmed); err != nil {
		return fmt.Errorf("holds: confirm hold %s: %w", state.HoldAppointmentID, err)
	}
	updates := fieldstore.Fields{
		fieldstore.KeyBookedAppointmentID: state.HoldAppointmentID,
		fieldstore.KeyHoldAppointmentID:   "",
		fieldstore.KeyHoldCalendarID:      "",
		fieldstore.KeyHoldLastActivityAt:  "",
		fieldstore.KeyHoldWarningSent:     "",
	}
	if err := m.fields.Apply(ctx, contactID, updates); err != nil {
		return err
	}
	m.registry.Remove(contactID)
	m.metrics.ObserveHoldTransition("confirmed")
	m.logger.Info("hold promoted to confirmed booking",
		"contact_id", contactID, "appointment_id", state.HoldAppointmentID)
	return nil
}
