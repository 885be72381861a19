// Package calendarsync mirrors appointment changes between artist and
// interpreter calendars. The two calendars are independent systems of
// record: the pair relationship is rediscovered on every webhook, never
// stored as a foreign key.
package calendarsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Role classifies the calendar a webhook fired on.
type Role string

const (
	RoleArtist      Role = "artist"
	RoleInterpreter Role = "interpreter"
	RoleUnknown     Role = "unknown"
)

// Event is the calendar-change webhook payload slice the syncer acts on.
type Event struct {
	ContactID     string    `json:"contactId"`
	AppointmentID string    `json:"appointmentId"`
	CalendarID    string    `json:"calendarId"`
	Start         time.Time `json:"startTime"`
	End           time.Time `json:"endTime"`
	Status        string    `json:"status"`
}

// SiblingResult records the outcome of propagating one sibling
// appointment. A best-effort sync reports per-appointment results
// instead of aborting on the first failure.
type SiblingResult struct {
	AppointmentID string
	CalendarID    string
	Action        string // "cancel", "reschedule", "skip"
	Err           error
}

// CalendarAPI is the appointment surface the syncer needs.
type CalendarAPI interface {
	GetAppointment(ctx context.Context, appointmentID string) (*highlevel.Appointment, error)
	ListAppointments(ctx context.Context, calendarID string, from, to time.Time) ([]highlevel.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID, status string) error
	RescheduleAppointment(ctx context.Context, appointmentID string, start, end time.Time) error
}

// siblingSearchWindow bounds the ListAppointments query around the
// triggering appointment's start when hunting for the pair.
const siblingSearchWindow = 24 * time.Hour

// Syncer propagates cancellations and reschedules to paired appointments.
type Syncer struct {
	api     CalendarAPI
	roster  scheduling.Roster
	logger  *logging.Logger
	metrics *metrics.EngineMetrics
}

func NewSyncer(api CalendarAPI, roster scheduling.Roster, logger *logging.Logger, m *metrics.EngineMetrics) *Syncer {
	if api == nil {
		panic("calendarsync: nil api")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Syncer{api: api, roster: roster, logger: logger, metrics: m}
}

// RoleOf reports which roster group a calendar belongs to and the
// opposite group's calendars, the sibling set.
func (s *Syncer) RoleOf(calendarID string) (Role, []scheduling.Calendar) {
	switch {
	case scheduling.ContainsCalendar(s.roster.Artists, calendarID):
		return RoleArtist, s.roster.Interpreters
	case scheduling.ContainsCalendar(s.roster.Interpreters, calendarID):
		return RoleInterpreter, s.roster.Artists
	default:
		return RoleUnknown, nil
	}
}

// Propagate applies a calendar-change event to every sibling appointment
// it can find. Siblings are processed concurrently and independently;
// one sibling failing never blocks the others. The triggering
// appointment itself is left untouched.
func (s *Syncer) Propagate(ctx context.Context, ev Event) ([]SiblingResult, error) {
	role, siblingCalendars := s.RoleOf(ev.CalendarID)
	if role == RoleUnknown {
		s.logger.Debug("calendar change on unmanaged calendar ignored", "calendar_id", ev.CalendarID)
		return nil, nil
	}
	if len(siblingCalendars) == 0 {
		return nil, nil
	}

	action := actionFor(ev)
	if action == "" {
		return nil, nil
	}

	pairingKey, anchor := s.describeTrigger(ctx, ev)
	if anchor.IsZero() && pairingKey == "" {
		return nil, fmt.Errorf("calendarsync: event %s has neither a start time nor a readable source appointment", ev.AppointmentID)
	}

	siblings := s.findSiblings(ctx, ev, siblingCalendars, pairingKey, anchor)
	if len(siblings) == 0 {
		s.logger.Info("no sibling appointment found",
			"appointment_id", ev.AppointmentID,
			"role", string(role),
			"pairing_key", pairingKey,
		)
		return nil, nil
	}

	results := make([]SiblingResult, len(siblings))
	var wg sync.WaitGroup
	for i, sib := range siblings {
		wg.Add(1)
		go func(i int, sib highlevel.Appointment) {
			defer wg.Done()
			results[i] = s.applyOne(ctx, action, ev, sib)
		}(i, sib)
	}
	wg.Wait()

	for _, res := range results {
		status := "ok"
		if res.Err != nil {
			status = "error"
			s.logger.Error("sibling propagation failed",
				"appointment_id", res.AppointmentID,
				"action", res.Action,
				"error", res.Err,
			)
		}
		s.metrics.ObserveSyncOutcome(res.Action, status)
	}
	return results, nil
}

// actionFor maps the webhook status to the propagation to perform.
func actionFor(ev Event) string {
	if strings.EqualFold(ev.Status, highlevel.StatusCancelled) {
		return "cancel"
	}
	if !ev.Start.IsZero() {
		return "reschedule"
	}
	return ""
}

// describeTrigger reads the triggering appointment for its pairing key
// and start time. A failed read degrades to whatever the event carried.
func (s *Syncer) describeTrigger(ctx context.Context, ev Event) (pairingKey string, anchor time.Time) {
	anchor = ev.Start
	appt, err := s.api.GetAppointment(ctx, ev.AppointmentID)
	if err != nil {
		s.logger.Warn("could not read triggering appointment", "appointment_id", ev.AppointmentID, "error", err)
		return "", anchor
	}
	if anchor.IsZero() {
		anchor = appt.Start
	}
	return scheduling.ExtractPairingKey(appt.Notes), anchor
}

// findSiblings locates the paired appointments. Pairing-key matches are
// exact and preferred; failing that, a same-contact appointment at the
// identical start time on a sibling calendar is taken. Cancelled
// records never match.
func (s *Syncer) findSiblings(ctx context.Context, ev Event, calendars []scheduling.Calendar, pairingKey string, anchor time.Time) []highlevel.Appointment {
	from := anchor.Add(-siblingSearchWindow)
	to := anchor.Add(siblingSearchWindow)

	var keyed, timed []highlevel.Appointment
	for _, cal := range calendars {
		appts, err := s.api.ListAppointments(ctx, cal.CalendarID, from, to)
		if err != nil {
			s.logger.Warn("sibling calendar listing failed", "calendar_id", cal.CalendarID, "error", err)
			continue
		}
		for _, appt := range appts {
			if appt.ID == ev.AppointmentID || strings.EqualFold(appt.Status, highlevel.StatusCancelled) {
				continue
			}
			if pairingKey != "" && scheduling.ExtractPairingKey(appt.Notes) == pairingKey {
				keyed = append(keyed, appt)
				continue
			}
			if appt.ContactID != "" && appt.ContactID == ev.ContactID && appt.Start.UTC().Equal(anchor.UTC()) {
				timed = append(timed, appt)
			}
		}
	}
	if len(keyed) > 0 {
		return keyed
	}
	return timed
}

func (s *Syncer) applyOne(ctx context.Context, action string, ev Event, sib highlevel.Appointment) SiblingResult {
	res := SiblingResult{AppointmentID: sib.ID, CalendarID: sib.CalendarID, Action: action}

	switch action {
	case "cancel":
		// Cancel, never delete: the record survives for later audits
		// even when the pair drifts out of sync.
		if err := s.api.UpdateAppointmentStatus(ctx, sib.ID, highlevel.StatusCancelled); err != nil {
			res.Err = fmt.Errorf("calendarsync: cancel sibling %s: %w", sib.ID, err)
			return res
		}
		s.logger.Info("sibling appointment cancelled", "appointment_id", sib.ID, "calendar_id", sib.CalendarID)
	case "reschedule":
		if sib.Start.Equal(ev.Start) && (ev.End.IsZero() || sib.End.Equal(ev.End)) {
			res.Action = "skip"
			return res
		}
		end := ev.End
		if end.IsZero() {
			end = ev.Start.Add(sib.End.Sub(sib.Start))
		}
		if err := s.api.RescheduleAppointment(ctx, sib.ID, ev.Start, end); err != nil {
			res.Err = fmt.Errorf("calendarsync: reschedule sibling %s: %w", sib.ID, err)
			return res
		}
		s.logger.Info("sibling appointment rescheduled",
			"appointment_id", sib.ID,
			"calendar_id", sib.CalendarID,
			"start", ev.Start.Format(time.RFC3339),
		)
	}
	return res
}
