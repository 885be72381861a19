package scheduling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/payments"
)

// maxBusy is the workload score assigned when the lookup fails. The artist
// stays assignable, just ranked last: telemetry being down must never make
// zero artists bookable.
const maxBusy = 1 << 30

// PairingKeyPrefix marks the pairing key inside appointment notes.
const PairingKeyPrefix = "pair:"

// NewPairingKey mints the opaque key both sibling appointments embed.
func NewPairingKey() string {
	return PairingKeyPrefix + uuid.NewString()
}

// ExtractPairingKey pulls the pairing key out of appointment notes, "" when
// absent.
func ExtractPairingKey(notes string) string {
	idx := strings.Index(notes, PairingKeyPrefix)
	if idx < 0 {
		return ""
	}
	rest := notes[idx:]
	if end := strings.IndexAny(rest, " \n\t"); end > 0 {
		return rest[:end]
	}
	return rest
}

// BookingRequest asks for a tentative appointment at a chosen slot.
type BookingRequest struct {
	ContactID       string
	Start           time.Time
	NeedInterpreter bool
	ArtistPref      string
	Title           string
	// DepositPaymentID, when set, is refunded automatically if the slot is
	// lost to a race.
	DepositPaymentID string
	DepositCents     int32
}

// Booking is a created tentative appointment pair.
type Booking struct {
	Artist                 Calendar
	Appointment            *highlevel.Appointment
	Interpreter            *Calendar
	InterpreterAppointment *highlevel.Appointment
	PairingKey             string
}

// WithRefunder attaches the payment client used by the slot-race failure
// path.
func (e *Engine) WithRefunder(r payments.Refunder) *Engine {
	e.refunder = r
	return e
}

// BookSlot re-verifies the chosen slot, picks the fairest free artist (and
// first free interpreter when required), and creates the paired tentative
// appointments. Loss of the slot between offer and selection returns
// ErrSlotTaken; if a deposit was already captured it is refunded first.
func (e *Engine) BookSlot(ctx context.Context, req BookingRequest) (*Booking, error) {
	end := req.Start.Add(e.opts.ConsultDuration)

	// The whole roster is re-checked, not just the preferred artist: losing
	// the preferred calendar to a race falls back to the fairest free artist
	// rather than failing the slot.
	freeArtists := e.calendarsFreeAt(ctx, e.roster.Artists, req.Start)
	if len(freeArtists) == 0 {
		e.refundIfCaptured(ctx, req, "slot no longer available")
		return nil, ErrSlotTaken
	}

	artist := e.pickArtist(ctx, freeArtists, req.ArtistPref)

	var interpreter *Calendar
	if req.NeedInterpreter {
		freeInterpreters := e.calendarsFreeAt(ctx, e.roster.Interpreters, req.Start)
		if len(freeInterpreters) == 0 {
			e.refundIfCaptured(ctx, req, "no interpreter available")
			return nil, ErrNoInterpreter
		}
		// First free in declaration order; interpreter load is not ranked.
		interpreter = &freeInterpreters[0]
	}

	pairingKey := NewPairingKey()
	title := req.Title
	if title == "" {
		title = "Tattoo consultation"
	}

	appt, err := e.api.CreateAppointment(ctx, highlevel.CreateAppointmentRequest{
		CalendarID: artist.CalendarID,
		ContactID:  req.ContactID,
		Title:      title,
		Notes:      fmt.Sprintf("Tentative consultation hold. %s", pairingKey),
		Start:      req.Start,
		End:        end,
		Status:     highlevel.StatusNew,
	})
	if err != nil {
		e.refundIfCaptured(ctx, req, "booking failed")
		return nil, fmt.Errorf("scheduling: create appointment: %w", err)
	}

	booking := &Booking{
		Artist:      artist,
		Appointment: appt,
		PairingKey:  pairingKey,
	}

	if interpreter != nil {
		sibling, err := e.api.CreateAppointment(ctx, highlevel.CreateAppointmentRequest{
			CalendarID: interpreter.CalendarID,
			ContactID:  req.ContactID,
			Title:      title + " (interpreter)",
			Notes:      fmt.Sprintf("Interpreter for consultation. %s", pairingKey),
			Start:      req.Start,
			End:        end,
			Status:     highlevel.StatusNew,
		})
		if err != nil {
			// Interpreter follower creation is auxiliary: the consultation
			// is booked, staff resolve the interpreter manually.
			e.logger.Warn("interpreter appointment creation failed",
				"interpreter", interpreter.Name, "pairing_key", pairingKey, "error", err)
		} else {
			booking.Interpreter = interpreter
			booking.InterpreterAppointment = sibling
		}
	}

	e.metrics.ObserveHoldTransition("created")
	e.logger.Info("tentative appointment booked",
		"contact_id", req.ContactID,
		"artist", artist.Name,
		"start", req.Start,
		"interpreter_required", req.NeedInterpreter,
	)
	return booking, nil
}

// CancelAppointment cancels a confirmed appointment. Cancellation, never
// deletion: the status change reaches the calendar webhook, which lets the
// sync worker cancel any interpreter sibling.
func (e *Engine) CancelAppointment(ctx context.Context, appointmentID string) error {
	if appointmentID == "" {
		return nil
	}
	if err := e.api.UpdateAppointmentStatus(ctx, appointmentID, highlevel.StatusCancelled); err != nil {
		return fmt.Errorf("scheduling: cancel appointment %s: %w", appointmentID, err)
	}
	e.logger.Info("appointment cancelled", "appointment_id", appointmentID)
	return nil
}

// calendarsFreeAt re-checks which of the given calendars still have the
// exact start time free.
func (e *Engine) calendarsFreeAt(ctx context.Context, group []Calendar, start time.Time) []Calendar {
	dayStart := start.Truncate(24 * time.Hour)
	legs := e.fetchGroup(ctx, group, dayStart, dayStart.Add(24*time.Hour))

	var free []Calendar
	for _, leg := range legs {
		for _, slot := range leg.slots {
			if slot.Start.Equal(start) {
				free = append(free, leg.calendar)
				break
			}
		}
	}
	return free
}

// pickArtist honors an explicit free preference, otherwise ranks the free
// artists by workload ascending. The sort is stable, so equal scores keep
// roster declaration order.
func (e *Engine) pickArtist(ctx context.Context, free []Calendar, preference string) Calendar {
	if wanted, ok := e.roster.FindArtist(preference); ok {
		for _, cal := range free {
			if cal.CalendarID == wanted.CalendarID {
				return cal
			}
		}
	}

	type scored struct {
		cal   Calendar
		score int
	}
	ranked := make([]scored, len(free))
	for i, cal := range free {
		ranked[i] = scored{cal: cal, score: e.workloadScore(ctx, cal)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })
	return ranked[0].cal
}

// workloadScore counts non-cancelled bookings in the scoring window. A
// failed lookup scores maxBusy rather than failing the assignment.
func (e *Engine) workloadScore(ctx context.Context, cal Calendar) int {
	now := e.now()
	window := 24 * time.Hour
	if e.opts.WorkloadWindow == "week" {
		window = 7 * 24 * time.Hour
	}

	appts, err := e.api.ListAppointments(ctx, cal.CalendarID, now, now.Add(window))
	if err != nil {
		e.logger.Warn("workload lookup failed, scoring as busy", "artist", cal.Name, "error", err)
		return maxBusy
	}
	count := 0
	for _, appt := range appts {
		if appt.Status != highlevel.StatusCancelled {
			count++
		}
	}
	return count
}

func (e *Engine) refundIfCaptured(ctx context.Context, req BookingRequest, reason string) {
	if req.DepositPaymentID == "" || e.refunder == nil {
		return
	}
	if _, err := e.refunder.RefundPayment(ctx, payments.RefundRequest{
		PaymentID:   req.DepositPaymentID,
		AmountCents: req.DepositCents,
		Reason:      reason,
	}); err != nil {
		e.logger.Error("automatic refund failed",
			"payment_id", req.DepositPaymentID, "reason", reason, "error", err)
	}
}
