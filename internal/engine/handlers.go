package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkflow-ai/studio-platform/internal/events"
	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/intents"
	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
)

// maxOfferedSlots caps how many time options go out in one reply. More than
// three and leads stop picking.
const maxOfferedSlots = 3

// needsInterpreter decides whether booking must pair an interpreter: either
// the flag was already set, or the stated language preference is not English.
func (s *Service) needsInterpreter(state leadstate.CanonicalState) bool {
	if state.InterpreterNeeded {
		return true
	}
	return nonEnglish(state.LanguagePref)
}

func nonEnglish(pref string) bool {
	if pref == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "english", "en", "en-us", "en-gb":
		return false
	}
	return true
}

// consultSideEffects returns the field writes a consult-path choice implies,
// without any reply text. Used directly when the choice arrives alongside a
// scheduling ask. A locked choice is never silently switched.
func (s *Service) consultSideEffects(it intents.Intents, state leadstate.CanonicalState) fieldstore.Fields {
	if it.ChosenConsultType == leadstate.ConsultUnset {
		return nil
	}
	if state.ConsultTypeLocked && state.ConsultType != it.ChosenConsultType {
		return nil
	}
	updates := fieldstore.Fields{
		fieldstore.KeyConsultType:       string(it.ChosenConsultType),
		fieldstore.KeyConsultTypeLocked: "true",
		fieldstore.KeyConsultExplained:  "true",
	}
	if nonEnglish(state.LanguagePref) {
		updates[fieldstore.KeyInterpreterNeeded] = "true"
	}
	return updates
}

// handleConsultChoice owns the turn when the consult-path choice is the only
// intent: lock the choice and explain what happens next.
func (s *Service) handleConsultChoice(it intents.Intents, state leadstate.CanonicalState) turnOutcome {
	if state.ConsultTypeLocked && state.ConsultType != it.ChosenConsultType {
		current := "message"
		if state.ConsultType == leadstate.ConsultAppointment {
			current = "live"
		}
		return turnOutcome{bubbles: []string{
			fmt.Sprintf("You're already set up for a %s consultation. If you'd like to switch, let me know and I'll check with the team.", current),
		}}
	}

	updates := s.consultSideEffects(it, state)
	if updates == nil {
		updates = fieldstore.Fields{}
	}

	var bubbles []string
	switch it.ChosenConsultType {
	case leadstate.ConsultAppointment:
		bubbles = append(bubbles, "Perfect, we'll set up a live consultation so you can talk through the piece with your artist directly.")
		if nonEnglish(state.LanguagePref) && !state.InterpreterConfirmed && !state.InterpreterExplained {
			updates[fieldstore.KeyInterpreterExplained] = "true"
			bubbles = append(bubbles, fmt.Sprintf("Since you prefer %s, we can have an interpreter join the consultation at no extra cost. Want us to arrange that?", state.LanguagePref))
		} else {
			bubbles = append(bubbles, "Want me to send over some available times?")
		}
	case leadstate.ConsultMessage:
		bubbles = append(bubbles,
			"No problem, we can handle the whole consultation right here over messages.",
			"Your artist will review your idea and photos, and once everything looks good I'll send the deposit link to lock in your session.",
		)
	}
	return turnOutcome{bubbles: bubbles, updates: updates}
}

// handleScheduling searches the offer window and sends numbered time options.
// The offered list is recorded so a bare "2" next turn resolves to a slot.
func (s *Service) handleScheduling(ctx context.Context, contactID string, state leadstate.CanonicalState) turnOutcome {
	if s.scheduler == nil {
		return turnOutcome{bubbles: []string{
			"Let me check with the team on available times and get right back to you.",
		}}
	}

	from := s.now()
	offers, err := s.scheduler.FindOfferableSlots(ctx, scheduling.AvailabilityRequest{
		From:            from,
		To:              from.AddDate(0, 0, s.opts.SearchWindowDays),
		NeedInterpreter: s.needsInterpreter(state),
		ArtistPref:      state.ArtistPref,
	})
	if err != nil {
		s.logger.Error("slot search failed", "contact_id", contactID, "error", err)
		return turnOutcome{bubbles: []string{
			"I'm having trouble pulling up the calendar right now. Give me a few minutes and I'll text you some times.",
		}}
	}
	if len(offers) == 0 {
		return turnOutcome{bubbles: []string{
			"Nothing is open in the next couple of weeks, sorry about that. Want me to look further out?",
		}}
	}

	if len(offers) > maxOfferedSlots {
		offers = offers[:maxOfferedSlots]
	}

	sent := make([]leadstate.SentSlot, len(offers))
	var lines []string
	for i, offer := range offers {
		slot := leadstate.SentSlot{
			Index:   i + 1,
			Display: offer.Display,
			Start:   offer.Start,
			End:     offer.End,
		}
		if len(offer.Artists) > 0 {
			slot.CalendarID = offer.Artists[0].CalendarID
			slot.Artist = offer.Artists[0].Name
		}
		sent[i] = slot
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, offer.Display))
	}

	updates := fieldstore.Fields{
		fieldstore.KeyTimesSent:     "true",
		fieldstore.KeyLastSentSlots: leadstate.EncodeSlots(sent),
	}
	bubbles := []string{
		"Here's what we have open:\n" + strings.Join(lines, "\n"),
		"Which one works for you? Just reply with the number.",
	}
	return turnOutcome{bubbles: bubbles, updates: updates}
}

// handleSlotSelection books the chosen slot tentatively and establishes the
// hold. Losing the slot to a race re-offers instead of erroring at the lead.
func (s *Service) handleSlotSelection(ctx context.Context, contactID string, it intents.Intents, state leadstate.CanonicalState) turnOutcome {
	if it.SelectedSlot == nil || s.scheduler == nil {
		return s.handleScheduling(ctx, contactID, state)
	}
	slot := *it.SelectedSlot

	booking, err := s.scheduler.BookSlot(ctx, scheduling.BookingRequest{
		ContactID:        contactID,
		Start:            slot.Start,
		NeedInterpreter:  s.needsInterpreter(state),
		ArtistPref:       state.ArtistPref,
		DepositPaymentID: state.DepositPaymentID,
		DepositCents:     s.opts.DepositCents,
	})
	switch {
	case err == scheduling.ErrSlotTaken:
		s.logRefundIfCaptured(ctx, contactID, state, "slot_taken")
		out := s.handleScheduling(ctx, contactID, state)
		out.bubbles = append([]string{
			fmt.Sprintf("Ah, %s just got taken. Let me pull up what's still open.", slot.Display),
		}, out.bubbles...)
		return out
	case err == scheduling.ErrNoInterpreter:
		s.logRefundIfCaptured(ctx, contactID, state, "no_interpreter")
		out := s.handleScheduling(ctx, contactID, state)
		out.bubbles = append([]string{
			"We couldn't get an interpreter for that time after all. Here are some times where one is free.",
		}, out.bubbles...)
		return out
	case err != nil:
		s.logger.Error("slot booking failed", "contact_id", contactID, "error", err)
		s.notifyFlagged(ctx, contactID, "booking failed: "+err.Error(), state)
		return turnOutcome{bubbles: []string{
			"Something went wrong locking that time in. I've flagged it for the team, hang tight.",
		}}
	}

	if s.holds != nil {
		if herr := s.holds.Establish(ctx, contactID, state, booking.Appointment); herr != nil {
			s.logger.Error("hold establish failed", "contact_id", contactID, "appointment_id", booking.Appointment.ID, "error", herr)
		}
	}
	if lerr := s.log.Append(ctx, contactID, events.KindHoldTransition, map[string]any{
		"transition":     "created",
		"appointment_id": booking.Appointment.ID,
		"artist":         booking.Artist.Name,
	}); lerr != nil {
		s.logger.Warn("event log append failed", "contact_id", contactID, "error", lerr)
	}

	bubbles := []string{
		fmt.Sprintf("%s with %s is yours, tentatively!", slot.Display, booking.Artist.Name),
	}
	updates := fieldstore.Fields{
		fieldstore.KeyTimesSent:     "false",
		fieldstore.KeyLastSentSlots: "",
	}
	if state.DepositPaid {
		bubbles = append(bubbles, "Your deposit already covers it, so you're all set. See you then!")
	} else {
		bubbles = append(bubbles, "To lock it in, we just need the deposit. I'll send the payment link over next.")
	}
	return turnOutcome{bubbles: bubbles, updates: updates}
}

// logRefundIfCaptured records the deposit refund the scheduler issues
// when a captured payment loses its slot to a race.
func (s *Service) logRefundIfCaptured(ctx context.Context, contactID string, state leadstate.CanonicalState, reason string) {
	if state.DepositPaymentID == "" {
		return
	}
	if lerr := s.log.Append(ctx, contactID, events.KindDepositRefunded, map[string]any{
		"payment_id": state.DepositPaymentID,
		"reason":     reason,
	}); lerr != nil {
		s.logger.Warn("event log append failed", "contact_id", contactID, "error", lerr)
	}
}

// handleCancel releases any live hold and marks the lead lost. A confirmed
// booking is flagged for staff rather than cancelled blind from chat.
func (s *Service) handleCancel(ctx context.Context, contactID string, state leadstate.CanonicalState) turnOutcome {
	if s.holds != nil && state.HasLiveHold() {
		if err := s.holds.Release(ctx, contactID, state); err != nil {
			s.logger.Error("hold release failed", "contact_id", contactID, "error", err)
			s.notifyFlagged(ctx, contactID, "hold release failed: "+err.Error(), state)
			return turnOutcome{bubbles: []string{
				"I couldn't cancel that on my end just now, but I've flagged it and the team will sort it out today.",
			}}
		}
	}

	updates := fieldstore.Fields{fieldstore.KeyLeadLost: "true"}
	bubbles := []string{"No problem, I've cancelled that for you."}
	if state.AppointmentBooked() {
		s.notifyFlagged(ctx, contactID, "lead asked to cancel a booked appointment", state)
		if err := s.cancelBooked(ctx, contactID, state); err != nil {
			bubbles = []string{"Got it, I've let the team know to cancel your appointment. You'll get a confirmation shortly."}
		} else {
			updates[fieldstore.KeyBookedAppointmentID] = ""
			updates[fieldstore.KeyBookingCompleted] = "false"
			bubbles = []string{"Done, your appointment is cancelled."}
		}
	}
	bubbles = append(bubbles, "If you ever want to pick the idea back up, just message us here. We'd love to work with you.")
	return turnOutcome{bubbles: bubbles, updates: updates}
}

// cancelBooked cancels a confirmed appointment through the calendar API so
// the sync worker can cancel any interpreter sibling.
func (s *Service) cancelBooked(ctx context.Context, contactID string, state leadstate.CanonicalState) error {
	if s.scheduler == nil {
		return fmt.Errorf("engine: no scheduler to cancel appointment %s", state.BookedAppointmentID)
	}
	if err := s.scheduler.CancelAppointment(ctx, state.BookedAppointmentID); err != nil {
		s.logger.Error("booked appointment cancel failed",
			"contact_id", contactID, "appointment_id", state.BookedAppointmentID, "error", err)
		return err
	}
	return nil
}

// handleReschedule releases the current hold and immediately re-offers times,
// all in one turn.
func (s *Service) handleReschedule(ctx context.Context, contactID string, state leadstate.CanonicalState) turnOutcome {
	if s.holds != nil && state.HasLiveHold() {
		if err := s.holds.Release(ctx, contactID, state); err != nil {
			s.logger.Error("hold release failed", "contact_id", contactID, "error", err)
		} else {
			state.HoldAppointmentID = ""
			state.HoldCalendarID = ""
		}
	}

	// A confirmed booking must come off the calendar before new times go
	// out, or the lead ends up double booked.
	cleared := fieldstore.Fields{}
	if state.AppointmentBooked() {
		if err := s.cancelBooked(ctx, contactID, state); err != nil {
			s.notifyFlagged(ctx, contactID, "reschedule could not cancel booked appointment: "+err.Error(), state)
			return turnOutcome{bubbles: []string{
				"I couldn't move that appointment on my end just now, but I've flagged it and the team will sort it out today.",
			}}
		}
		state.BookedAppointmentID = ""
		cleared[fieldstore.KeyBookedAppointmentID] = ""
		cleared[fieldstore.KeyBookingCompleted] = "false"
	}

	out := s.handleScheduling(ctx, contactID, state)
	out.bubbles = append([]string{"Of course, let's find you a better time."}, out.bubbles...)
	out.updates = mergeUpdates(cleared, out.updates)
	if out.updates == nil {
		out.updates = fieldstore.Fields{}
	}
	return out
}

// handleDepositAlreadyPaid answers a deposit ask from someone who already
// paid. The reply must never contain a payment link.
func (s *Service) handleDepositAlreadyPaid(state leadstate.CanonicalState) turnOutcome {
	bubble := "Good news, your deposit is already in, nothing more to pay right now."
	if state.AppointmentBooked() {
		bubble = "Your deposit is already in and your appointment is confirmed, nothing more to pay."
	}
	return turnOutcome{bubbles: []string{bubble}}
}

// handleDepositResend re-sends the link that was already issued.
func (s *Service) handleDepositResend(state leadstate.CanonicalState) turnOutcome {
	if state.DepositLinkURL == "" {
		return turnOutcome{bubbles: []string{
			"I'll have a fresh deposit link sent over in just a moment.",
		}}
	}
	return turnOutcome{bubbles: []string{
		"Sure thing, here's that deposit link again: " + state.DepositLinkURL,
	}}
}

// handleInterpreterConfirm records the confirmation and, when the lead is on
// the live-consultation path with no times offered yet, rolls straight into
// the slot offer so an interpreter is paired from the start.
func (s *Service) handleInterpreterConfirm(ctx context.Context, contactID string, it intents.Intents, state leadstate.CanonicalState) turnOutcome {
	updates := fieldstore.Fields{
		fieldstore.KeyInterpreterNeeded: "true",
		fieldstore.KeyInterpreterOK:     "true",
	}
	bubbles := []string{"You got it, we'll have an interpreter join your consultation."}

	state.InterpreterNeeded = true
	state.InterpreterConfirmed = true
	if state.ConsultType == leadstate.ConsultAppointment && !state.TimesSent && !state.HasLiveHold() && !state.AppointmentBooked() {
		offer := s.handleScheduling(ctx, contactID, state)
		bubbles = append(bubbles, offer.bubbles...)
		updates = mergeUpdates(updates, offer.updates)
	}
	return turnOutcome{bubbles: bubbles, updates: updates}
}
