// Package leadstate projects a contact's normalized field map into the typed
// canonical snapshot every routing and booking decision is made against. The
// snapshot is rebuilt on every turn and never persisted; only its source
// fields live in the CRM.
package leadstate

import (
	"time"

	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
)

// ConsultType is the consultation path a lead has chosen.
type ConsultType string

const (
	ConsultUnset       ConsultType = ""
	ConsultAppointment ConsultType = "appointment"
	ConsultMessage     ConsultType = "message"
)

// SizeArtistGuided is the sentinel a lead picks when they want the artist to
// decide sizing. It satisfies the size requirement for qualification.
const SizeArtistGuided = "artist_guided"

// CanonicalState is the validated, typed view of one contact's fields.
type CanonicalState struct {
	// Profile
	Placement    string
	Summary      string
	Size         string
	Style        string
	Timeline     string
	LanguagePref string
	ArtistPref   string

	// Consultation path
	ConsultType       ConsultType
	ConsultTypeLocked bool
	ConsultExplained  bool

	// Interpreter
	InterpreterNeeded    bool
	InterpreterConfirmed bool
	InterpreterExplained bool

	// Deposit
	DepositLinkSent  bool
	DepositPaid      bool
	DepositLinkURL   string
	DepositPaymentID string

	// Hold
	HoldAppointmentID  string
	HoldCalendarID     string
	HoldLastActivityAt time.Time
	HoldWarningSent    bool

	// Scheduling
	TimesSent        bool
	LastSentSlots    []SentSlot
	LastSeenSnapshot string

	// Booking / funnel
	BookedAppointmentID string
	BookingCompleted    bool
	LeadLost            bool
	OpportunityID       string
}

// Build projects a normalized field map into a CanonicalState. Unknown or
// malformed values resolve to zero values; Build never fails.
func Build(f fieldstore.Fields) CanonicalState {
	if f == nil {
		f = fieldstore.Fields{}
	}
	s := CanonicalState{
		Placement:    f.Get(fieldstore.KeyPlacement),
		Summary:      f.Get(fieldstore.KeySummary),
		Size:         f.Get(fieldstore.KeySize),
		Style:        f.Get(fieldstore.KeyStyle),
		Timeline:     f.Get(fieldstore.KeyTimeline),
		LanguagePref: f.Get(fieldstore.KeyLanguagePref),
		ArtistPref:   f.Get(fieldstore.KeyArtistPref),

		ConsultType:       parseConsultType(f.Get(fieldstore.KeyConsultType)),
		ConsultTypeLocked: f.Bool(fieldstore.KeyConsultTypeLocked),
		ConsultExplained:  f.Bool(fieldstore.KeyConsultExplained),

		InterpreterNeeded:    f.Bool(fieldstore.KeyInterpreterNeeded),
		InterpreterConfirmed: f.Bool(fieldstore.KeyInterpreterOK),
		InterpreterExplained: f.Bool(fieldstore.KeyInterpreterExplained),

		DepositLinkSent:  f.Bool(fieldstore.KeyDepositLinkSent),
		DepositPaid:      f.Bool(fieldstore.KeyDepositPaid),
		DepositLinkURL:   f.Get(fieldstore.KeyDepositLinkURL),
		DepositPaymentID: f.Get(fieldstore.KeyDepositPaymentID),

		HoldAppointmentID: f.Get(fieldstore.KeyHoldAppointmentID),
		HoldCalendarID:    f.Get(fieldstore.KeyHoldCalendarID),
		HoldWarningSent:   f.Bool(fieldstore.KeyHoldWarningSent),

		TimesSent:        f.Bool(fieldstore.KeyTimesSent),
		LastSeenSnapshot: f.Get(fieldstore.KeyLastSeenSnapshot),

		BookedAppointmentID: f.Get(fieldstore.KeyBookedAppointmentID),
		BookingCompleted:    f.Bool(fieldstore.KeyBookingCompleted),
		LeadLost:            f.Bool(fieldstore.KeyLeadLost),
		OpportunityID:       f.Get(fieldstore.KeyOpportunityID),
	}

	if raw := f.Get(fieldstore.KeyHoldLastActivityAt); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			s.HoldLastActivityAt = ts
		}
	}
	s.LastSentSlots = DecodeSlots(f.Get(fieldstore.KeyLastSentSlots))
	return s
}

func parseConsultType(raw string) ConsultType {
	switch raw {
	case string(ConsultAppointment):
		return ConsultAppointment
	case string(ConsultMessage):
		return ConsultMessage
	}
	return ConsultUnset
}

// AppointmentBooked reports whether a confirmed appointment exists. A hold
// and a confirmed appointment are mutually exclusive over time: the hold id
// is cleared when it expires or is promoted.
func (s CanonicalState) AppointmentBooked() bool {
	return s.BookedAppointmentID != ""
}

// HasLiveHold reports whether a tentative appointment is outstanding.
func (s CanonicalState) HasLiveHold() bool {
	return s.HoldAppointmentID != ""
}

// QualificationComplete reports whether the profile facts needed before the
// consult-path conversation are all present.
func (s CanonicalState) QualificationComplete() bool {
	return s.Placement != "" && s.Summary != "" && s.SizeSatisfied()
}

// SizeSatisfied treats the artist-guided sentinel as a valid size answer;
// undecided customers are not stuck in qualification.
func (s CanonicalState) SizeSatisfied() bool {
	if s.Size == SizeArtistGuided {
		return true
	}
	return s.Size != ""
}

func (s CanonicalState) hasAnyProfile() bool {
	return s.Placement != "" || s.Summary != "" || s.Size != "" || s.Style != ""
}
