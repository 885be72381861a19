package leadstate

// Phase is the single derived conversation phase for a turn. It is never
// stored; DerivePhase recomputes it from current facts so a crash mid-turn
// cannot leave a stale phase behind.
type Phase string

const (
	PhaseIntake         Phase = "INTAKE"
	PhaseDiscovery      Phase = "DISCOVERY"
	PhaseQualification  Phase = "QUALIFICATION"
	PhaseConsultPath    Phase = "CONSULT_PATH"
	PhaseScheduling     Phase = "SCHEDULING"
	PhaseDepositPending Phase = "DEPOSIT_PENDING"
	PhaseQualified      Phase = "QUALIFIED"
	PhaseBooked         Phase = "BOOKED"
)

// DerivePhase maps a canonical state to exactly one phase. The guards run
// most-advanced-fact first: payment and booking facts must override however
// the earlier qualification fields happen to look. Reordering these guards
// changes business behavior; the order is a contract.
func DerivePhase(s CanonicalState) Phase {
	switch {
	case s.AppointmentBooked() || s.BookingCompleted:
		return PhaseBooked
	case s.DepositPaid:
		return PhaseQualified
	case s.DepositLinkSent:
		return PhaseDepositPending
	case s.HasLiveHold() || s.TimesSent ||
		(s.ConsultTypeLocked && s.ConsultType == ConsultAppointment):
		return PhaseScheduling
	case s.QualificationComplete():
		// Covers both "still choosing a path" and a locked message-path
		// consult that has not reached the deposit gate yet.
		return PhaseConsultPath
	case s.hasAnyProfile():
		return PhaseQualification
	case !s.ConsultExplained:
		return PhaseIntake
	default:
		return PhaseDiscovery
	}
}
