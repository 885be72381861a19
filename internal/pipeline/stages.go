// Package pipeline keeps the CRM deal record in step with what the
// conversation engine knows about a lead. The stage value lives in the
// CRM; this package owns the ordering rules and the context-to-stage
// mapping.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/inkflow-ai/studio-platform/internal/leadstate"
)

// Stage is one step of the fixed studio pipeline.
type Stage string

const (
	StageIntake             Stage = "INTAKE"
	StageDiscovery          Stage = "DISCOVERY"
	StageDepositPending     Stage = "DEPOSIT_PENDING"
	StageQualified          Stage = "QUALIFIED"
	StageAppointmentConsult Stage = "APPOINTMENT_CONSULT"
	StageMessageConsult     Stage = "MESSAGE_CONSULT"
	StageBooked             Stage = "BOOKED"
	StageCompleted          Stage = "COMPLETED"
	StageColdNurtureLost    Stage = "COLD_NURTURE_LOST"
)

// orderedStages fixes the forward direction of the pipeline. The two
// terminal stages sit last; reaching them from anywhere is an override
// move, not a normal advance.
var orderedStages = []Stage{
	StageIntake,
	StageDiscovery,
	StageDepositPending,
	StageQualified,
	StageAppointmentConsult,
	StageMessageConsult,
	StageBooked,
	StageCompleted,
	StageColdNurtureLost,
}

func stageIndex(s Stage) int {
	for i, candidate := range orderedStages {
		if candidate == s {
			return i
		}
	}
	return -1
}

// CanAdvance reports whether moving from current to target is allowed.
// Forward and same-stage moves always are; backward moves only with the
// override flag, which terminal moves (completed, lost) set because they
// are reachable from any stage.
func CanAdvance(current, target Stage, override bool) bool {
	ti := stageIndex(target)
	if ti < 0 {
		return false
	}
	ci := stageIndex(current)
	if ci < 0 {
		// Unknown or unset current stage never blocks a move.
		return true
	}
	if ti >= ci {
		return true
	}
	return override
}

// IsTerminal reports whether the stage ends the pipeline.
func IsTerminal(s Stage) bool {
	return s == StageCompleted || s == StageColdNurtureLost
}

// StageContext is the handful of facts DetermineStageFromContext reads.
// It is deliberately smaller than CanonicalState: the stage mapping must
// stay reviewable at a glance.
type StageContext struct {
	DepositLinkSent bool
	DepositPaid     bool
	ConsultType     leadstate.ConsultType
	ConsultLocked   bool
	Booked          bool
	Completed       bool
	Lost            bool
	Phase           leadstate.Phase
}

// ContextFromState projects the canonical state onto the stage inputs.
func ContextFromState(s leadstate.CanonicalState) StageContext {
	return StageContext{
		DepositLinkSent: s.DepositLinkSent,
		DepositPaid:     s.DepositPaid,
		ConsultType:     s.ConsultType,
		ConsultLocked:   s.ConsultTypeLocked,
		Booked:          s.AppointmentBooked(),
		Completed:       s.BookingCompleted,
		Lost:            s.LeadLost,
		Phase:           leadstate.DerivePhase(s),
	}
}

// DetermineStageFromContext maps engine context to the pipeline stage.
// Guards run most-advanced-fact-first, the same shape as the phase
// deriver, so a partially updated field map can only under-report, never
// regress a lead past facts already on record.
func DetermineStageFromContext(c StageContext) Stage {
	switch {
	case c.Completed:
		return StageCompleted
	case c.Lost:
		return StageColdNurtureLost
	case c.Booked:
		return StageBooked
	case c.ConsultLocked && c.ConsultType == leadstate.ConsultMessage:
		return StageMessageConsult
	case c.ConsultLocked && c.ConsultType == leadstate.ConsultAppointment:
		return StageAppointmentConsult
	case c.DepositPaid:
		return StageQualified
	case c.DepositLinkSent:
		return StageDepositPending
	case c.Phase != leadstate.PhaseIntake:
		return StageDiscovery
	default:
		return StageIntake
	}
}

// StageKeys maps stage names to the CRM's pipeline stage ids. An empty
// map falls back to the stage name itself, which matches dev pipelines
// provisioned with literal names.
type StageKeys map[Stage]string

// ParseStageKeys decodes the configured stage-id map. Unknown stage
// names in the document are rejected so a typo fails at startup rather
// than silently parking deals in a nonexistent stage.
func ParseStageKeys(raw string) (StageKeys, error) {
	if raw == "" {
		return StageKeys{}, nil
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("pipeline: stage key map: %w", err)
	}
	keys := StageKeys{}
	for name, id := range doc {
		stage := Stage(name)
		if stageIndex(stage) < 0 {
			return nil, fmt.Errorf("pipeline: unknown stage %q in stage key map", name)
		}
		keys[stage] = id
	}
	return keys, nil
}

// KeyFor resolves the CRM stage id for a stage.
func (k StageKeys) KeyFor(s Stage) string {
	if id, ok := k[s]; ok {
		return id
	}
	return string(s)
}

// StageFor resolves a CRM stage id back to the stage, defaulting to the
// literal name for identity maps.
func (k StageKeys) StageFor(key string) Stage {
	for stage, id := range k {
		if id == key {
			return stage
		}
	}
	if stageIndex(Stage(key)) >= 0 {
		return Stage(key)
	}
	return ""
}
