// Package engine is the conversation orchestrator: one entry point per
// inbound message, a fixed-precedence router between deterministic and
// generative handlers, and the glue that keeps holds, bookings, and the
// pipeline stage consistent with the contact's field map.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/inkflow-ai/studio-platform/internal/events"
	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/holds"
	"github.com/inkflow-ai/studio-platform/internal/intents"
	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/internal/llm"
	"github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/internal/pipeline"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

var tracer = otel.Tracer("engine")

// Handler labels for routing telemetry.
const (
	HandlerDeterministic = "deterministic"
	HandlerConsultPath   = "consult_path"
	HandlerAI            = "ai"
)

// FieldStore loads and writes the contact's flat field map.
type FieldStore interface {
	Load(ctx context.Context, contactID string) (fieldstore.Fields, error)
	Apply(ctx context.Context, contactID string, updates fieldstore.Fields) error
}

// Messenger delivers outbound bubbles on the contact's active channel.
type Messenger interface {
	SendMessage(ctx context.Context, contactID, text, channel string) error
}

// Scheduler is the slot-offer and booking surface.
type Scheduler interface {
	FindOfferableSlots(ctx context.Context, req scheduling.AvailabilityRequest) ([]scheduling.Offer, error)
	BookSlot(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Booking, error)
	CancelAppointment(ctx context.Context, appointmentID string) error
}

// HoldManager is the hold lifecycle surface.
type HoldManager interface {
	Establish(ctx context.Context, contactID string, state leadstate.CanonicalState, appt *highlevel.Appointment) error
	Touch(ctx context.Context, contactID string, state leadstate.CanonicalState) error
	Evaluate(ctx context.Context, contactID string, state leadstate.CanonicalState) (holds.Transition, error)
	Promote(ctx context.Context, contactID string, state leadstate.CanonicalState) error
	Release(ctx context.Context, contactID string, state leadstate.CanonicalState) error
}

// StageManager reconciles the CRM deal record.
type StageManager interface {
	Reconcile(ctx context.Context, contactID, storedID string, sctx pipeline.StageContext) (pipeline.Stage, bool, error)
}

// ReplyGenerator is the generative fallback handler. The changed map
// carries the fields that moved since the lead last got a reply, so the
// model answers grounded in what is new this turn.
type ReplyGenerator interface {
	Generate(ctx context.Context, state leadstate.CanonicalState, phase leadstate.Phase, changed fieldstore.Fields, message string) (llm.Reply, error)
}

// Coalescer batches rapid-fire inbound messages per contact.
type Coalescer interface {
	Coalesce(ctx context.Context, contactID, message string) (string, bool, error)
}

// TeamNotifier alerts studio staff about turns that need a human.
type TeamNotifier interface {
	BookingFlagged(ctx context.Context, contactID, reason string, state leadstate.CanonicalState) error
	DepositReceived(ctx context.Context, contactID string, state leadstate.CanonicalState, amountCents int32, paymentID string) error
}

// Options tunes the turn handler.
type Options struct {
	SearchWindowDays int
	DefaultChannel   string
	// DepositCents is passed through to booking so a slot lost to a race
	// refunds the right amount.
	DepositCents int32
}

func (o Options) withDefaults() Options {
	if o.SearchWindowDays <= 0 {
		o.SearchWindowDays = 14
	}
	if o.DefaultChannel == "" {
		o.DefaultChannel = "SMS"
	}
	if o.DepositCents <= 0 {
		o.DepositCents = 10000
	}
	return o
}

// Service wires the whole message path together.
type Service struct {
	fields    FieldStore
	messenger Messenger
	scheduler Scheduler
	holds     HoldManager
	stages    StageManager
	reply     ReplyGenerator
	debouncer Coalescer
	log       *events.Store
	opts      Options
	logger    *logging.Logger
	metrics   *metrics.EngineMetrics
	notifier  TeamNotifier
	now       func() time.Time
}

func NewService(
	fields FieldStore,
	messenger Messenger,
	scheduler Scheduler,
	holdMgr HoldManager,
	stages StageManager,
	reply ReplyGenerator,
	debouncer Coalescer,
	log *events.Store,
	opts Options,
	logger *logging.Logger,
	m *metrics.EngineMetrics,
) *Service {
	if fields == nil {
		panic("engine: nil field store")
	}
	if messenger == nil {
		panic("engine: nil messenger")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		fields:    fields,
		messenger: messenger,
		scheduler: scheduler,
		holds:     holdMgr,
		stages:    stages,
		reply:     reply,
		debouncer: debouncer,
		log:       log,
		opts:      opts.withDefaults(),
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// WithNotifier attaches a staff notifier. Alerts are best effort, a send
// failure never blocks the turn.
func (s *Service) WithNotifier(n TeamNotifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) notifyFlagged(ctx context.Context, contactID, reason string, state leadstate.CanonicalState) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BookingFlagged(ctx, contactID, reason, state); err != nil {
		s.logger.Warn("staff alert failed", "contact_id", contactID, "error", err)
	}
}

// Routing exposes the router's decision for telemetry and tests.
type Routing struct {
	SelectedHandler string   `json:"selected_handler"`
	Intents         []string `json:"intents"`
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	// Skipped is true for debounce losers; nothing else is set.
	Skipped      bool
	Bubbles      []string
	FieldUpdates fieldstore.Fields
	Phase        leadstate.Phase
	Routing      Routing
}

// turnOutcome is what a handler produces before write-back.
type turnOutcome struct {
	bubbles []string
	updates fieldstore.Fields
}

// HandleInboundMessage is the single entry point for the message path.
// It debounces, derives state, routes to exactly one handler, applies
// the handler's field updates, and sends the reply. A panic anywhere in
// the turn degrades to a generic internal-error result; raw failure
// detail never reaches the lead's channel.
func (s *Service) HandleInboundMessage(ctx context.Context, contactID, message string) (result *TurnResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.handle_inbound")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn handler panicked", "contact_id", contactID, "panic", fmt.Sprint(r))
			result = nil
			err = fmt.Errorf("engine: internal error handling message for %s", contactID)
		}
	}()

	if s.debouncer != nil {
		combined, leader, derr := s.debouncer.Coalesce(ctx, contactID, message)
		if derr != nil {
			return nil, fmt.Errorf("engine: debounce: %w", derr)
		}
		if !leader {
			s.metrics.ObserveDebounceCoalesced()
			return &TurnResult{Skipped: true}, nil
		}
		message = combined
	}

	fields, err := s.fields.Load(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("engine: load contact %s: %w", contactID, err)
	}
	state := leadstate.Build(fields)

	// Inbound activity keeps a live hold warm, and a paid deposit
	// promotes it before routing so the turn sees the confirmed state.
	if s.holds != nil && state.HasLiveHold() {
		if state.DepositPaid {
			if perr := s.holds.Promote(ctx, contactID, state); perr != nil {
				s.logger.Warn("hold promotion failed", "contact_id", contactID, "error", perr)
			} else {
				state.BookedAppointmentID = state.HoldAppointmentID
				state.HoldAppointmentID = ""
			}
		} else {
			if terr := s.holds.Touch(ctx, contactID, state); terr != nil {
				s.logger.Warn("hold keep-alive failed", "contact_id", contactID, "error", terr)
			}
			state.HoldLastActivityAt = s.now()
		}
	}

	// What moved since the lead last got a reply, for grounding the
	// generative handler.
	changed := leadstate.DiffSince(state.LastSeenSnapshot, fields)

	detected := intents.Detect(message, state)
	routing := Routing{Intents: detected.Names()}

	// Multi-intent composition: a consult choice arriving together with
	// a scheduling ask locks the choice silently and lets the scheduling
	// reply own the turn.
	var composed fieldstore.Fields
	if detected.ConsultChoice && s.wantsMoreThanConsult(detected) {
		composed = s.consultSideEffects(detected, state)
		state = leadstate.Build(mergedCopy(fields, composed))
	}

	outcome, handler := s.route(ctx, contactID, message, detected, state, changed)
	routing.SelectedHandler = handler

	// The write-back also refreshes the diff baseline for the next turn.
	updates := mergeUpdates(composed, outcome.updates)
	writeback := mergeUpdates(updates, fieldstore.Fields{
		fieldstore.KeyLastSeenSnapshot: leadstate.EncodeSnapshot(mergedCopy(fields, updates)),
	})
	if aerr := s.fields.Apply(ctx, contactID, writeback); aerr != nil {
		return nil, fmt.Errorf("engine: write back fields for %s: %w", contactID, aerr)
	}

	// Recompute the phase on an in-memory merge for telemetry; storage
	// stays the single source of truth for the next turn.
	finalState := leadstate.Build(mergedCopy(fields, updates))
	phase := leadstate.DerivePhase(finalState)

	for _, bubble := range outcome.bubbles {
		if serr := s.messenger.SendMessage(ctx, contactID, bubble, s.opts.DefaultChannel); serr != nil {
			s.logger.Error("outbound send failed", "contact_id", contactID, "error", serr)
			break
		}
	}

	s.reconcileStage(ctx, contactID, finalState)
	s.metrics.ObserveTurn(handler, string(phase))
	if lerr := s.log.Append(ctx, contactID, events.KindTurnHandled, map[string]any{
		"handler": handler,
		"phase":   string(phase),
		"intents": routing.Intents,
	}); lerr != nil {
		s.logger.Warn("event log append failed", "contact_id", contactID, "error", lerr)
	}

	return &TurnResult{
		Bubbles:      outcome.bubbles,
		FieldUpdates: updates,
		Phase:        phase,
		Routing:      routing,
	}, nil
}

// wantsMoreThanConsult reports whether any non-consult intent fired, in
// which case the consult choice composes instead of owning the reply.
func (s *Service) wantsMoreThanConsult(it intents.Intents) bool {
	return it.Scheduling || it.Deposit || it.SlotSelection || it.Reschedule || it.Cancel || it.MoreTimes
}

// route picks exactly one handler per turn, fixed precedence:
// consult-path alone, then the deterministic hard-skips, then the
// generative fallback.
func (s *Service) route(ctx context.Context, contactID, message string, it intents.Intents, state leadstate.CanonicalState, changed fieldstore.Fields) (turnOutcome, string) {
	if it.ConsultChoice && !s.wantsMoreThanConsult(it) && !it.InterpreterYes {
		return s.handleConsultChoice(it, state), HandlerConsultPath
	}
	if out, ok := s.deterministic(ctx, contactID, it, state); ok {
		return out, HandlerDeterministic
	}
	return s.generate(ctx, contactID, state, changed, message), HandlerAI
}

// deterministic is the hard-skip predicate plus dispatch: conditions
// that must never be answered generatively.
func (s *Service) deterministic(ctx context.Context, contactID string, it intents.Intents, state leadstate.CanonicalState) (turnOutcome, bool) {
	switch {
	case it.Cancel:
		return s.handleCancel(ctx, contactID, state), true
	case it.Reschedule:
		return s.handleReschedule(ctx, contactID, state), true
	case it.SlotSelection:
		return s.handleSlotSelection(ctx, contactID, it, state), true
	case it.Deposit && state.DepositPaid:
		return s.handleDepositAlreadyPaid(state), true
	case it.Deposit && state.DepositLinkSent:
		return s.handleDepositResend(state), true
	case it.InterpreterYes:
		return s.handleInterpreterConfirm(ctx, contactID, it, state), true
	case it.MoreTimes && state.TimesSent:
		return s.handleScheduling(ctx, contactID, state), true
	case it.Scheduling:
		return s.handleScheduling(ctx, contactID, state), true
	}
	return turnOutcome{}, false
}

func (s *Service) generate(ctx context.Context, contactID string, state leadstate.CanonicalState, changed fieldstore.Fields, message string) turnOutcome {
	if s.reply == nil {
		return turnOutcome{bubbles: []string{
			"Thanks for the message! One of our team will get right back to you.",
		}}
	}
	phase := leadstate.DerivePhase(state)
	if len(changed) > 0 {
		s.logger.Debug("generative grounding", "contact_id", contactID, "changed", leadstate.ChangedKeys(changed))
	}
	reply, err := s.reply.Generate(ctx, state, phase, changed, message)
	if err != nil {
		s.logger.Error("generative reply failed", "contact_id", contactID, "error", err)
		return turnOutcome{bubbles: []string{
			"Thanks for the message! One of our team will get right back to you.",
		}}
	}
	updates := fieldstore.Fields{}
	for key, value := range reply.FieldUpdates {
		canonical := fieldstore.CanonicalKey(key, nil)
		if !fieldstore.KnownKey(canonical) {
			s.logger.Debug("dropping unknown model field", "contact_id", contactID, "key", key)
			continue
		}
		updates[canonical] = value
	}
	return turnOutcome{bubbles: reply.Bubbles, updates: updates}
}

// reconcileStage is auxiliary: a pipeline failure is logged, never
// surfaced into the turn.
func (s *Service) reconcileStage(ctx context.Context, contactID string, state leadstate.CanonicalState) {
	if s.stages == nil {
		return
	}
	stage, moved, err := s.stages.Reconcile(ctx, contactID, state.OpportunityID, pipeline.ContextFromState(state))
	if err != nil {
		s.logger.Warn("pipeline reconcile failed", "contact_id", contactID, "error", err)
		return
	}
	if moved {
		if lerr := s.log.Append(ctx, contactID, events.KindStageMoved, map[string]any{
			"stage": string(stage),
		}); lerr != nil {
			s.logger.Warn("event log append failed", "contact_id", contactID, "error", lerr)
		}
		return
	}
	if stage != "" {
		s.logger.Debug("pipeline stage settled", "contact_id", contactID, "stage", string(stage))
	}
}

// EvaluateHoldState is the idempotent expiry tick, exposed for both the
// periodic sweeper and ad-hoc calls.
func (s *Service) EvaluateHoldState(ctx context.Context, contactID string) (holds.Transition, error) {
	if s.holds == nil {
		return "", nil
	}
	fields, err := s.fields.Load(ctx, contactID)
	if err != nil {
		return "", fmt.Errorf("engine: load contact %s: %w", contactID, err)
	}
	state := leadstate.Build(fields)
	return s.holds.Evaluate(ctx, contactID, state)
}

// HandlePaymentConfirmed promotes a live hold after the deposit clears
// and records the paid flag.
func (s *Service) HandlePaymentConfirmed(ctx context.Context, contactID, paymentID string) error {
	fields, err := s.fields.Load(ctx, contactID)
	if err != nil {
		return fmt.Errorf("engine: load contact %s: %w", contactID, err)
	}
	state := leadstate.Build(fields)

	updates := fieldstore.Fields{fieldstore.KeyDepositPaid: "true"}
	if paymentID != "" {
		updates[fieldstore.KeyDepositPaymentID] = paymentID
	}
	if err := s.fields.Apply(ctx, contactID, updates); err != nil {
		return fmt.Errorf("engine: record deposit for %s: %w", contactID, err)
	}

	if s.holds != nil && state.HasLiveHold() {
		if err := s.holds.Promote(ctx, contactID, state); err != nil {
			return fmt.Errorf("engine: promote hold for %s: %w", contactID, err)
		}
		bubble := "Deposit received, you're locked in! We'll see you at your consultation."
		if serr := s.messenger.SendMessage(ctx, contactID, bubble, s.opts.DefaultChannel); serr != nil {
			s.logger.Warn("confirmation send failed", "contact_id", contactID, "error", serr)
		}
	}

	state.DepositPaid = true
	if s.notifier != nil {
		if nerr := s.notifier.DepositReceived(ctx, contactID, state, s.opts.DepositCents, paymentID); nerr != nil {
			s.logger.Warn("staff alert failed", "contact_id", contactID, "error", nerr)
		}
	}
	s.reconcileStage(ctx, contactID, state)
	return nil
}

func mergeUpdates(base, extra fieldstore.Fields) fieldstore.Fields {
	if len(base) == 0 {
		return extra
	}
	merged := base.Clone()
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func mergedCopy(fields, updates fieldstore.Fields) fieldstore.Fields {
	merged := fields.Clone()
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}
