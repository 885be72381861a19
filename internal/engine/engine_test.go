package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/studio-platform/internal/calendarsync"
	"github.com/inkflow-ai/studio-platform/internal/events"
	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/holds"
	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/internal/llm"
	"github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/internal/pipeline"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
)

var engineTestNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeFieldStore struct {
	fields    fieldstore.Fields
	loadErr   error
	loadPanic bool
	applied   []fieldstore.Fields
}

func (f *fakeFieldStore) Load(_ context.Context, _ string) (fieldstore.Fields, error) {
	if f.loadPanic {
		panic("field store exploded")
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.fields.Clone(), nil
}

func (f *fakeFieldStore) Apply(_ context.Context, _ string, updates fieldstore.Fields) error {
	f.applied = append(f.applied, updates)
	if f.fields == nil {
		f.fields = fieldstore.Fields{}
	}
	for k, v := range updates {
		f.fields[k] = v
	}
	return nil
}

type fakeMessenger struct {
	sent []string
}

func (f *fakeMessenger) SendMessage(_ context.Context, _, text, _ string) error {
	f.sent = append(f.sent, text)
	return nil
}

type fakeScheduler struct {
	offers    []scheduling.Offer
	findErr   error
	booking   *scheduling.Booking
	bookErr   error
	lastBook  *scheduling.BookingRequest
	findCalls int
	cancelled []string
	cancelErr error
}

func (f *fakeScheduler) FindOfferableSlots(_ context.Context, _ scheduling.AvailabilityRequest) ([]scheduling.Offer, error) {
	f.findCalls++
	return f.offers, f.findErr
}

func (f *fakeScheduler) BookSlot(_ context.Context, req scheduling.BookingRequest) (*scheduling.Booking, error) {
	f.lastBook = &req
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return f.booking, nil
}

func (f *fakeScheduler) CancelAppointment(_ context.Context, appointmentID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

type fakeHoldManager struct {
	established *highlevel.Appointment
	touched     int
	promoted    int
	released    int
}

func (f *fakeHoldManager) Establish(_ context.Context, _ string, _ leadstate.CanonicalState, appt *highlevel.Appointment) error {
	f.established = appt
	return nil
}

func (f *fakeHoldManager) Touch(_ context.Context, _ string, _ leadstate.CanonicalState) error {
	f.touched++
	return nil
}

func (f *fakeHoldManager) Evaluate(_ context.Context, _ string, _ leadstate.CanonicalState) (holds.Transition, error) {
	return holds.TransitionNone, nil
}

func (f *fakeHoldManager) Promote(_ context.Context, _ string, _ leadstate.CanonicalState) error {
	f.promoted++
	return nil
}

func (f *fakeHoldManager) Release(_ context.Context, _ string, _ leadstate.CanonicalState) error {
	f.released++
	return nil
}

type fakeStageManager struct {
	calls int
	stage pipeline.Stage
	moved bool
}

func (f *fakeStageManager) Reconcile(_ context.Context, _, _ string, _ pipeline.StageContext) (pipeline.Stage, bool, error) {
	f.calls++
	if f.stage == "" {
		return pipeline.StageDiscovery, f.moved, nil
	}
	return f.stage, f.moved, nil
}

type stubReplyGen struct {
	reply       llm.Reply
	err         error
	lastMsg     string
	lastChanged fieldstore.Fields
	calls       int
}

func (s *stubReplyGen) Generate(_ context.Context, _ leadstate.CanonicalState, _ leadstate.Phase, changed fieldstore.Fields, message string) (llm.Reply, error) {
	s.calls++
	s.lastMsg = message
	s.lastChanged = changed
	return s.reply, s.err
}

type fakeCoalescer struct {
	combined string
	leader   bool
	err      error
}

func (f *fakeCoalescer) Coalesce(_ context.Context, _, message string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if f.combined == "" {
		return message, f.leader, nil
	}
	return f.combined, f.leader, nil
}

type fakeNotifier struct {
	flagged  []string
	deposits []string
}

func (f *fakeNotifier) BookingFlagged(_ context.Context, contactID, reason string, _ leadstate.CanonicalState) error {
	f.flagged = append(f.flagged, contactID+": "+reason)
	return nil
}

func (f *fakeNotifier) DepositReceived(_ context.Context, contactID string, _ leadstate.CanonicalState, _ int32, _ string) error {
	f.deposits = append(f.deposits, contactID)
	return nil
}

type testHarness struct {
	fields    *fakeFieldStore
	messenger *fakeMessenger
	scheduler *fakeScheduler
	holds     *fakeHoldManager
	stages    *fakeStageManager
	reply     *stubReplyGen
	svc       *Service
}

func newHarness(fields fieldstore.Fields) *testHarness {
	h := &testHarness{
		fields:    &fakeFieldStore{fields: fields},
		messenger: &fakeMessenger{},
		scheduler: &fakeScheduler{offers: defaultOffers()},
		holds:     &fakeHoldManager{},
		stages:    &fakeStageManager{},
		reply:     &stubReplyGen{reply: llm.Reply{Bubbles: []string{"generated answer"}}},
	}
	h.svc = NewService(h.fields, h.messenger, h.scheduler, h.holds, h.stages, h.reply, nil, nil, Options{}, nil, nil)
	h.svc.now = func() time.Time { return engineTestNow }
	return h
}

func defaultOffers() []scheduling.Offer {
	mara := scheduling.Calendar{Name: "Mara", CalendarID: "cal-mara"}
	jonas := scheduling.Calendar{Name: "Jonas", CalendarID: "cal-jonas"}
	start1 := engineTestNow.Add(26 * time.Hour)
	start2 := engineTestNow.Add(50 * time.Hour)
	return []scheduling.Offer{
		{Start: start1, End: start1.Add(30 * time.Minute), Display: scheduling.FormatSlot(start1), Artists: []scheduling.Calendar{mara}},
		{Start: start2, End: start2.Add(30 * time.Minute), Display: scheduling.FormatSlot(start2), Artists: []scheduling.Calendar{jonas}},
	}
}

func TestMultiIntentCompositionLocksChoiceAndOffersTimes(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyLanguagePref: "Spanish",
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1",
		"Video call this week, what times are you available?")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	assert.Contains(t, result.Routing.Intents, "scheduling")
	assert.Contains(t, result.Routing.Intents, "consult_choice")

	assert.Equal(t, "appointment", result.FieldUpdates.Get(fieldstore.KeyConsultType))
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyConsultTypeLocked))
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyInterpreterNeeded))

	joined := strings.Join(result.Bubbles, "\n")
	assert.Contains(t, joined, "1.")
	assert.Contains(t, joined, "2.")
	assert.Contains(t, joined, "Which one works")
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyTimesSent))
	// The consult-path explanation must not own the turn.
	assert.NotContains(t, joined, "live consultation so you can talk")
	assert.Zero(t, h.reply.calls)
}

func TestDepositRequestAfterPaymentHasNoLink(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyDepositPaid:    "true",
		fieldstore.KeyDepositLinkURL: "https://pay.example.com/d/abc",
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1",
		"can you send the deposit link again?")
	require.NoError(t, err)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	for _, bubble := range result.Bubbles {
		assert.NotContains(t, bubble, "http")
	}
	assert.Zero(t, h.reply.calls)
}

func TestDepositResendBeforePaymentRepeatsLink(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyDepositLinkSent: "true",
		fieldstore.KeyDepositLinkURL:  "https://pay.example.com/d/abc",
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "resend the link please")
	require.NoError(t, err)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "https://pay.example.com/d/abc")
}

func TestCancelReleasesHoldDeterministically(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  "appt-9",
		fieldstore.KeyHoldCalendarID:     "cal-mara",
		fieldstore.KeyHoldLastActivityAt: engineTestNow.Add(-2 * time.Minute).Format(time.RFC3339),
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "I need to cancel")
	require.NoError(t, err)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	assert.Equal(t, 1, h.holds.released)
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyLeadLost))
	assert.Zero(t, h.reply.calls)
}

func TestCancelOfBookedAppointmentCancelsOnCalendar(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyBookedAppointmentID: "appt-42",
		fieldstore.KeyDepositPaid:         "true",
	})
	notifier := &fakeNotifier{}
	h.svc.WithNotifier(notifier)

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "I need to cancel my appointment")
	require.NoError(t, err)

	assert.Equal(t, []string{"appt-42"}, h.scheduler.cancelled)
	assert.Equal(t, "", result.FieldUpdates.Get(fieldstore.KeyBookedAppointmentID))
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyLeadLost))
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "appointment is cancelled")
	require.Len(t, notifier.flagged, 1)
}

func TestCancelOfBookedAppointmentFailureFallsBackToStaff(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyBookedAppointmentID: "appt-42",
	})
	h.scheduler.cancelErr = errors.New("calendar API down")

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "please cancel my appointment")
	require.NoError(t, err)

	assert.Empty(t, h.scheduler.cancelled)
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "let the team know")
}

func TestRescheduleOfBookedAppointmentCancelsBeforeReoffering(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyBookedAppointmentID: "appt-42",
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "can we reschedule my appointment?")
	require.NoError(t, err)

	assert.Equal(t, []string{"appt-42"}, h.scheduler.cancelled)
	assert.Equal(t, "", result.FieldUpdates.Get(fieldstore.KeyBookedAppointmentID))
	joined := strings.Join(result.Bubbles, "\n")
	assert.Contains(t, joined, "better time")
	assert.Contains(t, joined, "1.")
}

func TestRescheduleCancelFailureDoesNotReoffer(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyBookedAppointmentID: "appt-42",
	})
	h.scheduler.cancelErr = errors.New("calendar API down")
	notifier := &fakeNotifier{}
	h.svc.WithNotifier(notifier)

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "can we reschedule?")
	require.NoError(t, err)

	assert.Equal(t, 0, h.scheduler.findCalls, "no new times while the old booking stands")
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "flagged it")
	require.Len(t, notifier.flagged, 1)
}

func TestRescheduleReleasesHoldAndReoffers(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  "appt-9",
		fieldstore.KeyHoldCalendarID:     "cal-mara",
		fieldstore.KeyHoldLastActivityAt: engineTestNow.Add(-2 * time.Minute).Format(time.RFC3339),
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1",
		"can we move my appointment to another day?")
	require.NoError(t, err)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	assert.Equal(t, 1, h.holds.released)
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyTimesSent))
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "1.")
	assert.Zero(t, h.reply.calls)
}

func TestSlotSelectionBooksAndEstablishesHold(t *testing.T) {
	offers := defaultOffers()
	sent := []leadstate.SentSlot{
		{Index: 1, Display: offers[0].Display, Start: offers[0].Start, End: offers[0].End, CalendarID: "cal-mara", Artist: "Mara"},
		{Index: 2, Display: offers[1].Display, Start: offers[1].Start, End: offers[1].End, CalendarID: "cal-jonas", Artist: "Jonas"},
	}
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyTimesSent:     "true",
		fieldstore.KeyLastSentSlots: leadstate.EncodeSlots(sent),
	})
	h.scheduler.booking = &scheduling.Booking{
		Artist:      scheduling.Calendar{Name: "Jonas", CalendarID: "cal-jonas"},
		Appointment: &highlevel.Appointment{ID: "appt-new", CalendarID: "cal-jonas"},
	}

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "option 2 please")
	require.NoError(t, err)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	require.NotNil(t, h.scheduler.lastBook)
	assert.True(t, h.scheduler.lastBook.Start.Equal(offers[1].Start))
	require.NotNil(t, h.holds.established)
	assert.Equal(t, "appt-new", h.holds.established.ID)
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "Jonas")
	assert.Equal(t, "false", result.FieldUpdates.Get(fieldstore.KeyTimesSent))
}

func TestSlotRaceFallsBackToFreshOffers(t *testing.T) {
	sent := []leadstate.SentSlot{
		{Index: 1, Display: "Tue Mar 3 at 2:00 PM", Start: engineTestNow.Add(26 * time.Hour), CalendarID: "cal-mara", Artist: "Mara"},
	}
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyTimesSent:     "true",
		fieldstore.KeyLastSentSlots: leadstate.EncodeSlots(sent),
	})
	h.scheduler.bookErr = scheduling.ErrSlotTaken

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "1")
	require.NoError(t, err)

	joined := strings.Join(result.Bubbles, "\n")
	assert.Contains(t, joined, "just got taken")
	assert.Contains(t, joined, "1.")
	assert.Equal(t, 1, h.scheduler.findCalls)
}

func TestStageMoveAppendsEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := newHarness(fieldstore.Fields{})
	h.svc.log = events.NewStore(mock)
	h.stages.stage = pipeline.StageQualified
	h.stages.moved = true

	mock.ExpectExec("INSERT INTO engine_events").
		WithArgs(pgxmock.AnyArg(), "c-1", events.KindStageMoved, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO engine_events").
		WithArgs(pgxmock.AnyArg(), "c-1", events.KindTurnHandled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err = h.svc.HandleInboundMessage(context.Background(), "c-1", "do you do cover-ups?")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRaceWithCapturedDepositLogsRefund(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sent := []leadstate.SentSlot{
		{Index: 1, Display: "Tue Mar 3 at 2:00 PM", Start: engineTestNow.Add(26 * time.Hour), CalendarID: "cal-mara", Artist: "Mara"},
	}
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyTimesSent:        "true",
		fieldstore.KeyLastSentSlots:    leadstate.EncodeSlots(sent),
		fieldstore.KeyDepositPaid:      "true",
		fieldstore.KeyDepositPaymentID: "pay-4",
	})
	h.svc.log = events.NewStore(mock)
	h.scheduler.bookErr = scheduling.ErrSlotTaken

	mock.ExpectExec("INSERT INTO engine_events").
		WithArgs(pgxmock.AnyArg(), "c-1", events.KindDepositRefunded, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO engine_events").
		WithArgs(pgxmock.AnyArg(), "c-1", events.KindTurnHandled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "1")
	require.NoError(t, err)
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "just got taken")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInboundMessageTouchesLiveHold(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  "appt-9",
		fieldstore.KeyHoldLastActivityAt: engineTestNow.Add(-5 * time.Minute).Format(time.RFC3339),
	})

	_, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "quick question about aftercare")
	require.NoError(t, err)
	assert.Equal(t, 1, h.holds.touched)
	assert.Zero(t, h.holds.promoted)
}

func TestPaidDepositPromotesHoldBeforeRouting(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  "appt-9",
		fieldstore.KeyHoldLastActivityAt: engineTestNow.Add(-5 * time.Minute).Format(time.RFC3339),
		fieldstore.KeyDepositPaid:        "true",
	})

	_, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "see you there!")
	require.NoError(t, err)
	assert.Equal(t, 1, h.holds.promoted)
	assert.Zero(t, h.holds.touched)
}

func TestDebounceLoserSkips(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	h.svc.debouncer = &fakeCoalescer{leader: false}

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "part one")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, result.Bubbles)
	assert.Empty(t, h.messenger.sent)
}

func TestDebounceLoserCountsCoalesced(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	reg := prometheus.NewRegistry()
	h.svc.metrics = metrics.NewEngineMetrics(reg)
	h.svc.debouncer = &fakeCoalescer{leader: false}

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "part one")
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	families, err := reg.Gather()
	require.NoError(t, err)
	var value float64
	for _, fam := range families {
		if fam.GetName() == "studio_engine_debounce_coalesced_total" {
			require.Len(t, fam.GetMetric(), 1)
			value = fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, value)
}

func TestDebounceLeaderSeesCoalescedText(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	h.svc.debouncer = &fakeCoalescer{leader: true, combined: "part one part two"}

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "part two")
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, "part one part two", h.reply.lastMsg)
}

func TestPanicDegradesToGenericError(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	h.fields.loadPanic = true

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "hello")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.NotContains(t, err.Error(), "exploded")
	assert.Empty(t, h.messenger.sent)
}

func TestGenerativeFallbackCanonicalizesUpdates(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	h.reply.reply = llm.Reply{
		Bubbles: []string{"Love that idea!", "Where on your body are you thinking?"},
		FieldUpdates: map[string]string{
			"Tattoo Summary": "phoenix on forearm",
			"made_up_field":  "ignored",
		},
	}

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1",
		"I want a phoenix tattoo on my forearm")
	require.NoError(t, err)

	assert.Equal(t, HandlerAI, result.Routing.SelectedHandler)
	assert.Equal(t, "phoenix on forearm", result.FieldUpdates.Get(fieldstore.KeySummary))
	assert.Empty(t, result.FieldUpdates.Get("made_up_field"))
	assert.Equal(t, h.messenger.sent, result.Bubbles)
}

func TestGenerativeHandlerSeesFieldDiff(t *testing.T) {
	// The stored baseline predates the deposit landing, so the diff
	// handed to the generator must carry exactly that change.
	baseline := leadstate.EncodeSnapshot(fieldstore.Fields{
		fieldstore.KeyPlacement: "forearm",
	})
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyPlacement:        "forearm",
		fieldstore.KeyDepositPaid:      "true",
		fieldstore.KeyLastSeenSnapshot: baseline,
	})

	_, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "sounds good")
	require.NoError(t, err)

	require.Equal(t, 1, h.reply.calls)
	assert.Equal(t, fieldstore.Fields{fieldstore.KeyDepositPaid: "true"}, h.reply.lastChanged)
}

func TestTurnRefreshesDiffBaseline(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyPlacement: "forearm",
	})
	h.reply.reply = llm.Reply{
		Bubbles:      []string{"noted"},
		FieldUpdates: map[string]string{"Tattoo Summary": "phoenix"},
	}

	_, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "a phoenix please")
	require.NoError(t, err)

	snapshot := h.fields.fields.Get(fieldstore.KeyLastSeenSnapshot)
	require.NotEmpty(t, snapshot)
	assert.Contains(t, snapshot, "phoenix")
	assert.NotContains(t, snapshot, fieldstore.KeyLastSeenSnapshot)

	// A second turn with nothing new diffs to empty.
	current := h.fields.fields.Clone()
	delete(current, fieldstore.KeyLastSeenSnapshot)
	assert.Empty(t, leadstate.DiffSince(snapshot, current))
}

func TestGenerativeFailureDegradesToFallbackBubble(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	h.reply.err = errors.New("model unavailable")

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "hi there")
	require.NoError(t, err)
	require.Len(t, result.Bubbles, 1)
	assert.NotContains(t, result.Bubbles[0], "unavailable")
}

func TestInterpreterConfirmRollsIntoSlotOffer(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyLanguagePref: "Spanish",
		fieldstore.KeyConsultType:  "appointment",
	})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1",
		"yes an interpreter would help")
	require.NoError(t, err)

	assert.Equal(t, HandlerDeterministic, result.Routing.SelectedHandler)
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyInterpreterOK))
	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "1.")
}

func TestConsultChoiceAloneOwnsTheTurn(t *testing.T) {
	h := newHarness(fieldstore.Fields{})

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "just text me")
	require.NoError(t, err)

	assert.Equal(t, HandlerConsultPath, result.Routing.SelectedHandler)
	assert.Equal(t, "message", result.FieldUpdates.Get(fieldstore.KeyConsultType))
	assert.Equal(t, "true", result.FieldUpdates.Get(fieldstore.KeyConsultTypeLocked))
	assert.Zero(t, h.scheduler.findCalls)
}

func TestHandlePaymentConfirmedPromotesAndConfirms(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyHoldAppointmentID:  "appt-9",
		fieldstore.KeyHoldLastActivityAt: engineTestNow.Add(-1 * time.Minute).Format(time.RFC3339),
	})

	err := h.svc.HandlePaymentConfirmed(context.Background(), "c-1", "pay-777")
	require.NoError(t, err)

	assert.Equal(t, 1, h.holds.promoted)
	assert.Equal(t, "true", h.fields.fields.Get(fieldstore.KeyDepositPaid))
	assert.Equal(t, "pay-777", h.fields.fields.Get(fieldstore.KeyDepositPaymentID))
	require.NotEmpty(t, h.messenger.sent)
	assert.Contains(t, h.messenger.sent[len(h.messenger.sent)-1], "locked in")
}

func TestBookingFailureAlertsStaff(t *testing.T) {
	sent := []leadstate.SentSlot{
		{Index: 1, Display: "Tue Mar 3 at 2:00 PM", Start: engineTestNow.Add(26 * time.Hour), CalendarID: "cal-mara", Artist: "Mara"},
	}
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyTimesSent:     "true",
		fieldstore.KeyLastSentSlots: leadstate.EncodeSlots(sent),
	})
	h.scheduler.bookErr = errors.New("calendar unreachable")
	notifier := &fakeNotifier{}
	h.svc.WithNotifier(notifier)

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "1")
	require.NoError(t, err)

	assert.Contains(t, strings.Join(result.Bubbles, "\n"), "flagged it for the team")
	require.Len(t, notifier.flagged, 1)
	assert.Contains(t, notifier.flagged[0], "calendar unreachable")
}

func TestPaymentConfirmedAlertsStaff(t *testing.T) {
	h := newHarness(fieldstore.Fields{})
	notifier := &fakeNotifier{}
	h.svc.WithNotifier(notifier)

	require.NoError(t, h.svc.HandlePaymentConfirmed(context.Background(), "c-4", "pay-1"))
	assert.Equal(t, []string{"c-4"}, notifier.deposits)
}

func TestPhaseRecomputedOnMergedState(t *testing.T) {
	h := newHarness(fieldstore.Fields{
		fieldstore.KeyPlacement: "forearm",
		fieldstore.KeySummary:   "phoenix",
		fieldstore.KeySize:      "medium",
	})
	h.reply.reply = llm.Reply{Bubbles: []string{"ok"}}

	result, err := h.svc.HandleInboundMessage(context.Background(), "c-1", "sounds good")
	require.NoError(t, err)
	assert.Equal(t, leadstate.PhaseConsultPath, result.Phase)
}

func TestEnqueueCalendarEventRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)
	ev := calendarsync.Event{
		ContactID:     "c-1",
		AppointmentID: "appt-9",
		CalendarID:    "cal-mara",
		Status:        highlevel.StatusCancelled,
	}
	require.NoError(t, EnqueueCalendarEvent(context.Background(), q, ev))

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, ev.AppointmentID)
	assert.NoError(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
}
