package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/payments"
)

type fakeCalendarAPI struct {
	mu           sync.Mutex
	freeSlots    map[string][]highlevel.FreeSlot // calendarID -> slots
	slotErrs     map[string]error
	appointments map[string][]highlevel.Appointment
	listErrs     map[string]error
	created      []highlevel.CreateAppointmentRequest
	createErr    error
	slotCalls    []string // "calendarID start end" per GetFreeSlots call
	statusSet    []string // "appointmentID status" per UpdateAppointmentStatus call
	statusErr    error
}

func (f *fakeCalendarAPI) GetFreeSlots(_ context.Context, calendarID string, start, end time.Time) ([]highlevel.FreeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotCalls = append(f.slotCalls, fmt.Sprintf("%s %s %s", calendarID, start.Format(time.RFC3339), end.Format(time.RFC3339)))
	if err := f.slotErrs[calendarID]; err != nil {
		return nil, err
	}
	var in []highlevel.FreeSlot
	for _, slot := range f.freeSlots[calendarID] {
		if !slot.Start.Before(start) && slot.Start.Before(end) {
			in = append(in, slot)
		}
	}
	return in, nil
}

func (f *fakeCalendarAPI) CreateAppointment(_ context.Context, req highlevel.CreateAppointmentRequest) (*highlevel.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &highlevel.Appointment{
		ID:         fmt.Sprintf("apt-%d", len(f.created)),
		CalendarID: req.CalendarID,
		ContactID:  req.ContactID,
		Notes:      req.Notes,
		Start:      req.Start,
		End:        req.End,
		Status:     req.Status,
	}, nil
}

func (f *fakeCalendarAPI) ListAppointments(_ context.Context, calendarID string, _, _ time.Time) ([]highlevel.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErrs[calendarID]; err != nil {
		return nil, err
	}
	return f.appointments[calendarID], nil
}

func (f *fakeCalendarAPI) UpdateAppointmentStatus(_ context.Context, appointmentID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusSet = append(f.statusSet, fmt.Sprintf("%s %s", appointmentID, status))
	return nil
}

type fakeRefunder struct {
	mu    sync.Mutex
	calls []payments.RefundRequest
	err   error
}

func (f *fakeRefunder) RefundPayment(_ context.Context, req payments.RefundRequest) (*payments.RefundResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payments.RefundResponse{RefundID: "rf-1", Status: "PENDING"}, nil
}

var testRoster = Roster{
	Artists: []Calendar{
		{Name: "Mara", CalendarID: "cal-mara"},
		{Name: "Jonas", CalendarID: "cal-jonas"},
	},
	Interpreters: []Calendar{
		{Name: "Sofia", CalendarID: "cal-sofia"},
	},
}

func slotAt(t time.Time) highlevel.FreeSlot {
	return highlevel.FreeSlot{Start: t, End: t.Add(30 * time.Minute)}
}

func newTestEngine(t *testing.T, api *fakeCalendarAPI) *Engine {
	t.Helper()
	engine, err := NewEngine(api, testRoster, Options{RangeCapDays: 7, SlotsPerReply: 3}, nil, nil)
	require.NoError(t, err)
	return engine
}

func TestFindOfferableSlotsUnion(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	api := &fakeCalendarAPI{freeSlots: map[string][]highlevel.FreeSlot{
		"cal-mara":  {slotAt(base)},
		"cal-jonas": {slotAt(base.AddDate(0, 0, 1))},
	}}
	engine := newTestEngine(t, api)

	offers, err := engine.FindOfferableSlots(context.Background(), AvailabilityRequest{
		From: base.AddDate(0, 0, -1), To: base.AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, []Calendar{{Name: "Mara", CalendarID: "cal-mara"}}, offers[0].Artists)
	assert.Equal(t, "Mon Mar 2 at 10:00 AM", offers[0].Display)
}

func TestFindOfferableSlotsInterpreterIntersection(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	withInterpreter := base.AddDate(0, 0, 1)
	api := &fakeCalendarAPI{freeSlots: map[string][]highlevel.FreeSlot{
		"cal-mara":  {slotAt(base), slotAt(withInterpreter)},
		"cal-sofia": {slotAt(withInterpreter)},
	}}
	engine := newTestEngine(t, api)

	offers, err := engine.FindOfferableSlots(context.Background(), AvailabilityRequest{
		From: base.AddDate(0, 0, -1), To: base.AddDate(0, 0, 5), NeedInterpreter: true,
	})
	require.NoError(t, err)
	require.Len(t, offers, 1, "only the slot where an interpreter is also free qualifies")
	assert.True(t, offers[0].Start.Equal(withInterpreter))
	assert.Equal(t, "Sofia", offers[0].Interpreters[0].Name)
}

func TestFindOfferableSlotsChunksLongRanges(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeCalendarAPI{freeSlots: map[string][]highlevel.FreeSlot{}}
	engine := newTestEngine(t, api) // 7-day cap

	_, err := engine.FindOfferableSlots(context.Background(), AvailabilityRequest{
		From: from, To: from.AddDate(0, 0, 20), ArtistPref: "Mara",
	})
	require.NoError(t, err)
	require.Len(t, api.slotCalls, 3, "20 days at a 7-day cap needs 3 requests")
	for _, call := range api.slotCalls {
		assert.True(t, strings.HasPrefix(call, "cal-mara "))
	}
}

func TestFindOfferableSlotsFailedCalendarDegrades(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	api := &fakeCalendarAPI{
		freeSlots: map[string][]highlevel.FreeSlot{"cal-jonas": {slotAt(base)}},
		slotErrs:  map[string]error{"cal-mara": errors.New("calendar api down")},
	}
	engine := newTestEngine(t, api)

	offers, err := engine.FindOfferableSlots(context.Background(), AvailabilityRequest{
		From: base.AddDate(0, 0, -1), To: base.AddDate(0, 0, 2),
	})
	require.NoError(t, err, "one broken calendar must not fail availability")
	require.Len(t, offers, 1)
	assert.Equal(t, "Jonas", offers[0].Artists[0].Name)
}

func TestSpreadAcrossDaysPrefersDistinctDays(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	offers := []Offer{
		{Start: day1}, {Start: day1.Add(time.Hour)}, {Start: day1.Add(2 * time.Hour)},
		{Start: day2},
	}

	picked := spreadAcrossDays(offers, 2)
	require.Len(t, picked, 2)
	assert.True(t, picked[0].Start.Equal(day1))
	assert.True(t, picked[1].Start.Equal(day2))
}
