package calendarsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/scheduling"
)

type fakeSyncAPI struct {
	mu          sync.Mutex
	appointment *highlevel.Appointment
	getErr      error
	byCalendar  map[string][]highlevel.Appointment
	listErr     map[string]error
	cancelled   []string
	cancelErr   map[string]error
	rescheduled map[string]time.Time
}

func (f *fakeSyncAPI) GetAppointment(_ context.Context, _ string) (*highlevel.Appointment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.appointment, nil
}

func (f *fakeSyncAPI) ListAppointments(_ context.Context, calendarID string, _, _ time.Time) ([]highlevel.Appointment, error) {
	if err := f.listErr[calendarID]; err != nil {
		return nil, err
	}
	return f.byCalendar[calendarID], nil
}

func (f *fakeSyncAPI) UpdateAppointmentStatus(_ context.Context, appointmentID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr[appointmentID]; err != nil {
		return err
	}
	if status == highlevel.StatusCancelled {
		f.cancelled = append(f.cancelled, appointmentID)
	}
	return nil
}

func (f *fakeSyncAPI) RescheduleAppointment(_ context.Context, appointmentID string, start, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rescheduled == nil {
		f.rescheduled = map[string]time.Time{}
	}
	f.rescheduled[appointmentID] = start
	return nil
}

var syncRoster = scheduling.Roster{
	Artists: []scheduling.Calendar{
		{Name: "Mara", CalendarID: "cal-mara"},
		{Name: "Jonas", CalendarID: "cal-jonas"},
	},
	Interpreters: []scheduling.Calendar{
		{Name: "Sofia", CalendarID: "cal-sofia"},
	},
}

var syncStart = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

func TestRoleOf(t *testing.T) {
	s := NewSyncer(&fakeSyncAPI{}, syncRoster, nil, nil)

	role, siblings := s.RoleOf("cal-mara")
	assert.Equal(t, RoleArtist, role)
	require.Len(t, siblings, 1)
	assert.Equal(t, "cal-sofia", siblings[0].CalendarID)

	role, siblings = s.RoleOf("cal-sofia")
	assert.Equal(t, RoleInterpreter, role)
	assert.Len(t, siblings, 2)

	role, _ = s.RoleOf("cal-stranger")
	assert.Equal(t, RoleUnknown, role)
}

func TestPropagateCancelsPairedSibling(t *testing.T) {
	key := scheduling.NewPairingKey()
	api := &fakeSyncAPI{
		appointment: &highlevel.Appointment{ID: "apt-artist", Notes: "consult " + key, Start: syncStart},
		byCalendar: map[string][]highlevel.Appointment{
			"cal-sofia": {
				{ID: "apt-interp", CalendarID: "cal-sofia", Notes: key, Start: syncStart},
				{ID: "apt-other", CalendarID: "cal-sofia", Start: syncStart},
			},
		},
	}
	s := NewSyncer(api, syncRoster, nil, nil)

	results, err := s.Propagate(context.Background(), Event{
		ContactID:     "c-1",
		AppointmentID: "apt-artist",
		CalendarID:    "cal-mara",
		Start:         syncStart,
		Status:        highlevel.StatusCancelled,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []string{"apt-interp"}, api.cancelled, "only the keyed sibling is cancelled")
}

func TestPropagateFallsBackToStartTimeMatch(t *testing.T) {
	api := &fakeSyncAPI{
		appointment: &highlevel.Appointment{ID: "apt-artist", Notes: "no key here", Start: syncStart},
		byCalendar: map[string][]highlevel.Appointment{
			"cal-sofia": {
				{ID: "apt-interp", CalendarID: "cal-sofia", ContactID: "c-1", Start: syncStart},
				{ID: "apt-wrong-time", CalendarID: "cal-sofia", ContactID: "c-1", Start: syncStart.Add(time.Hour)},
				{ID: "apt-wrong-contact", CalendarID: "cal-sofia", ContactID: "c-2", Start: syncStart},
				{ID: "apt-cancelled", CalendarID: "cal-sofia", ContactID: "c-1", Start: syncStart, Status: highlevel.StatusCancelled},
			},
		},
	}
	s := NewSyncer(api, syncRoster, nil, nil)

	results, err := s.Propagate(context.Background(), Event{
		ContactID:     "c-1",
		AppointmentID: "apt-artist",
		CalendarID:    "cal-mara",
		Start:         syncStart,
		Status:        highlevel.StatusCancelled,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"apt-interp"}, api.cancelled)
}

func TestPropagateRescheduleIsIdempotent(t *testing.T) {
	key := scheduling.NewPairingKey()
	newStart := syncStart.Add(2 * time.Hour)
	api := &fakeSyncAPI{
		appointment: &highlevel.Appointment{ID: "apt-interp", Notes: key, Start: newStart, CalendarID: "cal-sofia"},
		byCalendar: map[string][]highlevel.Appointment{
			"cal-mara": {
				{ID: "apt-moved", CalendarID: "cal-mara", Notes: key, Start: syncStart, End: syncStart.Add(30 * time.Minute)},
			},
			"cal-jonas": {
				{ID: "apt-done", CalendarID: "cal-jonas", Notes: key, Start: newStart, End: newStart.Add(30 * time.Minute)},
			},
		},
	}
	s := NewSyncer(api, syncRoster, nil, nil)

	results, err := s.Propagate(context.Background(), Event{
		ContactID:     "c-1",
		AppointmentID: "apt-interp",
		CalendarID:    "cal-sofia",
		Start:         newStart,
		End:           newStart.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, newStart, api.rescheduled["apt-moved"])
	_, touched := api.rescheduled["apt-done"]
	assert.False(t, touched, "sibling already at the new time is left alone")
}

func TestPropagateCollectsPerSiblingFailures(t *testing.T) {
	key := scheduling.NewPairingKey()
	api := &fakeSyncAPI{
		appointment: &highlevel.Appointment{ID: "apt-interp", Notes: key, Start: syncStart},
		byCalendar: map[string][]highlevel.Appointment{
			"cal-mara":  {{ID: "apt-a", CalendarID: "cal-mara", Notes: key, Start: syncStart}},
			"cal-jonas": {{ID: "apt-b", CalendarID: "cal-jonas", Notes: key, Start: syncStart}},
		},
		cancelErr: map[string]error{"apt-a": errors.New("endpoint down")},
	}
	s := NewSyncer(api, syncRoster, nil, nil)

	results, err := s.Propagate(context.Background(), Event{
		ContactID:     "c-1",
		AppointmentID: "apt-interp",
		CalendarID:    "cal-sofia",
		Start:         syncStart,
		Status:        highlevel.StatusCancelled,
	})
	require.NoError(t, err, "partial failure never escalates")
	require.Len(t, results, 2)

	byID := map[string]SiblingResult{}
	for _, r := range results {
		byID[r.AppointmentID] = r
	}
	assert.Error(t, byID["apt-a"].Err)
	assert.NoError(t, byID["apt-b"].Err)
	assert.Equal(t, []string{"apt-b"}, api.cancelled)
}

func TestPropagateIgnoresUnknownCalendar(t *testing.T) {
	api := &fakeSyncAPI{}
	s := NewSyncer(api, syncRoster, nil, nil)

	results, err := s.Propagate(context.Background(), Event{
		CalendarID: "cal-stranger",
		Status:     highlevel.StatusCancelled,
		Start:      syncStart,
	})
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Empty(t, api.cancelled)
}

func TestPropagateSurvivesOneCalendarListingFailure(t *testing.T) {
	key := scheduling.NewPairingKey()
	api := &fakeSyncAPI{
		appointment: &highlevel.Appointment{ID: "apt-interp", Notes: key, Start: syncStart},
		byCalendar: map[string][]highlevel.Appointment{
			"cal-jonas": {{ID: "apt-b", CalendarID: "cal-jonas", Notes: key, Start: syncStart}},
		},
		listErr: map[string]error{"cal-mara": errors.New("listing down")},
	}
	s := NewSyncer(api, syncRoster, nil, nil)

	results, err := s.Propagate(context.Background(), Event{
		ContactID:     "c-1",
		AppointmentID: "apt-interp",
		CalendarID:    "cal-sofia",
		Start:         syncStart,
		Status:        highlevel.StatusCancelled,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"apt-b"}, api.cancelled)
}
