package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/internal/observability/metrics"
	"github.com/inkflow-ai/studio-platform/internal/payments"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Typed booking outcomes. Callers branch on these; the distinction between
// "slot taken" and a config problem is part of the contract.
var (
	ErrSlotTaken     = errors.New("scheduling: slot no longer available")
	ErrNoInterpreter = errors.New("scheduling: no interpreter available for slot")
	ErrConfig        = errors.New("scheduling: engine misconfigured")
)

// CalendarAPI is the calendar surface the engine consumes.
type CalendarAPI interface {
	GetFreeSlots(ctx context.Context, calendarID string, start, end time.Time) ([]highlevel.FreeSlot, error)
	CreateAppointment(ctx context.Context, req highlevel.CreateAppointmentRequest) (*highlevel.Appointment, error)
	ListAppointments(ctx context.Context, calendarID string, from, to time.Time) ([]highlevel.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID, status string) error
}

// Options tunes the engine.
type Options struct {
	// RangeCapDays is the calendar API's maximum free-slot span; longer
	// windows are chunked into requests of at most this length.
	RangeCapDays int
	// SlotsPerReply caps how many options one reply offers.
	SlotsPerReply int
	// WorkloadWindow is "day" or "week", the fairness scoring span.
	WorkloadWindow string
	// ConsultDuration is the appointment length.
	ConsultDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.RangeCapDays <= 0 {
		o.RangeCapDays = 31
	}
	if o.SlotsPerReply <= 0 {
		o.SlotsPerReply = 3
	}
	if o.WorkloadWindow != "week" {
		o.WorkloadWindow = "day"
	}
	if o.ConsultDuration <= 0 {
		o.ConsultDuration = 30 * time.Minute
	}
	return o
}

// Engine computes offerable slots and assigns artist/interpreter pairings.
type Engine struct {
	api      CalendarAPI
	roster   Roster
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.EngineMetrics
	refunder payments.Refunder
	now      func() time.Time
}

func NewEngine(api CalendarAPI, roster Roster, opts Options, logger *logging.Logger, m *metrics.EngineMetrics) (*Engine, error) {
	if api == nil {
		return nil, errors.New("scheduling: calendar api cannot be nil")
	}
	if len(roster.Artists) == 0 {
		return nil, ErrConfig
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		api:     api,
		roster:  roster,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}, nil
}

// AvailabilityRequest describes the window a lead asked about.
type AvailabilityRequest struct {
	From            time.Time
	To              time.Time
	NeedInterpreter bool
	ArtistPref      string
}

// Offer is one presentable slot with every calendar free at that moment.
type Offer struct {
	Start        time.Time
	End          time.Time
	Display      string
	Artists      []Calendar
	Interpreters []Calendar
}

// calendarSlots is the result of one calendar's availability fan-out leg.
type calendarSlots struct {
	calendar Calendar
	slots    []highlevel.FreeSlot
}

// FindOfferableSlots fans out one free-slot query per candidate calendar,
// then merges. Without an interpreter requirement the offerable set is the
// union of artist slots; with one, a slot qualifies only when some artist
// and some interpreter are simultaneously free.
func (e *Engine) FindOfferableSlots(ctx context.Context, req AvailabilityRequest) ([]Offer, error) {
	started := e.now()
	artists := e.candidateArtists(req.ArtistPref)

	artistAvail := e.fetchGroup(ctx, artists, req.From, req.To)
	byStart := make(map[time.Time]*Offer)
	for _, leg := range artistAvail {
		for _, slot := range leg.slots {
			key := slot.Start.UTC()
			offer, ok := byStart[key]
			if !ok {
				offer = &Offer{Start: slot.Start, End: slot.End, Display: FormatSlot(slot.Start)}
				byStart[key] = offer
			}
			offer.Artists = append(offer.Artists, leg.calendar)
		}
	}

	if req.NeedInterpreter {
		interpAvail := e.fetchGroup(ctx, e.roster.Interpreters, req.From, req.To)
		free := make(map[time.Time][]Calendar)
		for _, leg := range interpAvail {
			for _, slot := range leg.slots {
				key := slot.Start.UTC()
				free[key] = append(free[key], leg.calendar)
			}
		}
		for key, offer := range byStart {
			interpreters, ok := free[key]
			if !ok {
				delete(byStart, key)
				continue
			}
			offer.Interpreters = interpreters
		}
	}

	offers := make([]Offer, 0, len(byStart))
	for _, offer := range byStart {
		offers = append(offers, *offer)
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].Start.Before(offers[j].Start) })
	offers = spreadAcrossDays(offers, e.opts.SlotsPerReply)

	e.metrics.ObserveAssignmentLatency(e.now().Sub(started).Seconds())
	return offers, nil
}

func (e *Engine) candidateArtists(preference string) []Calendar {
	if cal, ok := e.roster.FindArtist(preference); ok {
		return []Calendar{cal}
	}
	return e.roster.Artists
}

// fetchGroup queries each calendar concurrently, chunking ranges to the API
// cap. A failed calendar contributes an empty slot list, never an error:
// availability degrades, it does not hard-fail.
func (e *Engine) fetchGroup(ctx context.Context, group []Calendar, from, to time.Time) []calendarSlots {
	results := make([]calendarSlots, len(group))
	var wg sync.WaitGroup
	for i, cal := range group {
		wg.Add(1)
		go func(i int, cal Calendar) {
			defer wg.Done()
			slots, err := e.fetchChunked(ctx, cal.CalendarID, from, to)
			if err != nil {
				e.logger.Warn("free-slot query failed, treating calendar as empty",
					"calendar", cal.Name, "error", err)
				slots = nil
			}
			results[i] = calendarSlots{calendar: cal, slots: slots}
		}(i, cal)
	}
	wg.Wait()
	return results
}

// fetchChunked splits [from, to) into spans the calendar API accepts.
func (e *Engine) fetchChunked(ctx context.Context, calendarID string, from, to time.Time) ([]highlevel.FreeSlot, error) {
	span := time.Duration(e.opts.RangeCapDays) * 24 * time.Hour
	var all []highlevel.FreeSlot
	for chunkStart := from; chunkStart.Before(to); chunkStart = chunkStart.Add(span) {
		chunkEnd := chunkStart.Add(span)
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		slots, err := e.api.GetFreeSlots(ctx, calendarID, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		all = append(all, slots...)
	}
	return all, nil
}

// spreadAcrossDays keeps at most limit offers, preferring one per distinct
// day before doubling up, so a reply is not three times on the same morning.
func spreadAcrossDays(offers []Offer, limit int) []Offer {
	if len(offers) <= limit {
		return offers
	}
	picked := make([]Offer, 0, limit)
	seenDay := make(map[string]bool)
	for _, offer := range offers {
		day := offer.Start.Format("2006-01-02")
		if !seenDay[day] {
			seenDay[day] = true
			picked = append(picked, offer)
			if len(picked) == limit {
				return picked
			}
		}
	}
	for _, offer := range offers {
		if len(picked) == limit {
			break
		}
		if !containsStart(picked, offer.Start) {
			picked = append(picked, offer)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].Start.Before(picked[j].Start) })
	return picked
}

func containsStart(offers []Offer, start time.Time) bool {
	for _, o := range offers {
		if o.Start.Equal(start) {
			return true
		}
	}
	return false
}

// FormatSlot renders a slot the way replies present it.
func FormatSlot(t time.Time) string {
	return t.Format("Mon Jan 2 at 3:04 PM")
}
