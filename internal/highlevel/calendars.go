package highlevel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Appointment statuses as the CRM stores them.
const (
	StatusNew       = "new"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// FreeSlot is one bookable window on a single calendar.
type FreeSlot struct {
	Start time.Time `json:"startTime"`
	End   time.Time `json:"endTime"`
}

// Appointment is the CRM appointment record slice this engine reads.
type Appointment struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendarId"`
	ContactID  string    `json:"contactId"`
	Title      string    `json:"title"`
	Notes      string    `json:"notes"`
	Start      time.Time `json:"startTime"`
	End        time.Time `json:"endTime"`
	Status     string    `json:"appointmentStatus"`
}

// CreateAppointmentRequest carries the fields for a tentative booking.
type CreateAppointmentRequest struct {
	CalendarID string
	ContactID  string
	Title      string
	Notes      string
	Start      time.Time
	End        time.Time
	Status     string // usually StatusNew for a hold
}

// maxSlotRangeDays is the longest span the CRM free-slot endpoint accepts.
// Callers wanting a longer window must chunk requests.
const maxSlotRangeDays = 31

// GetFreeSlots lists bookable windows on one calendar. The CRM rejects
// ranges longer than its cap, so oversized ranges fail fast here instead of
// with an opaque 422.
func (c *Client) GetFreeSlots(ctx context.Context, calendarID string, start, end time.Time) ([]FreeSlot, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("highlevel: free-slot range ends before it starts")
	}
	if end.Sub(start) > maxSlotRangeDays*24*time.Hour {
		return nil, fmt.Errorf("highlevel: free-slot range exceeds %d days; chunk the request", maxSlotRangeDays)
	}

	query := url.Values{}
	query.Set("startDate", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("endDate", strconv.FormatInt(end.UnixMilli(), 10))
	reqURL := fmt.Sprintf("%s/calendars/%s/free-slots?%s", c.baseURL, calendarID, query.Encode())

	var envelope struct {
		Slots []FreeSlot `json:"slots"`
	}
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Slots, nil
}

// CreateAppointment books a calendar slot and returns the created record.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	status := req.Status
	if status == "" {
		status = StatusNew
	}
	body := map[string]any{
		"calendarId":        req.CalendarID,
		"contactId":         req.ContactID,
		"title":             req.Title,
		"notes":             req.Notes,
		"startTime":         req.Start.Format(time.RFC3339),
		"endTime":           req.End.Format(time.RFC3339),
		"appointmentStatus": status,
	}
	var envelope struct {
		Appointment Appointment `json:"appointment"`
		ID          string      `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/calendars/events/appointments", body, &envelope); err != nil {
		return nil, err
	}
	appt := envelope.Appointment
	if appt.ID == "" {
		appt.ID = envelope.ID
	}
	if appt.ID == "" {
		return nil, fmt.Errorf("highlevel: create appointment returned no id")
	}
	if appt.CalendarID == "" {
		appt.CalendarID = req.CalendarID
	}
	if appt.Start.IsZero() {
		appt.Start, appt.End = req.Start, req.End
	}
	return &appt, nil
}

// GetAppointment fetches one appointment by id.
func (c *Client) GetAppointment(ctx context.Context, appointmentID string) (*Appointment, error) {
	var envelope struct {
		Appointment Appointment `json:"appointment"`
	}
	url := fmt.Sprintf("%s/calendars/events/appointments/%s", c.baseURL, appointmentID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Appointment, nil
}

// ListAppointments returns appointments on a calendar within [from, to).
func (c *Client) ListAppointments(ctx context.Context, calendarID string, from, to time.Time) ([]Appointment, error) {
	query := url.Values{}
	query.Set("calendarId", calendarID)
	query.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	query.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	reqURL := fmt.Sprintf("%s/calendars/events?%s", c.baseURL, query.Encode())

	var envelope struct {
		Events []Appointment `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Events, nil
}

// endpointAttempt is one strategy in an ordered fallback chain. Each attempt
// reports a tagged outcome; the chain stops at the first success.
type endpointAttempt struct {
	name string
	call func(ctx context.Context) error
}

// tryInOrder runs the attempts in sequence, returning nil on the first
// success and the joined failures otherwise.
func (c *Client) tryInOrder(ctx context.Context, attempts []endpointAttempt) error {
	var errs []error
	for _, attempt := range attempts {
		err := attempt.call(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("endpoint attempt failed", "strategy", attempt.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", attempt.name, err))
	}
	return fmt.Errorf("highlevel: all endpoints failed: %v", errs)
}

// UpdateAppointmentStatus sets the appointment status, trying the current
// API first and the legacy API second.
func (c *Client) UpdateAppointmentStatus(ctx context.Context, appointmentID, status string) error {
	return c.tryInOrder(ctx, []endpointAttempt{
		{
			name: "v2_status",
			call: func(ctx context.Context) error {
				url := fmt.Sprintf("%s/calendars/events/appointments/%s", c.baseURL, appointmentID)
				return c.doJSON(ctx, http.MethodPut, url, map[string]string{"appointmentStatus": status}, nil)
			},
		},
		{
			name: "legacy_status",
			call: func(ctx context.Context) error {
				url := fmt.Sprintf("%s/appointments/%s/status", c.legacyBaseURL, appointmentID)
				return c.doJSON(ctx, http.MethodPut, url, map[string]string{"status": status}, nil)
			},
		},
	})
}

// RescheduleAppointment moves an appointment to a new window, with the same
// primary/legacy fallback as status updates.
func (c *Client) RescheduleAppointment(ctx context.Context, appointmentID string, start, end time.Time) error {
	body := map[string]string{
		"startTime": start.Format(time.RFC3339),
		"endTime":   end.Format(time.RFC3339),
	}
	return c.tryInOrder(ctx, []endpointAttempt{
		{
			name: "v2_reschedule",
			call: func(ctx context.Context) error {
				url := fmt.Sprintf("%s/calendars/events/appointments/%s", c.baseURL, appointmentID)
				return c.doJSON(ctx, http.MethodPut, url, body, nil)
			},
		},
		{
			name: "legacy_reschedule",
			call: func(ctx context.Context) error {
				url := fmt.Sprintf("%s/appointments/%s", c.legacyBaseURL, appointmentID)
				return c.doJSON(ctx, http.MethodPut, url, body, nil)
			},
		},
	})
}
