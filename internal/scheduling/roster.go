// Package scheduling computes offerable consultation slots across artist and
// interpreter calendars and assigns the fairest available pairing when a
// lead picks one.
package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Calendar is one bookable roster entry. Declaration order in the roster
// JSON is load-bearing: workload ties break toward the earlier entry.
type Calendar struct {
	Name       string `json:"name"`
	CalendarID string `json:"calendarId"`
}

// Roster holds the two independently booked calendar groups.
type Roster struct {
	Artists      []Calendar
	Interpreters []Calendar
}

// ParseRoster decodes the configured calendar rosters. Interpreters may be
// empty (a studio without interpreter support); artists may not.
func ParseRoster(artistsJSON, interpretersJSON string) (Roster, error) {
	artists, err := parseCalendars(artistsJSON)
	if err != nil {
		return Roster{}, fmt.Errorf("scheduling: artist roster: %w", err)
	}
	if len(artists) == 0 {
		return Roster{}, fmt.Errorf("scheduling: artist roster is empty")
	}
	interpreters, err := parseCalendars(interpretersJSON)
	if err != nil {
		return Roster{}, fmt.Errorf("scheduling: interpreter roster: %w", err)
	}
	return Roster{Artists: artists, Interpreters: interpreters}, nil
}

func parseCalendars(raw string) ([]Calendar, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var calendars []Calendar
	if err := json.Unmarshal([]byte(raw), &calendars); err != nil {
		return nil, err
	}
	for i, cal := range calendars {
		if cal.Name == "" || cal.CalendarID == "" {
			return nil, fmt.Errorf("entry %d missing name or calendarId", i)
		}
	}
	return calendars, nil
}

// FindArtist resolves a lead's artist preference against the roster by
// case-insensitive name match. Returns false when the preference is empty or
// unknown, in which case all artists are candidates.
func (r Roster) FindArtist(preference string) (Calendar, bool) {
	preference = strings.TrimSpace(preference)
	if preference == "" {
		return Calendar{}, false
	}
	for _, cal := range r.Artists {
		if strings.EqualFold(cal.Name, preference) {
			return cal, true
		}
	}
	return Calendar{}, false
}

// ContainsCalendar reports whether id belongs to the given group.
func ContainsCalendar(group []Calendar, id string) bool {
	for _, cal := range group {
		if cal.CalendarID == id {
			return true
		}
	}
	return false
}
