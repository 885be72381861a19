package leadstate

import (
	"encoding/json"
	"time"
)

// SentSlot is one time option previously offered to the lead, stored in the
// last_sent_slots field so a later "option 2" reply can be resolved.
type SentSlot struct {
	Index      int       `json:"index"`
	Display    string    `json:"display"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	CalendarID string    `json:"calendar_id"`
	Artist     string    `json:"artist"`
}

// EncodeSlots serializes offered slots for field storage.
func EncodeSlots(slots []SentSlot) string {
	if len(slots) == 0 {
		return ""
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeSlots parses the stored slot list; malformed input yields nil.
func DecodeSlots(raw string) []SentSlot {
	if raw == "" {
		return nil
	}
	var slots []SentSlot
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil
	}
	return slots
}
