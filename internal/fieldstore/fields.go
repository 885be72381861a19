// Package fieldstore adapts the CRM's flexible per-contact custom fields
// into one flat, predictably keyed map. The CRM returns fields in several
// wire shapes depending on API version and endpoint; everything past this
// package sees only Fields.
package fieldstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Fields is the normalized flat field map for one contact. Keys are
// snake_case; values are stringified scalars ("true"/"false" for booleans).
type Fields map[string]string

// Well-known field keys. The CRM stores these as free-form custom fields;
// this package defines their canonical spelling.
const (
	KeyPlacement          = "tattoo_placement"
	KeySummary            = "tattoo_summary"
	KeySize               = "tattoo_size"
	KeyStyle              = "tattoo_style"
	KeyTimeline           = "timeline"
	KeyLanguagePref       = "language_preference"
	KeyArtistPref         = "artist_preference"
	KeyConsultType        = "consultation_type"
	KeyConsultTypeLocked  = "consultation_type_locked"
	KeyConsultExplained   = "consult_explained"
	KeyInterpreterNeeded  = "interpreter_needed"
	KeyInterpreterOK      = "interpreter_confirmed"
	KeyInterpreterExplained = "interpreter_explained"
	KeyDepositLinkSent    = "deposit_link_sent"
	KeyDepositPaid        = "deposit_paid"
	KeyDepositLinkURL     = "deposit_link_url"
	KeyDepositPaymentID   = "deposit_payment_id"
	KeyHoldAppointmentID  = "hold_appointment_id"
	KeyHoldCalendarID     = "hold_calendar_id"
	KeyHoldLastActivityAt = "hold_last_activity_at"
	KeyHoldWarningSent    = "hold_warning_sent"
	KeyTimesSent          = "times_sent"
	KeyLastSentSlots      = "last_sent_slots"
	KeyLastSeenSnapshot   = "last_seen_snapshot"
	KeyLastReleasedSlot   = "last_released_slot"
	KeyBookedAppointmentID = "booked_appointment_id"
	KeyOpportunityID      = "opportunity_id"
	KeyBookingCompleted   = "booking_completed"
	KeyLeadLost           = "lead_lost"
)

// displayNameAliases maps the CRM dashboard's display names onto canonical
// keys. The CRM sends display names on some webhook payloads and snake keys
// on others.
var displayNameAliases = map[string]string{
	"tattoo placement":         KeyPlacement,
	"tattoo summary":           KeySummary,
	"tattoo size":              KeySize,
	"tattoo style":             KeyStyle,
	"timeline":                 KeyTimeline,
	"language preference":      KeyLanguagePref,
	"artist preference":        KeyArtistPref,
	"consultation type":        KeyConsultType,
	"consultation type locked": KeyConsultTypeLocked,
	"consult explained":        KeyConsultExplained,
	"interpreter needed":       KeyInterpreterNeeded,
	"interpreter confirmed":    KeyInterpreterOK,
	"interpreter explained":    KeyInterpreterExplained,
	"deposit link sent":        KeyDepositLinkSent,
	"deposit paid":             KeyDepositPaid,
	"deposit link url":         KeyDepositLinkURL,
	"deposit payment id":       KeyDepositPaymentID,
	"hold appointment id":      KeyHoldAppointmentID,
	"hold calendar id":         KeyHoldCalendarID,
	"hold last activity at":    KeyHoldLastActivityAt,
	"hold warning sent":        KeyHoldWarningSent,
	"times sent":               KeyTimesSent,
	"last sent slots":          KeyLastSentSlots,
	"last seen snapshot":       KeyLastSeenSnapshot,
	"last released slot":       KeyLastReleasedSlot,
	"booked appointment id":    KeyBookedAppointmentID,
	"opportunity id":           KeyOpportunityID,
	"booking completed":        KeyBookingCompleted,
	"lead lost":                KeyLeadLost,
}

// knownKeys is the closed set of canonical keys the engine owns. Built from
// the alias table so the two can never drift.
var knownKeys = func() map[string]struct{} {
	set := make(map[string]struct{}, len(displayNameAliases))
	for _, key := range displayNameAliases {
		set[key] = struct{}{}
	}
	return set
}()

// KnownKey reports whether key is one of the canonical keys this engine
// owns. Used to drop model-invented field names before write-back.
func KnownKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}

// CanonicalKey resolves a wire key (snake_case, display name, or field id)
// to the canonical key. Unknown keys are snake_cased and passed through so
// later-added fields survive the projection.
func CanonicalKey(wire string, idRegistry map[string]string) string {
	trimmed := strings.TrimSpace(wire)
	if trimmed == "" {
		return ""
	}
	if idRegistry != nil {
		if key, ok := idRegistry[trimmed]; ok {
			return key
		}
	}
	lower := strings.ToLower(trimmed)
	if key, ok := displayNameAliases[lower]; ok {
		return key
	}
	return strings.ReplaceAll(lower, " ", "_")
}

// Normalize flattens any of the CRM's three custom-field wire shapes into
// Fields:
//
//	object literal:  {"tattoo_size": "small", ...}
//	entry array:     [{"key": "...", "value": ...}, {"id": "...", "field_value": ...}]
//	indexed object:  {"0": {entry}, "1": {entry}}
//
// idRegistry maps CRM field ids to canonical keys for the id-keyed variants;
// it may be nil. Malformed entries are skipped, never an error.
func Normalize(raw any, idRegistry map[string]string) Fields {
	out := Fields{}
	switch v := raw.(type) {
	case nil:
		return out
	case map[string]any:
		if looksIndexed(v) {
			for _, entry := range v {
				mergeEntry(out, entry, idRegistry)
			}
			return out
		}
		for key, value := range v {
			if nested, ok := value.(map[string]any); ok {
				mergeEntry(out, nested, idRegistry)
				continue
			}
			put(out, CanonicalKey(key, idRegistry), value)
		}
	case []any:
		for _, entry := range v {
			mergeEntry(out, entry, idRegistry)
		}
	case Fields:
		for key, value := range v {
			put(out, CanonicalKey(key, idRegistry), value)
		}
	case map[string]string:
		for key, value := range v {
			put(out, CanonicalKey(key, idRegistry), value)
		}
	}
	return out
}

// looksIndexed reports whether every key of the object is a numeric index,
// the array-like shape some webhook payloads use.
func looksIndexed(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for key := range m {
		if _, err := strconv.Atoi(key); err != nil {
			return false
		}
	}
	return true
}

func mergeEntry(out Fields, entry any, idRegistry map[string]string) {
	m, ok := entry.(map[string]any)
	if !ok {
		return
	}
	var wireKey string
	for _, candidate := range []string{"key", "fieldKey", "name"} {
		if s, ok := m[candidate].(string); ok && s != "" {
			wireKey = s
			break
		}
	}
	if wireKey == "" {
		if s, ok := m["id"].(string); ok {
			wireKey = s
		}
	}
	if wireKey == "" {
		return
	}
	value, ok := m["value"]
	if !ok {
		value = m["field_value"]
	}
	put(out, CanonicalKey(wireKey, idRegistry), value)
}

func put(out Fields, key string, value any) {
	if key == "" {
		return
	}
	s := Stringify(value)
	if s == "" {
		return
	}
	out[key] = s
}

// Stringify converts a scalar field value to its stored string form.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// Bool interprets a stored field value as a boolean. The CRM stores
// booleans as strings and some dashboards write "yes"/"no".
func (f Fields) Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(f[key])) {
	case "true", "yes", "1", "on":
		return true
	}
	return false
}

// Get returns the trimmed value for key, "" if absent.
func (f Fields) Get(key string) string {
	return strings.TrimSpace(f[key])
}

// Clone returns a shallow copy. Used for the in-memory side-effect overlay
// the router applies before write-back.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
