package leadstate

import (
	"encoding/json"
	"sort"

	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
)

// EncodeSnapshot serializes the current field map as the diff baseline for
// the next turn. The snapshot field itself is excluded, a baseline never
// contains the previous baseline.
func EncodeSnapshot(fields fieldstore.Fields) string {
	if len(fields) == 0 {
		return "{}"
	}
	trimmed := fields
	if _, ok := fields[fieldstore.KeyLastSeenSnapshot]; ok {
		trimmed = fields.Clone()
		delete(trimmed, fieldstore.KeyLastSeenSnapshot)
	}
	data, err := json.Marshal(trimmed)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DiffSince returns the fields that changed (added or rewritten) since the
// stored snapshot. The result grounds the generative handler in what is new
// this turn. A malformed snapshot diffs against empty, reporting everything.
func DiffSince(snapshot string, current fieldstore.Fields) fieldstore.Fields {
	prev := fieldstore.Fields{}
	if snapshot != "" {
		_ = json.Unmarshal([]byte(snapshot), &prev)
	}
	changed := fieldstore.Fields{}
	for key, value := range current {
		if key == fieldstore.KeyLastSeenSnapshot {
			continue
		}
		if prev[key] != value {
			changed[key] = value
		}
	}
	return changed
}

// ChangedKeys lists the diff keys in stable order for logging.
func ChangedKeys(changed fieldstore.Fields) []string {
	keys := make([]string, 0, len(changed))
	for key := range changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
