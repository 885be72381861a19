package holds

import "sync"

// Registry tracks which contacts this process holds a tentative slot for,
// so the periodic sweeper knows who to evaluate without a contact scan.
// The field store stays authoritative; a stale entry just costs one no-op
// Evaluate.
type Registry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

func (r *Registry) Add(contactID string) {
	if r == nil || contactID == "" {
		return
	}
	r.mu.Lock()
	r.ids[contactID] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) Remove(contactID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.ids, contactID)
	r.mu.Unlock()
}

// Snapshot returns the tracked contact ids in no particular order.
func (r *Registry) Snapshot() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}
