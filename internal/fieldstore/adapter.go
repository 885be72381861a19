package fieldstore

import (
	"context"
	"fmt"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Contact is the slice of the CRM contact this engine reads.
type Contact struct {
	ID     string
	Name   string
	Phone  string
	Email  string
	Fields Fields
}

// API is the narrow CRM surface the adapter needs. Implemented by the
// highlevel client.
type API interface {
	// GetContactFields returns the raw custom-field payload in whatever
	// wire shape the CRM chose for this request.
	GetContactFields(ctx context.Context, contactID string) (any, error)
	// UpdateContactFields writes the given keys; unlisted keys are untouched.
	UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error
}

// Adapter is the single boundary between the raw CRM field payloads and the
// normalized Fields map the rest of the engine consumes.
type Adapter struct {
	api      API
	registry map[string]string // CRM field id -> canonical key
	logger   *logging.Logger
}

func NewAdapter(api API, idRegistry map[string]string, logger *logging.Logger) *Adapter {
	if api == nil {
		panic("fieldstore: api cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{api: api, registry: idRegistry, logger: logger}
}

// Load fetches and normalizes the contact's field map. Shape problems in
// individual entries are absorbed by Normalize; only transport errors
// surface.
func (a *Adapter) Load(ctx context.Context, contactID string) (Fields, error) {
	raw, err := a.api.GetContactFields(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("fieldstore: load fields for %s: %w", contactID, err)
	}
	return Normalize(raw, a.registry), nil
}

// Apply writes the given field updates back to the CRM. Empty update sets
// are a no-op.
func (a *Adapter) Apply(ctx context.Context, contactID string, updates Fields) error {
	if len(updates) == 0 {
		return nil
	}
	if err := a.api.UpdateContactFields(ctx, contactID, updates); err != nil {
		return fmt.Errorf("fieldstore: apply %d fields for %s: %w", len(updates), contactID, err)
	}
	a.logger.Debug("applied field updates", "contact_id", contactID, "count", len(updates))
	return nil
}
