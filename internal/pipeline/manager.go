package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkflow-ai/studio-platform/internal/fieldstore"
	"github.com/inkflow-ai/studio-platform/internal/highlevel"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// OpportunityAPI is the deal surface the manager drives.
type OpportunityAPI interface {
	GetOpportunity(ctx context.Context, opportunityID string) (*highlevel.Opportunity, error)
	SearchOpportunityByContact(ctx context.Context, contactID string) (*highlevel.Opportunity, error)
	CreateOpportunity(ctx context.Context, contactID, name, stageKey string) (*highlevel.Opportunity, error)
	UpdateOpportunityStage(ctx context.Context, opportunityID, stageKey string) error
}

// FieldWriter persists the opportunity id back onto the contact.
type FieldWriter interface {
	Apply(ctx context.Context, contactID string, updates fieldstore.Fields) error
}

// Manager reconciles the contact's deal record with the derived stage.
type Manager struct {
	api    OpportunityAPI
	fields FieldWriter
	keys   StageKeys
	name   string
	logger *logging.Logger
}

func NewManager(api OpportunityAPI, fields FieldWriter, keys StageKeys, opportunityName string, logger *logging.Logger) *Manager {
	if api == nil {
		panic("pipeline: nil opportunity api")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opportunityName == "" {
		opportunityName = "Tattoo consultation"
	}
	return &Manager{api: api, fields: fields, keys: keys, name: opportunityName, logger: logger}
}

// EnsureOpportunity resolves the contact's deal record without ever
// creating a duplicate: stored id first, then a search by contact, and
// only then a create at the intake stage. The resolved id is written
// back to the contact so retries short-circuit on the first step.
func (m *Manager) EnsureOpportunity(ctx context.Context, contactID, storedID string) (*highlevel.Opportunity, error) {
	if storedID != "" {
		opp, err := m.api.GetOpportunity(ctx, storedID)
		if err == nil {
			return opp, nil
		}
		if !errors.Is(err, highlevel.ErrNotFound) {
			return nil, fmt.Errorf("pipeline: read opportunity %s: %w", storedID, err)
		}
		m.logger.Warn("stored opportunity id is stale", "contact_id", contactID, "opportunity_id", storedID)
	}

	opp, err := m.api.SearchOpportunityByContact(ctx, contactID)
	if err != nil && !errors.Is(err, highlevel.ErrNotFound) {
		return nil, fmt.Errorf("pipeline: search opportunity for %s: %w", contactID, err)
	}
	if err != nil {
		opp, err = m.api.CreateOpportunity(ctx, contactID, m.name, m.keys.KeyFor(StageIntake))
		if err != nil {
			return nil, fmt.Errorf("pipeline: create opportunity for %s: %w", contactID, err)
		}
		m.logger.Info("opportunity created", "contact_id", contactID, "opportunity_id", opp.ID)
	}

	if opp.ID != storedID && m.fields != nil {
		if err := m.fields.Apply(ctx, contactID, fieldstore.Fields{fieldstore.KeyOpportunityID: opp.ID}); err != nil {
			// Auxiliary write; the next turn re-resolves via search.
			m.logger.Warn("could not store opportunity id", "contact_id", contactID, "error", err)
		}
	}
	return opp, nil
}

// Reconcile moves the deal to the stage the context dictates. Backward
// moves are refused unless the target is terminal; a same-stage result
// is a no-op. Returns the stage the deal ends up in and whether it
// actually moved.
func (m *Manager) Reconcile(ctx context.Context, contactID, storedID string, sctx StageContext) (Stage, bool, error) {
	opp, err := m.EnsureOpportunity(ctx, contactID, storedID)
	if err != nil {
		return "", false, err
	}

	current := m.keys.StageFor(opp.StageKey)
	target := DetermineStageFromContext(sctx)
	if target == current {
		return current, false, nil
	}

	override := IsTerminal(target)
	if !CanAdvance(current, target, override) {
		m.logger.Info("stage move refused",
			"contact_id", contactID,
			"current", string(current),
			"target", string(target),
		)
		return current, false, nil
	}

	if err := m.api.UpdateOpportunityStage(ctx, opp.ID, m.keys.KeyFor(target)); err != nil {
		return current, false, fmt.Errorf("pipeline: move %s to %s: %w", opp.ID, target, err)
	}
	m.logger.Info("stage advanced",
		"contact_id", contactID,
		"opportunity_id", opp.ID,
		"from", string(current),
		"to", string(target),
	)
	return target, true, nil
}
