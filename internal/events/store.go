// Package events keeps an append-only log of engine decisions: hold
// transitions, stage moves, sync results. The log is optional; a nil
// store disables it without touching call sites.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind labels one category of engine event.
const (
	KindTurnHandled     = "turn_handled"
	KindHoldTransition  = "hold_transition"
	KindStageMoved      = "stage_moved"
	KindSyncPropagated  = "sync_propagated"
	KindDepositRefunded = "deposit_refunded"
)

// PgxPool is the pool slice the store needs, satisfied by *pgxpool.Pool
// and by pgxmock in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is one logged event.
type Record struct {
	ID        uuid.UUID
	ContactID string
	Kind      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Store writes engine events to Postgres.
type Store struct {
	pool PgxPool
}

// NewStore returns nil for a nil pool so callers can treat the event
// log as absent when no database is configured.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Append logs one event. A nil store or nil payload is fine.
func (s *Store) Append(ctx context.Context, contactID, kind string, payload map[string]any) error {
	if s == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}
	query := `
		INSERT INTO engine_events (id, contact_id, kind, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, uuid.New(), contactID, kind, body); err != nil {
		return fmt.Errorf("events: append %s: %w", kind, err)
	}
	return nil
}

// ListByContact returns the most recent events for one contact, newest
// first.
func (s *Store) ListByContact(ctx context.Context, contactID string, limit int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, contact_id, kind, payload, created_at
		FROM engine_events
		WHERE contact_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list for %s: %w", contactID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var body []byte
		if err := rows.Scan(&rec.ID, &rec.ContactID, &rec.Kind, &body, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan record: %w", err)
		}
		if err := json.Unmarshal(body, &rec.Payload); err != nil {
			return nil, fmt.Errorf("events: decode payload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
