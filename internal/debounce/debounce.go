// Package debounce coalesces rapid successive inbound messages for one
// contact into a single processing unit. Each arrival resets a quiet-period
// timer; only the caller whose timer fires while still holding the newest
// message processes the whole batch. Losing callers return without side
// effects. This is timer-based leader election, not a lock.
package debounce

import (
	"context"
	"strings"
	"time"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Store holds pending message batches keyed by contact. Implementations
// must be safe for concurrent use; the Redis store lets multiple processes
// share one quiet-period window.
type Store interface {
	// Append records a message and returns a token identifying this
	// arrival as the newest for the contact.
	Append(ctx context.Context, contactID, message string) (string, error)
	// IsLatest reports whether token still identifies the newest arrival.
	IsLatest(ctx context.Context, contactID, token string) (bool, error)
	// Claim returns the pending batch and clears it.
	Claim(ctx context.Context, contactID string) ([]string, error)
}

// Debouncer batches inbound messages per contact.
type Debouncer struct {
	store  Store
	window time.Duration
	logger *logging.Logger
}

func New(store Store, window time.Duration, logger *logging.Logger) *Debouncer {
	if store == nil {
		panic("debounce: store cannot be nil")
	}
	if window <= 0 {
		window = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Debouncer{store: store, window: window, logger: logger}
}

// Coalesce registers the message and waits out the quiet period. It returns
// the blank-line-joined batch and leader=true for exactly one of the
// concurrent callers per burst; all others get leader=false and must skip
// processing.
func (d *Debouncer) Coalesce(ctx context.Context, contactID, message string) (string, bool, error) {
	token, err := d.store.Append(ctx, contactID, message)
	if err != nil {
		return "", false, err
	}

	timer := time.NewTimer(d.window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-timer.C:
	}

	latest, err := d.store.IsLatest(ctx, contactID, token)
	if err != nil {
		return "", false, err
	}
	if !latest {
		d.logger.Debug("debounce superseded", "contact_id", contactID)
		return "", false, nil
	}

	batch, err := d.store.Claim(ctx, contactID)
	if err != nil {
		return "", false, err
	}
	if len(batch) == 0 {
		return "", false, nil
	}
	return strings.Join(batch, "\n\n"), true, nil
}

// Window exposes the configured quiet period.
func (d *Debouncer) Window() time.Duration {
	return d.window
}
