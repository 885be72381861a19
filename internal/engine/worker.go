package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/inkflow-ai/studio-platform/internal/calendarsync"
	"github.com/inkflow-ai/studio-platform/internal/events"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Propagator fans one calendar change out to its sibling appointments.
type Propagator interface {
	Propagate(ctx context.Context, ev calendarsync.Event) ([]calendarsync.SiblingResult, error)
}

// SyncWorkerConfig tunes the queue consumers.
type SyncWorkerConfig struct {
	Workers          int
	ReceiveBatchSize int
	ReceiveWaitSecs  int
}

func (c SyncWorkerConfig) withDefaults() SyncWorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ReceiveBatchSize <= 0 {
		c.ReceiveBatchSize = 5
	}
	if c.ReceiveWaitSecs < 0 {
		c.ReceiveWaitSecs = 0
	} else if c.ReceiveWaitSecs == 0 {
		c.ReceiveWaitSecs = 10
	}
	return c
}

// SyncWorker drains calendar-change jobs and propagates each to the
// paired sibling appointments. Webhook handlers only enqueue; all
// calendar writes happen here.
type SyncWorker struct {
	queue      Queue
	propagator Propagator
	log        *events.Store
	cfg        SyncWorkerConfig
	logger     *logging.Logger
	wg         sync.WaitGroup
}

func NewSyncWorker(queue Queue, propagator Propagator, log *events.Store, cfg SyncWorkerConfig, logger *logging.Logger) *SyncWorker {
	if queue == nil {
		panic("engine: nil sync queue")
	}
	if propagator == nil {
		panic("engine: nil propagator")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncWorker{
		queue:      queue,
		propagator: propagator,
		log:        log,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *SyncWorker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *SyncWorker) Wait() {
	w.wg.Wait()
}

func (w *SyncWorker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("sync worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("sync worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.ReceiveBatchSize, w.cfg.ReceiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive sync jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *SyncWorker) handleMessage(ctx context.Context, msg QueueMessage) {
	var job syncJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		// Undecodable jobs never become processable; drop them.
		w.logger.Error("failed to decode sync job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	results, err := w.propagator.Propagate(ctx, job.Event)
	if err != nil {
		// Leave the message on the queue for redelivery.
		w.logger.Error("sync propagation failed",
			"job_id", job.ID,
			"appointment_id", job.Event.AppointmentID,
			"error", err,
		)
		return
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			w.logger.Warn("sibling update failed",
				"job_id", job.ID,
				"sibling_id", r.AppointmentID,
				"action", r.Action,
				"error", r.Err,
			)
		}
	}
	w.logger.Info("sync job handled",
		"job_id", job.ID,
		"appointment_id", job.Event.AppointmentID,
		"siblings", len(results),
		"failed", failed,
	)
	if lerr := w.log.Append(ctx, job.Event.ContactID, events.KindSyncPropagated, map[string]any{
		"appointment_id": job.Event.AppointmentID,
		"siblings":       len(results),
		"failed":         failed,
	}); lerr != nil {
		w.logger.Warn("event log append failed", "job_id", job.ID, "error", lerr)
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *SyncWorker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Warn("failed to delete sync job", "error", err)
	}
}

// RunHoldSweeper ticks hold expiry for every contact the lister reports
// until ctx is cancelled. Evaluate is idempotent, so overlapping ticks
// and per-turn piggybacks are harmless.
func RunHoldSweeper(ctx context.Context, svc *Service, list func(context.Context) ([]string, error), interval time.Duration, logger *logging.Logger) {
	if svc == nil || list == nil {
		return
	}
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		contacts, err := list(ctx)
		if err != nil {
			logger.Warn("hold sweep listing failed", "error", err)
			continue
		}
		for _, contactID := range contacts {
			if _, err := svc.EvaluateHoldState(ctx, contactID); err != nil {
				logger.Warn("hold sweep evaluate failed", "contact_id", contactID, "error", err)
			}
		}
	}
}

var _ Propagator = (*calendarsync.Syncer)(nil)

// Compile-time knot: the memory queue must satisfy the same surface the
// SQS queue does.
var (
	_ Queue = (*SQSQueue)(nil)
	_ Queue = (*MemoryQueue)(nil)
)
