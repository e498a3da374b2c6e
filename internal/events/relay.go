package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/internal/metrics"
	"github.com/davidahmann/surety/pkg/types"
)

// Relay moves pending outbox records to a Publisher, retrying failures with
// exponential backoff. Delivery is at least once.
type Relay struct {
	store     ledger.Store
	publisher Publisher
	log       logger.Logger
	metrics   *metrics.Metrics
	batch     int
	wake      chan struct{}
}

func NewRelay(store ledger.Store, publisher Publisher, log logger.Logger, m *metrics.Metrics) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		log:       log,
		metrics:   m,
		batch:     50,
		wake:      make(chan struct{}, 1),
	}
}

// Notify asks a running relay to poll now instead of waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// ProcessDue publishes outbox records due at now. Reading and updating happen in
// separate transactions so publishing never holds the ledger lock.
func (r *Relay) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if r.store == nil {
		return 0, fmt.Errorf("missing store")
	}
	if r.publisher == nil {
		return 0, nil
	}
	stamp := ledger.FormatTime(now)

	var due []ledger.OutboxRecord
	if err := r.store.View(ctx, func(tx ledger.Tx) error {
		recs, err := tx.ListOutboxDue(stamp, r.batch)
		due = recs
		return err
	}); err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != ledger.OutboxPending {
			continue
		}

		ev := Event{
			ID:        rec.EventID,
			Kind:      types.EventKind(rec.Kind),
			Payload:   json.RawMessage(rec.PayloadJSON),
			CreatedAt: rec.CreatedAt,
		}
		if !json.Valid(rec.PayloadJSON) {
			// Undeliverable; mark sent so it does not retry forever.
			msg := "invalid payload_json"
			rec.LastError = &msg
			rec.Status = ledger.OutboxSent
			rec.SentAt = &stamp
			rec.UpdatedAt = stamp
			if err := r.put(ctx, rec); err != nil {
				return processed, err
			}
			r.count(rec.Kind, "dropped")
			processed++
			continue
		}

		if err := r.publisher.Publish(ctx, ev); err != nil {
			next := nextAttempt(rec.AttemptCount)
			rec.AttemptCount++
			rec.NextAttemptAt = ledger.FormatTime(now.Add(next))
			msg := err.Error()
			rec.LastError = &msg
			rec.UpdatedAt = stamp
			if err := r.put(ctx, rec); err != nil {
				return processed, err
			}
			r.log.Warn("event publish failed", "event_id", rec.EventID, "kind", rec.Kind, "attempt", rec.AttemptCount, "retry_in", next.String(), "error", msg)
			r.count(rec.Kind, "retry")
			processed++
			continue
		}

		rec.Status = ledger.OutboxSent
		rec.SentAt = &stamp
		rec.UpdatedAt = stamp
		if err := r.put(ctx, rec); err != nil {
			return processed, err
		}
		r.count(rec.Kind, "sent")
		processed++
	}

	return processed, nil
}

func (r *Relay) put(ctx context.Context, rec ledger.OutboxRecord) error {
	return r.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.PutOutbox(rec)
	})
}

func (r *Relay) count(kind, result string) {
	if r.metrics != nil {
		r.metrics.EventsDelivered.WithLabelValues(kind, result).Inc()
	}
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, 80s, 160s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	if attemptCount > 6 {
		return 5 * time.Minute
	}
	d := base << attemptCount
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}

// Run polls every pollInterval, or sooner after Notify, until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
		// Drain until nothing is due so bursts do not wait a full tick per batch.
		for {
			n, err := r.ProcessDue(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error("outbox relay", "error", err)
				}
				break
			}
			if n < r.batch {
				break
			}
		}
	}
}
