package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/rs/zerolog"
)

// EventPublisher delivers outbox entries to a message broker.
type EventPublisher interface {
	// Destination names the stream or topic, for logs and metrics.
	Destination() string
	Publish(ctx context.Context, env outbox.Envelope) error
	// DeadLetter parks an entry that exhausted its retries.
	DeadLetter(ctx context.Context, env outbox.Envelope, reason string) error
}

// OutboxRelay moves committed lifecycle events from the outbox table to the
// broker. Entries are claimed inside a transaction, so several workers can
// relay concurrently without publishing the same row twice.
type OutboxRelay struct {
	repo      outbox.Repository
	tx        TransactionManager
	publisher EventPublisher
	clock     clock.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger
	batchSize int
}

func NewOutboxRelay(
	repo outbox.Repository,
	tx TransactionManager,
	publisher EventPublisher,
	batchSize int,
	clk clock.Clock,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		clock:     clk,
		metrics:   metrics,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		batchSize: batchSize,
	}
}

// RelayBatch publishes up to one batch of pending entries and returns how
// many were published.
func (r *OutboxRelay) RelayBatch(ctx context.Context) (int, error) {
	dest := r.publisher.Destination()
	start := r.clock.Now()
	published := 0

	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			log := r.logger.With().
				Str("outbox_id", entry.ID.String()).
				Str("event_type", entry.EventType).
				Logger()

			if pubErr := r.publisher.Publish(ctx, entry.Envelope()); pubErr != nil {
				if entry.Exhausted() {
					if dlqErr := r.publisher.DeadLetter(ctx, entry.Envelope(), pubErr.Error()); dlqErr != nil {
						log.Error().Err(dlqErr).Msg("Failed to dead-letter outbox event")
					}
					log.Error().Err(pubErr).Int("attempts", entry.RetryCount+1).Msg("Outbox event exhausted its retries")
					r.metrics.WorkerMessagesProcessed.WithLabelValues(dest, "dead_lettered").Inc()
				} else {
					log.Warn().Err(pubErr).Msg("Failed to publish outbox event")
					r.metrics.WorkerMessagesProcessed.WithLabelValues(dest, "failed").Inc()
				}
				if err := r.repo.MarkFailed(txCtx, entry.ID, pubErr.Error()); err != nil {
					return fmt.Errorf("mark outbox entry failed: %w", err)
				}
				continue
			}

			if err := r.repo.MarkPublished(txCtx, entry.ID, r.clock.Now()); err != nil {
				return fmt.Errorf("mark outbox entry published: %w", err)
			}
			published++
			r.metrics.WorkerMessagesProcessed.WithLabelValues(dest, "published").Inc()
		}
		return nil
	})

	r.metrics.WorkerProcessingDuration.WithLabelValues(dest).Observe(r.clock.Now().Sub(start).Seconds())
	return published, err
}

// Run relays on every tick until ctx is cancelled. A full batch is
// followed immediately by another.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info().
		Str("destination", r.publisher.Destination()).
		Dur("interval", interval).
		Msg("Outbox relay started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := r.RelayBatch(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
		if n == r.batchSize && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Purge deletes published entries older than retention.
func (r *OutboxRelay) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := r.repo.DeletePublishedBefore(ctx, r.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info().Int64("deleted", n).Msg("Purged published outbox entries")
	}
	return n, nil
}
