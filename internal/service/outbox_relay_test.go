package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/internal/testutil"
	"github.com/cassiomorais/pos-payments/pkg/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []outbox.Envelope
	dead      []string
	failWith  error
}

func (p *recordingPublisher) Destination() string { return "payments:events" }

func (p *recordingPublisher) Publish(_ context.Context, env outbox.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, env)
	return nil
}

func (p *recordingPublisher) DeadLetter(_ context.Context, env outbox.Envelope, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, env.EventType+": "+reason)
	return nil
}

func newRelay(repo *testutil.MockOutboxRepository, pub EventPublisher, batch int) (*OutboxRelay, *observability.Metrics, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	relay := NewOutboxRelay(repo, testutil.NewMockTransactionManager(), pub, batch, clk, metrics, zerolog.Nop())
	return relay, metrics, clk
}

func insertEvents(t *testing.T, repo *testutil.MockOutboxRepository, types ...string) {
	t.Helper()
	for _, et := range types {
		require.NoError(t, repo.Insert(context.Background(), outbox.NewEntry(outbox.AggregatePayment, uuid.New(), et, nil, time.Now())))
	}
}

func TestOutboxRelay_PublishesPendingInOrder(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &recordingPublisher{}
	relay, metrics, clk := newRelay(repo, pub, 10)
	insertEvents(t, repo, outbox.EventPaymentCompleted, outbox.EventRefundCompleted, outbox.EventPaymentRefunded)

	n, err := relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, pub.published, 3)
	assert.Equal(t, outbox.EventPaymentCompleted, pub.published[0].EventType)
	assert.Equal(t, outbox.EventPaymentRefunded, pub.published[2].EventType)
	for _, e := range repo.Entries() {
		assert.Equal(t, outbox.StatusPublished, e.Status)
		require.NotNil(t, e.PublishedAt)
		assert.Equal(t, clk.Now(), *e.PublishedAt)
	}
	assert.Equal(t, float64(3), prom.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues("payments:events", "published")))

	n, err = relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_RespectsBatchSize(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &recordingPublisher{}
	relay, _, _ := newRelay(repo, pub, 2)
	insertEvents(t, repo, outbox.EventPaymentCompleted, outbox.EventPaymentFailed, outbox.EventPaymentCancelled)

	n, err := relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutboxRelay_FailedPublishIsRetriedThenDeadLettered(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &recordingPublisher{failWith: errors.New("broker unavailable")}
	relay, metrics, _ := newRelay(repo, pub, 10)
	insertEvents(t, repo, outbox.EventPaymentCompleted)

	for i := 0; i < 5; i++ {
		_, err := relay.RelayBatch(context.Background())
		require.NoError(t, err)
	}

	entry := repo.Entries()[0]
	assert.Equal(t, outbox.StatusFailed, entry.Status)
	assert.Equal(t, 5, entry.RetryCount)
	require.NotNil(t, entry.LastError)
	assert.Equal(t, "broker unavailable", *entry.LastError)
	assert.Equal(t, []string{"payment.completed: broker unavailable"}, pub.dead)
	assert.Equal(t, float64(4), prom.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues("payments:events", "failed")))
	assert.Equal(t, float64(1), prom.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues("payments:events", "dead_lettered")))

	// Failed entries are no longer picked up.
	pub.failWith = nil
	n, err := relay.RelayBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_RepositoryErrorIsReturned(t *testing.T) {
	repo := &testutil.MockOutboxRepository{
		GetPendingFunc: func(ctx context.Context, limit int) ([]*outbox.Entry, error) {
			return nil, errors.New("connection reset")
		},
	}
	relay, _, _ := newRelay(repo, &recordingPublisher{}, 10)

	_, err := relay.RelayBatch(context.Background())
	assert.EqualError(t, err, "connection reset")
}

func TestOutboxRelay_Purge(t *testing.T) {
	var cutoff time.Time
	repo := &testutil.MockOutboxRepository{
		DeletePublishedBeforeFunc: func(ctx context.Context, c time.Time) (int64, error) {
			cutoff = c
			return 7, nil
		},
	}
	relay, _, clk := newRelay(repo, &recordingPublisher{}, 10)

	n, err := relay.Purge(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, clk.Now().Add(-7*24*time.Hour), cutoff)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &recordingPublisher{}
	relay, _, _ := newRelay(repo, pub, 10)
	insertEvents(t, repo, outbox.EventPaymentCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.published) == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
