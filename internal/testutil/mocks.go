package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/outbox"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/google/uuid"
)

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory payment.Repository. It stores
// copies, so callers only see changes they persist, and enforces the same
// version check as the Postgres implementation.
type MockPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment
	byKey    map[string]uuid.UUID

	CreateFunc              func(ctx context.Context, p *payment.Payment) error
	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	GetByIdempotencyKeyFunc func(ctx context.Context, key string) (*payment.Payment, error)
	UpdateFunc              func(ctx context.Context, p *payment.Payment) error
	ListByOrderFunc         func(ctx context.Context, orderID string) ([]*payment.Payment, error)
	ListUnfinishedFunc      func(ctx context.Context, updatedBefore time.Time, limit int) ([]*payment.Payment, error)
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[uuid.UUID]*payment.Payment),
		byKey:    make(map[string]uuid.UUID),
	}
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byKey[p.IdempotencyKey]; dup {
		return domainErrors.ErrDuplicateIdempotencyKey
	}
	m.payments[p.ID] = clonePayment(p)
	m.byKey[p.IdempotencyKey] = p.ID
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (m *MockPaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	if m.GetByIdempotencyKeyFunc != nil {
		return m.GetByIdempotencyKeyFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return clonePayment(m.payments[id]), nil
}

func (m *MockPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return domainErrors.ErrPaymentNotFound
	}
	if stored.Version != p.Version {
		return domainErrors.ErrConcurrentModification
	}
	p.Version++
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	if m.ListByOrderFunc != nil {
		return m.ListByOrderFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockPaymentRepository) ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*payment.Payment, error) {
	if m.ListUnfinishedFunc != nil {
		return m.ListUnfinishedFunc(ctx, updatedBefore, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Payment
	for _, p := range m.payments {
		unfinished := p.Status == payment.StatusPending ||
			(p.Status == payment.StatusProcessing && p.AuthorizedAt == nil)
		if unfinished && p.UpdatedAt.Before(updatedBefore) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddPayment stores a payment as is, bypassing Create.
func (m *MockPaymentRepository) AddPayment(p *payment.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = clonePayment(p)
	m.byKey[p.IdempotencyKey] = p.ID
}

// Count returns the number of stored payments.
func (m *MockPaymentRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// --- Refund Repository Mock ---

// MockRefundRepository is an in-memory refund.Repository.
type MockRefundRepository struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*refund.Refund

	CreateFunc         func(ctx context.Context, r *refund.Refund) error
	UpdateStatusFunc   func(ctx context.Context, r *refund.Refund) error
	ListProcessingFunc func(ctx context.Context, updatedBefore time.Time, limit int) ([]*refund.Refund, error)
}

func NewMockRefundRepository() *MockRefundRepository {
	return &MockRefundRepository{refunds: make(map[uuid.UUID]*refund.Refund)}
}

func (m *MockRefundRepository) Create(ctx context.Context, r *refund.Refund) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.refunds[r.ID] = &c
	return nil
}

func (m *MockRefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, domainErrors.ErrRefundNotFound
	}
	c := *r
	return &c, nil
}

func (m *MockRefundRepository) UpdateStatus(ctx context.Context, r *refund.Refund) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.refunds[r.ID]
	if !ok {
		return domainErrors.ErrRefundNotFound
	}
	if stored.IsFinal() {
		return domainErrors.InvalidState("update refund", string(stored.Status))
	}
	c := *r
	m.refunds[r.ID] = &c
	return nil
}

func (m *MockRefundRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*refund.Refund
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockRefundRepository) ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*refund.Refund, error) {
	if m.ListProcessingFunc != nil {
		return m.ListProcessingFunc(ctx, updatedBefore, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*refund.Refund
	for _, r := range m.refunds {
		if r.Status == refund.StatusProcessing && r.UpdatedAt.Before(updatedBefore) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository records inserted entries unless a Func overrides it.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc                func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc            func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc         func(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailedFunc            func(ctx context.Context, id uuid.UUID, reason string) error
	DeletePublishedBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(id); e != nil {
		e.Status = outbox.StatusPublished
		e.PublishedAt = &at
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(id); e != nil {
		e.RetryCount++
		e.LastError = &reason
		if e.RetryCount >= e.MaxRetries {
			e.Status = outbox.StatusFailed
		}
	}
	return nil
}

func (m *MockOutboxRepository) find(id uuid.UUID) *outbox.Entry {
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Entries returns the stored entries in insertion order.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}

func (m *MockOutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeletePublishedBeforeFunc != nil {
		return m.DeletePublishedBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// EventTypes lists the event types inserted so far, in order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.EventType)
	}
	return out
}
