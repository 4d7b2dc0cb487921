package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const refundColumns = `id, payment_id, amount::text, currency, reason, status,
		        gateway_refund_id, failure_reason, created_at, updated_at`

// RefundRepository implements refund.Repository using PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

func (r *RefundRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *RefundRepository) Create(ctx context.Context, rf *refund.Refund) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO refunds
		 (id, payment_id, amount, currency, reason, status, gateway_refund_id, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)`,
		rf.ID, rf.PaymentID, centsToNumericString(rf.AmountCents), rf.Currency, rf.Reason,
		string(rf.Status), rf.GatewayRefundID, rf.FailureReason, rf.CreatedAt, rf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	return scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id))
}

// UpdateStatus only touches refunds that are still processing, so a final
// status is never overwritten.
func (r *RefundRepository) UpdateStatus(ctx context.Context, rf *refund.Refund) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE refunds SET status = $1, gateway_refund_id = $2, failure_reason = $3, updated_at = $4
		 WHERE id = $5 AND status = 'processing'`,
		string(rf.Status), rf.GatewayRefundID, rf.FailureReason, rf.UpdatedAt, rf.ID,
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, rf.ID)
		if err != nil {
			return err
		}
		return domainErrors.InvalidState("update refund", string(current.Status))
	}
	return nil
}

func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE payment_id = $1 ORDER BY created_at ASC, id ASC`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	refunds := []*refund.Refund{}
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

func (r *RefundRepository) ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*refund.Refund, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE status = 'processing' AND updated_at < $1
		 ORDER BY updated_at ASC, id ASC
		 LIMIT $2`, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list processing refunds: %w", err)
	}
	defer rows.Close()

	refunds := []*refund.Refund{}
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

func scanRefund(s scanner) (*refund.Refund, error) {
	rf := &refund.Refund{}
	var amount, status string
	err := s.Scan(
		&rf.ID, &rf.PaymentID, &amount, &rf.Currency, &rf.Reason, &status,
		&rf.GatewayRefundID, &rf.FailureReason, &rf.CreatedAt, &rf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrRefundNotFound
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	cents, err := numericStringToCents(amount)
	if err != nil {
		return nil, fmt.Errorf("parse refund amount: %w", err)
	}
	rf.AmountCents = cents
	rf.Status = refund.Status(status)
	return rf, nil
}
