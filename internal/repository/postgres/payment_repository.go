package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, idempotency_key, order_id, amount::text, currency, tip::text,
		        method, channel, gateway, status, gateway_transaction_id, card_last_four, card_brand, receipt_ref,
		        gateway_fee::text, refunded_amount::text, pending_refund_amount::text,
		        attempts, last_error, retryable, metadata, version,
		        authorized_at, created_at, updated_at, completed_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payments
		 (id, idempotency_key, order_id, amount, currency, tip,
		  method, channel, gateway, status, gateway_transaction_id, card_last_four, card_brand, receipt_ref,
		  gateway_fee, refunded_amount, pending_refund_amount,
		  attempts, last_error, retryable, metadata, version,
		  authorized_at, created_at, updated_at, completed_at)
		 VALUES ($1,$2,$3,$4::numeric,$5,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14,
		         $15::numeric,$16::numeric,$17::numeric,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		p.ID, p.IdempotencyKey, p.OrderID, centsToNumericString(p.Amount.ValueCents), p.Amount.Currency,
		centsToNumericString(p.TipCents),
		string(p.Method), string(p.Channel), nullableGateway(p.Gateway), string(p.Status),
		p.GatewayTransactionID, p.CardLastFour, p.CardBrand, p.ReceiptRef,
		centsToNumericString(p.GatewayFeeCents), centsToNumericString(p.RefundedCents),
		centsToNumericString(p.PendingRefundCents),
		p.Attempts, p.LastError, p.Retryable, metadata, p.Version,
		p.AuthorizedAt, p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetByIdempotencyKey retrieves a payment by idempotency key.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

// Update writes the mutable fields of p when the stored version matches
// p.Version, then advances p.Version.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET
		  status=$1, gateway_transaction_id=$2, card_last_four=$3, card_brand=$4, receipt_ref=$5,
		  refunded_amount=$6::numeric, pending_refund_amount=$7::numeric,
		  attempts=$8, last_error=$9, retryable=$10, metadata=$11,
		  authorized_at=$12, updated_at=$13, completed_at=$14, version = version + 1
		 WHERE id=$15 AND version=$16`,
		string(p.Status), p.GatewayTransactionID, p.CardLastFour, p.CardBrand, p.ReceiptRef,
		centsToNumericString(p.RefundedCents), centsToNumericString(p.PendingRefundCents),
		p.Attempts, p.LastError, p.Retryable, metadata,
		p.AuthorizedAt, p.UpdatedAt, p.CompletedAt, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, p.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check payment: %w", err)
		}
		if !exists {
			return domainErrors.ErrPaymentNotFound
		}
		return domainErrors.ErrConcurrentModification
	}
	p.Version++
	return nil
}

// ListByOrder lists the payments taken against an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments by order: %w", err)
	}
	defer rows.Close()

	payments := []*payment.Payment{}
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListUnfinished lists payments the recovery pass should pick up: PENDING,
// or PROCESSING without an authorization, untouched since updatedBefore.
func (r *PaymentRepository) ListUnfinished(ctx context.Context, updatedBefore time.Time, limit int) ([]*payment.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE (status = 'pending' OR (status = 'processing' AND authorized_at IS NULL))
		   AND updated_at < $1
		 ORDER BY updated_at ASC, id ASC
		 LIMIT $2`, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished payments: %w", err)
	}
	defer rows.Close()

	payments := []*payment.Payment{}
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- scanning helpers ---

// scanPayment scans a payment from any source implementing the scanner interface.
func (r *PaymentRepository) scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{Metadata: make(map[string]any)}
	var (
		amount, tip, fee, refunded, pending string
		method, channel, status             string
		gw                                  *string
		metadata                            []byte
	)
	err := s.Scan(
		&p.ID, &p.IdempotencyKey, &p.OrderID, &amount, &p.Amount.Currency, &tip,
		&method, &channel, &gw, &status, &p.GatewayTransactionID, &p.CardLastFour, &p.CardBrand, &p.ReceiptRef,
		&fee, &refunded, &pending,
		&p.Attempts, &p.LastError, &p.Retryable, &metadata, &p.Version,
		&p.AuthorizedAt, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	for _, f := range []struct {
		src string
		dst *int64
	}{
		{amount, &p.Amount.ValueCents},
		{tip, &p.TipCents},
		{fee, &p.GatewayFeeCents},
		{refunded, &p.RefundedCents},
		{pending, &p.PendingRefundCents},
	} {
		cents, err := numericStringToCents(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		*f.dst = cents
	}

	p.Method = payment.Method(method)
	p.Channel = gateway.Channel(channel)
	p.Status = payment.PaymentStatus(status)
	if gw != nil {
		p.Gateway = gateway.ID(*gw)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal payment metadata: %w", err)
		}
	}
	return p, nil
}

// nullableGateway stores CASH payments without a gateway as NULL.
func nullableGateway(id gateway.ID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}
