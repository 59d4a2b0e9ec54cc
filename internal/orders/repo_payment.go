package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepo is the Payment Transaction Ledger. external_ref is unique and is
// the idempotency key for webhook processing.
type PaymentRepo struct{ DB *pgxpool.Pool }

const txColumns = `id, external_ref, order_id, gateway, amount_paise, status, payment_link,
	schema_version, created_at, completed_at`

func scanTx(row pgx.Row) (PaymentTransaction, error) {
	var t PaymentTransaction
	err := row.Scan(&t.ID, &t.ExternalRef, &t.OrderID, &t.Gateway, &t.AmountPaise, &t.Status,
		&t.PaymentLink, &t.SchemaVersion, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentTransaction{}, ErrNotFound
	}
	return t, err
}

func (r *PaymentRepo) InsertTransaction(ctx context.Context, t PaymentTransaction) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payment_transactions(`+txColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (external_ref) DO NOTHING`,
		t.ID, t.ExternalRef, t.OrderID, t.Gateway, t.AmountPaise, t.Status, t.PaymentLink,
		SchemaVersion, t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment transaction %s: %w", t.ExternalRef, err)
	}
	return nil
}

func (r *PaymentRepo) GetByExternalRef(ctx context.Context, ref string) (PaymentTransaction, error) {
	return scanTx(r.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE external_ref=$1`, ref))
}

// GetPendingByOrder returns the newest pending transaction for an order.
func (r *PaymentRepo) GetPendingByOrder(ctx context.Context, orderID string) (PaymentTransaction, error) {
	return scanTx(r.DB.QueryRow(ctx, `
		SELECT `+txColumns+` FROM payment_transactions
		WHERE order_id=$1 AND status='pending'
		ORDER BY created_at DESC LIMIT 1`, orderID))
}

// CompleteIfPending settles a transaction exactly once. applied is false when
// the transaction was already terminal, which callers treat as a replay.
func (r *PaymentRepo) CompleteIfPending(ctx context.Context, ref string, at time.Time) (PaymentTransaction, bool, error) {
	return r.settle(ctx, ref, PaymentCompleted, &at)
}

// FailIfPending marks an expired or cancelled link as failed.
func (r *PaymentRepo) FailIfPending(ctx context.Context, ref string) (PaymentTransaction, bool, error) {
	return r.settle(ctx, ref, PaymentFailed, nil)
}

func (r *PaymentRepo) settle(ctx context.Context, ref string, to PaymentStatus, at *time.Time) (PaymentTransaction, bool, error) {
	t, err := scanTx(r.DB.QueryRow(ctx, `
		UPDATE payment_transactions SET status=$2, completed_at=$3
		WHERE external_ref=$1 AND status='pending'
		RETURNING `+txColumns, ref, to, at))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PaymentTransaction{}, false, err
	}
	// Either unknown or already terminal.
	t, err = r.GetByExternalRef(ctx, ref)
	if err != nil {
		return PaymentTransaction{}, false, err
	}
	return t, false, nil
}
