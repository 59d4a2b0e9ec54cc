package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Order Ledger. Every status change is a compare-and-swap on the
// current order_status so concurrent writers on one order cannot both win.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_id, seller_id, live_session_id, saree_id, saree_code,
	customer_name, phone_number, address, payment_method, payment_status, order_status,
	amount_paise, extensions, tracking_id, reminder_sent_at, reservation_expires_at,
	schema_version, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderID, &o.SellerID, &o.LiveSessionID, &o.SareeID, &o.SareeCode,
		&o.CustomerName, &o.PhoneNumber, &o.Address, &o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus,
		&o.AmountPaise, &o.Extensions, &o.TrackingID, &o.ReminderSentAt, &o.ReservationExpiresAt,
		&o.SchemaVersion, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) InsertOrder(ctx context.Context, o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO live_orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.ID, o.OrderID, o.SellerID, o.LiveSessionID, o.SareeID, o.SareeCode,
		o.CustomerName, o.PhoneNumber, o.Address, o.PaymentMethod, o.PaymentStatus, o.OrderStatus,
		o.AmountPaise, o.Extensions, o.TrackingID, o.ReminderSentAt, o.ReservationExpiresAt,
		SchemaVersion, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// GetOrder is seller-scoped; another seller's order reads as ErrNotFound.
func (r *Repo) GetOrder(ctx context.Context, sellerID, orderID string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM live_orders WHERE order_id=$1 AND seller_id=$2`, orderID, sellerID))
}

// GetOrderByOrderID is used by background paths that have no seller context.
func (r *Repo) GetOrderByOrderID(ctx context.Context, orderID string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM live_orders WHERE order_id=$1`, orderID))
}

func (r *Repo) ListOrders(ctx context.Context, sellerID string, status OrderStatus) ([]Order, error) {
	q := `SELECT ` + orderColumns + ` FROM live_orders WHERE seller_id=$1`
	args := []any{sellerID}
	if status != "" {
		q += ` AND order_status=$2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC LIMIT 500`
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// TransitionOrder moves an order from -> to only if it is still in from.
func (r *Repo) TransitionOrder(ctx context.Context, orderID string, from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_orders SET order_status=$3, updated_at=now()
		WHERE order_id=$1 AND order_status=$2`, orderID, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.missingOrStale(ctx, orderID)
	}
	return nil
}

// MarkOrderPaid records a settled payment on its order. Pending and expired
// orders become confirmed; an order the seller already confirmed or
// dispatched keeps its fulfilment status. Cancelled orders are left alone and
// reported as a data-integrity anomaly. applied is false when the order was
// already marked paid.
func (r *Repo) MarkOrderPaid(ctx context.Context, orderID string) (applied bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_orders
		SET payment_status='completed',
		    order_status=CASE WHEN order_status IN ('pending','expired') THEN 'confirmed' ELSE order_status END,
		    updated_at=now()
		WHERE order_id=$1 AND payment_status <> 'completed'
		  AND order_status IN ('pending','expired','confirmed','dispatched')`, orderID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	o, err := r.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.PaymentStatus == PaymentCompleted {
		return false, nil
	}
	return false, fmt.Errorf("%w: payment settled on %s order %s", ErrDataIntegrity, o.OrderStatus, orderID)
}

// ExtendReservation records a new reservation deadline while the order is
// pending and has fewer than maxExtensions extensions.
func (r *Repo) ExtendReservation(ctx context.Context, orderID string, expiresAt time.Time, maxExtensions int) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_orders
		SET reservation_expires_at=$2, extensions=extensions+1, updated_at=now()
		WHERE order_id=$1 AND order_status='pending' AND extensions < $3`, orderID, expiresAt, maxExtensions)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		o, err := r.GetOrderByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Extensions >= maxExtensions {
			return ErrExtensionLimit
		}
		return ErrStaleTransition
	}
	return nil
}

// RevertExtension gives back an extension claimed by ExtendReservation whose
// reservation could not be extended, restoring the previous deadline.
func (r *Repo) RevertExtension(ctx context.Context, orderID string, expiresAt time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_orders
		SET reservation_expires_at=$2, extensions=extensions-1, updated_at=now()
		WHERE order_id=$1 AND extensions > 0`, orderID, expiresAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.missingOrStale(ctx, orderID)
	}
	return nil
}

// ListLapsed returns pending online orders whose reservation deadline passed.
func (r *Repo) ListLapsed(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM live_orders
		WHERE order_status='pending' AND payment_status <> 'completed'
		  AND payment_method IN ('upi','card') AND reservation_expires_at <= $1
		ORDER BY reservation_expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// ListDueReminders returns pending online orders expiring within window that
// have not been reminded yet.
func (r *Repo) ListDueReminders(ctx context.Context, now time.Time, window time.Duration, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM live_orders
		WHERE order_status='pending' AND payment_status <> 'completed'
		  AND payment_method IN ('upi','card') AND reminder_sent_at IS NULL
		  AND reservation_expires_at > $1 AND reservation_expires_at <= $2
		ORDER BY reservation_expires_at LIMIT $3`, now, now.Add(window), limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// MarkReminded claims the single reminder slot of an order.
func (r *Repo) MarkReminded(ctx context.Context, orderID string, at time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_orders SET reminder_sent_at=$2, updated_at=now()
		WHERE order_id=$1 AND reminder_sent_at IS NULL`, orderID, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) SetTracking(ctx context.Context, orderID, trackingID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_orders SET tracking_id=$2, updated_at=now() WHERE order_id=$1`, orderID, trackingID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) missingOrStale(ctx context.Context, orderID string) error {
	var n int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM live_orders WHERE order_id=$1`, orderID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleTransition
}

// CatalogRepo is a read-only view over the seller's saree catalog.
type CatalogRepo struct{ DB *pgxpool.Pool }

func (r *CatalogRepo) GetSaree(ctx context.Context, sellerID, code string) (Saree, error) {
	var s Saree
	err := r.DB.QueryRow(ctx, `
		SELECT id, seller_id, saree_code, name, price_paise, stock_quantity
		FROM sarees WHERE seller_id=$1 AND saree_code=$2`, sellerID, code,
	).Scan(&s.ID, &s.SellerID, &s.Code, &s.Name, &s.PricePaise, &s.StockQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return Saree{}, ErrNotFound
	}
	return s, err
}

type SessionRepo struct{ DB *pgxpool.Pool }

// IncrementSessionCounters adds deltas in place; never read-modify-write.
func (r *SessionRepo) IncrementSessionCounters(ctx context.Context, sessionID string, orderDelta, revenueDelta int64) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE live_sessions
		SET total_orders = total_orders + $2, total_revenue_paise = total_revenue_paise + $3
		WHERE id=$1`, sessionID, orderDelta, revenueDelta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("live session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}
