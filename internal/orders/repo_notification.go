package orders

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepo is append-only; rows are never updated.
type NotificationRepo struct{ DB *pgxpool.Pool }

func (r *NotificationRepo) Append(ctx context.Context, ev NotificationEvent) error {
	if ev.Direction == "" {
		ev.Direction = "outbound"
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notification_events(id, order_id, phone, message_type, direction, delivery_status, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.OrderID, ev.Phone, ev.MessageType, ev.Direction, ev.DeliveryStatus, ev.Error, ev.CreatedAt)
	return err
}

func (r *NotificationRepo) CountByOrder(ctx context.Context, orderID, messageType string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_events WHERE order_id=$1 AND message_type=$2`,
		orderID, messageType).Scan(&n)
	return n, err
}
