package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createSareesSQL = `
CREATE TABLE IF NOT EXISTS sarees (
	id             TEXT PRIMARY KEY,
	seller_id      TEXT NOT NULL,
	saree_code     TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	price_paise    BIGINT NOT NULL CHECK (price_paise >= 0),
	stock_quantity INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (seller_id, saree_code)
);`

const createLiveSessionsSQL = `
CREATE TABLE IF NOT EXISTS live_sessions (
	id                  TEXT PRIMARY KEY,
	seller_id           TEXT NOT NULL,
	total_orders        BIGINT NOT NULL DEFAULT 0,
	total_revenue_paise BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createLiveOrdersSQL = `
CREATE TABLE IF NOT EXISTS live_orders (
	id                     TEXT PRIMARY KEY,
	order_id               TEXT NOT NULL UNIQUE,
	seller_id              TEXT NOT NULL,
	live_session_id        TEXT NOT NULL,
	saree_id               TEXT NOT NULL,
	saree_code             TEXT NOT NULL,
	customer_name          TEXT NOT NULL,
	phone_number           TEXT NOT NULL,
	address                TEXT NOT NULL DEFAULT '',
	payment_method         TEXT NOT NULL CHECK (payment_method IN ('upi','card','cod')),
	payment_status         TEXT NOT NULL CHECK (payment_status IN ('pending','completed','failed')),
	order_status           TEXT NOT NULL CHECK (order_status IN ('pending','confirmed','dispatched','cancelled','expired')),
	amount_paise           BIGINT NOT NULL,
	extensions             INTEGER NOT NULL DEFAULT 0,
	tracking_id            TEXT NOT NULL DEFAULT '',
	reminder_sent_at       TIMESTAMPTZ,
	reservation_expires_at TIMESTAMPTZ NOT NULL,
	schema_version         INTEGER NOT NULL DEFAULT 1,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	CHECK (payment_status <> 'completed' OR order_status IN ('confirmed','dispatched'))
);
CREATE INDEX IF NOT EXISTS live_orders_seller_created_idx ON live_orders (seller_id, created_at DESC);
CREATE INDEX IF NOT EXISTS live_orders_pending_expiry_idx ON live_orders (reservation_expires_at) WHERE order_status = 'pending';`

const createPaymentTransactionsSQL = `
CREATE TABLE IF NOT EXISTS payment_transactions (
	id             TEXT PRIMARY KEY,
	external_ref   TEXT NOT NULL UNIQUE,
	order_id       TEXT NOT NULL REFERENCES live_orders (order_id),
	gateway        TEXT NOT NULL,
	amount_paise   BIGINT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('pending','completed','failed')),
	payment_link   TEXT NOT NULL DEFAULT '',
	schema_version INTEGER NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS payment_transactions_order_idx ON payment_transactions (order_id);`

const createNotificationEventsSQL = `
CREATE TABLE IF NOT EXISTS notification_events (
	id              TEXT PRIMARY KEY,
	order_id        TEXT NOT NULL,
	phone           TEXT NOT NULL,
	message_type    TEXT NOT NULL,
	direction       TEXT NOT NULL DEFAULT 'outbound',
	delivery_status TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notification_events_order_idx ON notification_events (order_id, message_type);`

// Migrate creates the tables this service owns. Safe to run on every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	steps := []struct {
		name string
		sql  string
	}{
		{"sarees", createSareesSQL},
		{"live_sessions", createLiveSessionsSQL},
		{"live_orders", createLiveOrdersSQL},
		{"payment_transactions", createPaymentTransactionsSQL},
		{"notification_events", createNotificationEventsSQL},
	}
	for _, s := range steps {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
	}
	return nil
}
