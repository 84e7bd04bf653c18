package postgres

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied at startup; every statement is safe to re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS books (
	id            BIGINT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	price_cents   BIGINT NOT NULL CHECK (price_cents >= 0),
	available_qty INT NOT NULL CHECK (available_qty >= 0),
	version       BIGINT NOT NULL DEFAULT 1,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stock_reservations (
	id         TEXT PRIMARY KEY,            -- <order_id>/<book_id>
	book_id    BIGINT NOT NULL REFERENCES books(id),
	qty        INT NOT NULL CHECK (qty > 0),
	status     TEXT NOT NULL,               -- RESERVED | RELEASED | COMMITTED
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	total_cents      BIGINT NOT NULL,
	shipping_address TEXT NOT NULL,
	idempotency_key  TEXT UNIQUE,
	version          BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id         TEXT NOT NULL REFERENCES orders(id),
	line_no          INT NOT NULL,
	book_id          BIGINT NOT NULL,
	qty              INT NOT NULL CHECK (qty > 0),
	unit_price_cents BIGINT NOT NULL,
	PRIMARY KEY (order_id, line_no)
);

CREATE TABLE IF NOT EXISTS payments (
	id                   TEXT PRIMARY KEY,
	order_id             TEXT NOT NULL UNIQUE REFERENCES orders(id),
	amount_cents         BIGINT NOT NULL,
	currency             TEXT NOT NULL,
	status               TEXT NOT NULL,     -- CREATED | CAPTURED | FAILED
	token                TEXT NOT NULL,
	failure_reason       TEXT NOT NULL DEFAULT '',
	capture_requested_at TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);
CREATE INDEX IF NOT EXISTS idx_payments_token ON payments(token);
CREATE INDEX IF NOT EXISTS idx_reservations_status_created ON stock_reservations(status, created_at);
`

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
