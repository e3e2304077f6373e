package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// OrdersChannel is notified with the order id on every insert or update of the orders table.
const OrdersChannel = "orders_changed"

// Listen holds a dedicated connection subscribed to OrdersChannel and calls fn
// with each notification payload until ctx ends or the connection fails.
func (db *DB) Listen(ctx context.Context, fn func(payload string)) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return transport("acquire listen connection", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{OrdersChannel}.Sanitize()); err != nil {
		return transport("listen", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
		fn(n.Payload)
	}
}
