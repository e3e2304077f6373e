package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/blockmarket/internal/exchange"
	"github.com/xtrntr/blockmarket/internal/models"
)

const orderColumns = `id::text, side, COALESCE(buyer_id, 0), COALESCE(seller_id, 0), status, price::text,
	restaurant, items, order_time, delivery_time, expiration_time, acceptance_time,
	is_disputed, payment_status, proof`

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o     models.Order
		price string
	)
	err := row.Scan(&o.ID, &o.Side, &o.BuyerID, &o.SellerID, &o.Status, &price,
		&o.Details.Restaurant, &o.Details.Items, &o.OrderTime, &o.DeliveryTime, &o.ExpirationTime, &o.AcceptanceTime,
		&o.IsDisputed, &o.PaymentStatus, &o.Proof)
	if err != nil {
		return models.Order{}, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return models.Order{}, fmt.Errorf("failed to parse price %q: %w", price, err)
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// nullable maps the unassigned sentinel to SQL NULL
func nullable(id int) *int {
	if id == models.Unassigned {
		return nil
	}
	return &id
}

// CreateOrder inserts a new order
func (db *DB) CreateOrder(ctx context.Context, o models.Order) (models.Order, error) {
	if o.Side != models.SideBuy && o.Side != models.SideSell {
		return models.Order{}, fmt.Errorf("%w: side must be 'buy' or 'sell'", models.ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return models.Order{}, fmt.Errorf("%w: price must be positive", models.ErrInvalidOrder)
	}
	items := o.Details.Items
	if items == nil {
		items = []string{}
	}

	created, err := scanOrder(db.Pool.QueryRow(ctx, `
		INSERT INTO orders (id, side, buyer_id, seller_id, status, price, restaurant, items,
			order_time, delivery_time, expiration_time, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		RETURNING `+orderColumns,
		o.ID, string(o.Side), nullable(o.BuyerID), nullable(o.SellerID), string(o.Status), o.Price.String(),
		o.Details.Restaurant, items, o.OrderTime, o.DeliveryTime, o.ExpirationTime, string(o.PaymentStatus)))
	if err != nil {
		return models.Order{}, transport("create order", err)
	}
	return created, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, id string) (models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id::text = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, models.ErrOrderNotFound
		}
		return models.Order{}, transport("get order", err)
	}
	return o, nil
}

// ListUserOrders retrieves every order a user takes part in, newest first.
// An empty status lists all of them.
func (db *DB) ListUserOrders(ctx context.Context, userID int, status models.Status) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE (buyer_id = $1 OR seller_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY order_time DESC`,
		userID, string(status))
	if err != nil {
		return nil, transport("list user orders", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, transport("list user orders", err)
	}
	return orders, nil
}

// ListOpenOrders retrieves the pending, unexpired orders that make up the book
func (db *DB) ListOpenOrders(ctx context.Context, now time.Time) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'PENDING' AND expiration_time > $1
			AND ((side = 'buy' AND seller_id IS NULL) OR (side = 'sell' AND buyer_id IS NULL))
		ORDER BY order_time ASC`, now)
	if err != nil {
		return nil, transport("list open orders", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, transport("list open orders", err)
	}
	return orders, nil
}

// ListRecentTrades retrieves the most recent matched orders, newest first
func (db *DB) ListRecentTrades(ctx context.Context, limit int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN ('ACCEPTED', 'COMPLETED') AND buyer_id IS NOT NULL AND seller_id IS NOT NULL
		ORDER BY order_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, transport("list recent trades", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, transport("list recent trades", err)
	}
	return orders, nil
}

// ListTradesSince retrieves the orders accepted at or after since, oldest first
func (db *DB) ListTradesSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN ('ACCEPTED', 'COMPLETED') AND buyer_id IS NOT NULL AND seller_id IS NOT NULL
			AND acceptance_time >= $1
		ORDER BY acceptance_time`, since)
	if err != nil {
		return nil, transport("list trades since", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, transport("list trades since", err)
	}
	return orders, nil
}

// AcceptOrder assigns requester as the missing party of a pending order. The
// update only applies while the order is still unclaimed and unexpired, so of
// two concurrent acceptances exactly one wins.
func (db *DB) AcceptOrder(ctx context.Context, id string, requester int, at time.Time) (models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, `
		UPDATE orders SET
			buyer_id = CASE WHEN side = 'sell' THEN $2 ELSE buyer_id END,
			seller_id = CASE WHEN side = 'buy' THEN $2 ELSE seller_id END,
			status = 'ACCEPTED',
			acceptance_time = $3
		WHERE id::text = $1 AND status = 'PENDING' AND expiration_time > $3
			AND ((side = 'buy' AND seller_id IS NULL AND buyer_id <> $2)
				OR (side = 'sell' AND buyer_id IS NULL AND seller_id <> $2))
		RETURNING `+orderColumns,
		id, requester, at))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, transport("accept order", err)
	}
	return models.Order{}, db.classify(ctx, id, func(cur models.Order) error {
		_, err := exchange.Accept(cur, requester, at)
		return err
	}, models.ErrOrderAlreadyClaimed)
}

// CancelOrder cancels a pending order on behalf of its originating party
func (db *DB) CancelOrder(ctx context.Context, id string, requester int) (models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, `
		UPDATE orders SET status = 'CANCELLED'
		WHERE id::text = $1 AND status = 'PENDING'
			AND ((side = 'buy' AND buyer_id = $2 AND seller_id IS NULL)
				OR (side = 'sell' AND seller_id = $2 AND buyer_id IS NULL))
		RETURNING `+orderColumns,
		id, requester))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, transport("cancel order", err)
	}
	return models.Order{}, db.classify(ctx, id, func(cur models.Order) error {
		_, err := exchange.Cancel(cur, requester)
		return err
	}, models.ErrInvalidTransition)
}

// CompleteOrder marks an accepted order fulfilled on behalf of its seller
func (db *DB) CompleteOrder(ctx context.Context, id string, requester int, proof string) (models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, `
		UPDATE orders SET status = 'COMPLETED', proof = CASE WHEN $3 = '' THEN proof ELSE $3 END
		WHERE id::text = $1 AND status = 'ACCEPTED' AND seller_id = $2
		RETURNING `+orderColumns,
		id, requester, proof))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, transport("complete order", err)
	}
	return models.Order{}, db.classify(ctx, id, func(cur models.Order) error {
		_, err := exchange.Complete(cur, requester, proof, false)
		return err
	}, models.ErrInvalidTransition)
}

// classify explains why a conditional update matched no row. When the current
// row would now pass the check, it changed under us and raced is returned.
func (db *DB) classify(ctx context.Context, id string, check func(models.Order) error, raced error) error {
	cur, err := db.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if err := check(cur); err != nil {
		return err
	}
	return raced
}

// SetPaymentStatus annotates the payment attached to an order
func (db *DB) SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE orders SET payment_status = $2 WHERE id::text = $1", id, string(status))
	if err != nil {
		return transport("update payment status", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

// SetDisputed flags an order as disputed by one of its parties
func (db *DB) SetDisputed(ctx context.Context, id string, requester int) (models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, `
		UPDATE orders SET is_disputed = true
		WHERE id::text = $1 AND (buyer_id = $2 OR seller_id = $2)
		RETURNING `+orderColumns, id, requester))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := db.GetOrder(ctx, id); gerr != nil {
				return models.Order{}, gerr
			}
			return models.Order{}, fmt.Errorf("%w: only a party to the order may dispute it", models.ErrInvalidTransition)
		}
		return models.Order{}, transport("dispute order", err)
	}
	return o, nil
}
