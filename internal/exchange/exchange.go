// Package exchange prices the block market and governs the order lifecycle.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/models"
	"github.com/xtrntr/blockmarket/internal/store"
)

// Source is the remote order table the engine mirrors
type Source interface {
	ListOpenOrders(ctx context.Context, now time.Time) ([]models.Order, error)
	ListRecentTrades(ctx context.Context, limit int) ([]models.Order, error)
}

// Snapshot is the derived market state after a recompute
type Snapshot struct {
	Quote     Quote     `json:"quote"`
	Book      Book      `json:"book"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exchange keeps a local mirror of the order table and recomputes the price
// and the order book every time the mirror changes.
type Exchange struct {
	Store  *store.Store
	Oracle *Oracle
	Source Source
	Logger *zap.Logger
	Now    func() time.Time

	recomputeMu sync.Mutex

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []func(Snapshot)

	unsubscribe func()
}

// NewExchange creates an exchange over a fresh store
func NewExchange(src Source, oracle *Oracle, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exchange{
		Store:  store.New(),
		Oracle: oracle,
		Source: src,
		Logger: logger,
		Now:    time.Now,
	}
	e.unsubscribe = e.Store.Subscribe(e.recompute)
	e.recompute()
	return e
}

// Close detaches the exchange from its store
func (e *Exchange) Close() {
	e.unsubscribe()
}

// OnUpdate registers fn to receive every recomputed snapshot
func (e *Exchange) OnUpdate(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Snapshot returns the latest derived market state
func (e *Exchange) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Quote returns the current price
func (e *Exchange) Quote() Quote {
	return e.Snapshot().Quote
}

// SeedPrice sets the last known price, typically from the price history, and
// recomputes the quote.
func (e *Exchange) SeedPrice(price decimal.Decimal) {
	e.Oracle.SetLast(price)
	e.recompute()
}

// Apply records an order returned by a successful remote mutation.
func (e *Exchange) Apply(o models.Order) {
	e.Store.Upsert(o)
}

// RecentTrades returns up to limit matched orders, newest first.
func (e *Exchange) RecentTrades(limit int) []models.Order {
	var trades []models.Order
	for o := range e.Store.Query(models.Order.IsTrade) {
		trades = append(trades, o)
	}
	// Query yields oldest first
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades
}

// Refresh reloads the mirror from the source. The result is dropped when ctx
// is cancelled before it arrives or when the mirror changed in the meantime.
func (e *Exchange) Refresh(ctx context.Context) error {
	if e.Source == nil {
		return nil
	}
	version := e.Store.Version()

	open, err := e.Source.ListOpenOrders(ctx, e.Now())
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}
	trades, err := e.Source.ListRecentTrades(ctx, e.Oracle.Window)
	if err != nil {
		return fmt.Errorf("failed to list recent trades: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	orders := make([]models.Order, 0, len(open)+len(trades))
	orders = append(orders, open...)
	orders = append(orders, trades...)
	if !e.Store.ReplaceIf(version, orders) {
		e.Logger.Debug("discarding stale refresh", zap.Uint64("version", version))
	}
	return nil
}

// recompute must not be re-entered from a listener that mutates the store.
func (e *Exchange) recompute() {
	e.recomputeMu.Lock()
	defer e.recomputeMu.Unlock()

	now := e.Now()
	var open []models.Order
	for o := range e.Store.Query(func(o models.Order) bool { return o.Open(now) }) {
		open = append(open, o)
	}

	snap := Snapshot{
		Quote:     e.Oracle.Quote(e.Store.Query(nil), now),
		Book:      Aggregate(open),
		UpdatedAt: now,
	}

	e.mu.Lock()
	e.snapshot = snap
	listeners := append([]func(Snapshot){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
