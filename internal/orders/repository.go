package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/blockmarket/internal/exchange"
	"github.com/xtrntr/blockmarket/internal/models"
	"github.com/xtrntr/blockmarket/internal/store"
)

// Repository is the remote order table. Accept, Cancel and Complete must be
// conditional updates: the repository, not the caller, decides whether the
// transition is still allowed when it applies.
type Repository interface {
	CreateOrder(ctx context.Context, o models.Order) (models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListUserOrders(ctx context.Context, userID int, status models.Status) ([]models.Order, error)
	ListOpenOrders(ctx context.Context, now time.Time) ([]models.Order, error)
	ListRecentTrades(ctx context.Context, limit int) ([]models.Order, error)
	ListTradesSince(ctx context.Context, since time.Time) ([]models.Order, error)
	AcceptOrder(ctx context.Context, id string, requester int, at time.Time) (models.Order, error)
	CancelOrder(ctx context.Context, id string, requester int) (models.Order, error)
	CompleteOrder(ctx context.Context, id string, requester int, proof string) (models.Order, error)
	SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error
	SetDisputed(ctx context.Context, id string, requester int) (models.Order, error)
}

// MemoryRepository keeps the order table in process. It backs demo mode and tests.
type MemoryRepository struct {
	orders *store.Store
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository(orders ...models.Order) *MemoryRepository {
	return &MemoryRepository{orders: store.New(orders...)}
}

func (m *MemoryRepository) CreateOrder(ctx context.Context, o models.Order) (models.Order, error) {
	if _, ok := m.orders.Get(o.ID); ok {
		return models.Order{}, fmt.Errorf("%w: duplicate order id %s", models.ErrInvalidOrder, o.ID)
	}
	m.orders.Upsert(o)
	return o, nil
}

func (m *MemoryRepository) GetOrder(ctx context.Context, id string) (models.Order, error) {
	o, ok := m.orders.Get(id)
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	return o, nil
}

func (m *MemoryRepository) ListUserOrders(ctx context.Context, userID int, status models.Status) ([]models.Order, error) {
	out := m.list(func(o models.Order) bool {
		return o.Involves(userID) && (status == "" || o.Status == status)
	})
	reverse(out)
	return out, nil
}

func (m *MemoryRepository) ListOpenOrders(ctx context.Context, now time.Time) ([]models.Order, error) {
	return m.list(func(o models.Order) bool { return o.Open(now) }), nil
}

func (m *MemoryRepository) ListRecentTrades(ctx context.Context, limit int) ([]models.Order, error) {
	out := m.list(models.Order.IsTrade)
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListTradesSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	return m.list(func(o models.Order) bool {
		return o.IsTrade() && o.AcceptanceTime != nil && !o.AcceptanceTime.Before(since)
	}), nil
}

func (m *MemoryRepository) AcceptOrder(ctx context.Context, id string, requester int, at time.Time) (models.Order, error) {
	return m.orders.Update(id, func(o models.Order) (models.Order, error) {
		return exchange.Accept(o, requester, at)
	})
}

func (m *MemoryRepository) CancelOrder(ctx context.Context, id string, requester int) (models.Order, error) {
	return m.orders.Update(id, func(o models.Order) (models.Order, error) {
		return exchange.Cancel(o, requester)
	})
}

func (m *MemoryRepository) CompleteOrder(ctx context.Context, id string, requester int, proof string) (models.Order, error) {
	return m.orders.Update(id, func(o models.Order) (models.Order, error) {
		return exchange.Complete(o, requester, proof, false)
	})
}

func (m *MemoryRepository) SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	_, err := m.orders.Update(id, func(o models.Order) (models.Order, error) {
		o.PaymentStatus = status
		return o, nil
	})
	return err
}

func (m *MemoryRepository) SetDisputed(ctx context.Context, id string, requester int) (models.Order, error) {
	return m.orders.Update(id, func(o models.Order) (models.Order, error) {
		if !o.Involves(requester) {
			return o, fmt.Errorf("%w: only a party to the order may dispute it", models.ErrInvalidTransition)
		}
		o.IsDisputed = true
		return o, nil
	})
}

func (m *MemoryRepository) list(pred func(models.Order) bool) []models.Order {
	var out []models.Order
	for o := range m.orders.Query(pred) {
		out = append(out, o)
	}
	return out
}

func reverse(orders []models.Order) {
	for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
		orders[i], orders[j] = orders[j], orders[i]
	}
}
