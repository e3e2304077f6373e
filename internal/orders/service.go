// Package orders runs the order lifecycle against the remote order table.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/exchange"
	"github.com/xtrntr/blockmarket/internal/models"
)

// Prices are stored as NUMERIC(12, 2).
const priceDecimals = 2

var minPrice = decimal.New(1, -priceDecimals)

// Payer moves the value of an order from its buyer
type Payer interface {
	Pay(ctx context.Context, o models.Order) error
}

// Directory knows which restaurants exist
type Directory interface {
	Has(ctx context.Context, name string) (bool, error)
}

// CreateRequest describes a new order posted by UserID
type CreateRequest struct {
	UserID       int
	Side         models.Side
	Kind         models.Kind
	Price        decimal.Decimal
	Details      models.Details
	DeliveryTime time.Time
	TTL          time.Duration
}

// Service validates order actions and applies them through the repository
type Service struct {
	Repo      Repository
	Exchange  *exchange.Exchange
	Payer     Payer
	Directory Directory
	Logger    *zap.Logger

	DefaultTTL   time.Duration
	MaxTTL       time.Duration
	RequireProof bool
	Now          func() time.Time
}

// NewService creates a service with the default order lifetimes
func NewService(repo Repository, ex *exchange.Exchange, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Repo:       repo,
		Exchange:   ex,
		Logger:     logger,
		DefaultTTL: time.Hour,
		MaxTTL:     2 * time.Hour,
		Now:        time.Now,
	}
}

// Create posts a bid or an ask. Market orders take the current oracle price.
func (s *Service) Create(ctx context.Context, req CreateRequest) (models.Order, error) {
	if req.UserID == models.Unassigned {
		return models.Order{}, models.ErrUnauthenticated
	}
	now := s.Now()

	o := models.Order{
		ID:            uuid.NewString(),
		Side:          req.Side,
		Status:        models.StatusPending,
		Details:       cleanDetails(req.Details),
		OrderTime:     now,
		DeliveryTime:  req.DeliveryTime,
		PaymentStatus: models.PaymentNone,
	}

	switch req.Side {
	case models.SideBuy:
		o.BuyerID = req.UserID
		if o.Details.Restaurant == "" {
			return models.Order{}, fmt.Errorf("%w: restaurant is required", models.ErrInvalidOrder)
		}
	case models.SideSell:
		o.SellerID = req.UserID
	default:
		return models.Order{}, fmt.Errorf("%w: side must be 'buy' or 'sell'", models.ErrInvalidOrder)
	}

	switch req.Kind {
	case models.KindLimit, "":
		if !req.Price.Equal(req.Price.Round(priceDecimals)) {
			return models.Order{}, fmt.Errorf("%w: price has more than %d decimals", models.ErrInvalidOrder, priceDecimals)
		}
		o.Price = req.Price
	case models.KindMarket:
		o.Price = s.Exchange.Quote().Price.Round(priceDecimals)
	default:
		return models.Order{}, fmt.Errorf("%w: kind must be 'limit' or 'market'", models.ErrInvalidOrder)
	}
	if o.Price.LessThan(minPrice) {
		return models.Order{}, fmt.Errorf("%w: price must be at least %s", models.ErrInvalidOrder, minPrice)
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.DefaultTTL
	}
	if ttl < 0 || ttl > s.MaxTTL {
		return models.Order{}, fmt.Errorf("%w: expiry must be between 0 and %s", models.ErrInvalidOrder, s.MaxTTL)
	}
	o.ExpirationTime = now.Add(ttl)

	if o.DeliveryTime.IsZero() {
		o.DeliveryTime = now
	} else if o.DeliveryTime.Before(now) {
		return models.Order{}, fmt.Errorf("%w: delivery time is in the past", models.ErrInvalidOrder)
	}

	if err := s.checkRestaurant(ctx, o.Details.Restaurant); err != nil {
		return models.Order{}, err
	}

	created, err := s.Repo.CreateOrder(ctx, o)
	if err != nil {
		s.Logger.Error("create order failed", zap.String("side", string(o.Side)), zap.Error(err))
		return models.Order{}, err
	}
	s.Logger.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("side", string(created.Side)),
		zap.String("price", created.Price.String()))

	if created.Side == models.SideBuy {
		created = s.pay(ctx, created)
	}
	s.apply(ctx, created)
	return created, nil
}

// Accept claims an open order for requester
func (s *Service) Accept(ctx context.Context, id string, requester int) (models.Order, error) {
	if requester == models.Unassigned {
		return models.Order{}, models.ErrUnauthenticated
	}
	o, err := s.Repo.AcceptOrder(ctx, id, requester, s.Now())
	if err != nil {
		s.Logger.Warn("accept order failed", zap.String("order_id", id), zap.Int("requester", requester), zap.Error(err))
		if errors.Is(err, models.ErrOrderAlreadyClaimed) {
			if rerr := s.Exchange.Refresh(ctx); rerr != nil {
				s.Logger.Warn("refresh after lost acceptance failed", zap.Error(rerr))
			}
		}
		return models.Order{}, err
	}
	s.Logger.Info("order accepted", zap.String("order_id", o.ID), zap.Int("requester", requester))

	if o.Side == models.SideSell {
		o = s.pay(ctx, o)
	}
	s.apply(ctx, o)
	return o, nil
}

// Cancel withdraws an unclaimed order on behalf of its originator
func (s *Service) Cancel(ctx context.Context, id string, requester int) (models.Order, error) {
	if requester == models.Unassigned {
		return models.Order{}, models.ErrUnauthenticated
	}
	o, err := s.Repo.CancelOrder(ctx, id, requester)
	if err != nil {
		s.Logger.Warn("cancel order failed", zap.String("order_id", id), zap.Int("requester", requester), zap.Error(err))
		return models.Order{}, err
	}
	s.Logger.Info("order cancelled", zap.String("order_id", o.ID))
	s.apply(ctx, o)
	return o, nil
}

// Complete marks an accepted order fulfilled on behalf of its seller
func (s *Service) Complete(ctx context.Context, id string, requester int, proof string) (models.Order, error) {
	if requester == models.Unassigned {
		return models.Order{}, models.ErrUnauthenticated
	}
	proof = strings.TrimSpace(proof)
	if s.RequireProof && proof == "" {
		return models.Order{}, fmt.Errorf("%w: proof of completion required", models.ErrInvalidTransition)
	}
	o, err := s.Repo.CompleteOrder(ctx, id, requester, proof)
	if err != nil {
		s.Logger.Warn("complete order failed", zap.String("order_id", id), zap.Int("requester", requester), zap.Error(err))
		return models.Order{}, err
	}
	s.Logger.Info("order completed", zap.String("order_id", o.ID))
	s.apply(ctx, o)
	return o, nil
}

// Dispute flags an order on behalf of one of its parties
func (s *Service) Dispute(ctx context.Context, id string, requester int) (models.Order, error) {
	if requester == models.Unassigned {
		return models.Order{}, models.ErrUnauthenticated
	}
	o, err := s.Repo.SetDisputed(ctx, id, requester)
	if err != nil {
		s.Logger.Warn("dispute order failed", zap.String("order_id", id), zap.Error(err))
		return models.Order{}, err
	}
	s.Logger.Info("order disputed", zap.String("order_id", o.ID), zap.Int("requester", requester))
	s.apply(ctx, o)
	return o, nil
}

// Get returns an order by id
func (s *Service) Get(ctx context.Context, id string) (models.Order, error) {
	return s.Repo.GetOrder(ctx, id)
}

// UserOrders lists the orders userID takes part in, optionally by status
func (s *Service) UserOrders(ctx context.Context, userID int, status models.Status) ([]models.Order, error) {
	if userID == models.Unassigned {
		return nil, models.ErrUnauthenticated
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidOrder, status)
	}
	return s.Repo.ListUserOrders(ctx, userID, status)
}

// MarketStats summarizes the last day of trading. prices are the quoted
// prices of the window, oldest first, and may be empty.
func (s *Service) MarketStats(ctx context.Context, prices []decimal.Decimal) (exchange.Stats, error) {
	trades, err := s.Repo.ListTradesSince(ctx, s.Now().Add(-exchange.StatsWindow))
	if err != nil {
		return exchange.Stats{}, err
	}
	return exchange.MarketStats(s.Exchange.Snapshot(), prices, trades), nil
}

// pay attempts the wallet payment for o. A failed payment leaves the order in
// place with a pending payment annotation.
func (s *Service) pay(ctx context.Context, o models.Order) models.Order {
	if s.Payer == nil {
		return o
	}
	status := models.PaymentPaid
	if err := s.Payer.Pay(ctx, o); err != nil {
		s.Logger.Warn("payment failed, order kept with pending payment", zap.String("order_id", o.ID), zap.Error(err))
		status = models.PaymentPending
	}
	// the annotation must land even if the caller has gone away
	if err := s.Repo.SetPaymentStatus(context.WithoutCancel(ctx), o.ID, status); err != nil {
		s.Logger.Error("record payment status failed", zap.String("order_id", o.ID), zap.Error(err))
		return o
	}
	o.PaymentStatus = status
	return o
}

// apply mirrors a mutation result locally unless the caller has gone away.
func (s *Service) apply(ctx context.Context, o models.Order) {
	if ctx.Err() != nil {
		return
	}
	s.Exchange.Apply(o)
}

func (s *Service) checkRestaurant(ctx context.Context, name string) error {
	if s.Directory == nil || name == "" {
		return nil
	}
	ok, err := s.Directory.Has(ctx, name)
	if err != nil {
		// the directory is advisory; an outage must not stop trading
		s.Logger.Warn("restaurant directory unavailable", zap.String("restaurant", name), zap.Error(err))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownRestaurant, name)
	}
	return nil
}

func cleanDetails(d models.Details) models.Details {
	out := models.Details{Restaurant: strings.TrimSpace(d.Restaurant), Items: []string{}}
	for _, item := range d.Items {
		if item = strings.TrimSpace(item); item != "" {
			out.Items = append(out.Items, item)
		}
	}
	return out
}
