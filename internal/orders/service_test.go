package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/blockmarket/internal/exchange"
	"github.com/xtrntr/blockmarket/internal/models"
)

var now = time.Date(2025, 2, 8, 12, 0, 0, 0, time.UTC)

type fakePayer struct {
	mu   sync.Mutex
	err  error
	paid []string
}

func (f *fakePayer) Pay(ctx context.Context, o models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.paid = append(f.paid, o.ID)
	return nil
}

type fakeDirectory struct {
	names map[string]bool
	err   error
}

func (f fakeDirectory) Has(ctx context.Context, name string) (bool, error) {
	return f.names[name], f.err
}

// ctxRepository fails writes on a done context like a remote table would
type ctxRepository struct {
	*MemoryRepository
}

func (r ctxRepository) SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRepository.SetPaymentStatus(ctx, id, status)
}

// disconnectingPayer cancels the request while the payment is in flight
type disconnectingPayer struct {
	cancel context.CancelFunc
}

func (p disconnectingPayer) Pay(ctx context.Context, o models.Order) error {
	p.cancel()
	return ctx.Err()
}

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	ex := exchange.NewExchange(repo, exchange.NewOracle(5, decimal.RequireFromString("8.50")), nil)
	ex.Now = func() time.Time { return now }
	t.Cleanup(ex.Close)

	svc := NewService(repo, ex, nil)
	svc.Now = func() time.Time { return now }
	return svc, repo
}

func limitBid(user int, price string) CreateRequest {
	return CreateRequest{
		UserID:  user,
		Side:    models.SideBuy,
		Kind:    models.KindLimit,
		Price:   decimal.RequireFromString(price),
		Details: models.Details{Restaurant: "Ginger & Soy", Items: []string{"Pho", " "}},
	}
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Equal(t, 1, o.BuyerID)
	assert.Equal(t, models.Unassigned, o.SellerID)
	assert.Equal(t, []string{"Pho"}, o.Details.Items)
	assert.Equal(t, now.Add(time.Hour), o.ExpirationTime)

	snap := svc.Exchange.Snapshot()
	require.Len(t, snap.Book.Bids, 1)
	assert.Equal(t, exchange.SourceBestBid, snap.Quote.Source)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   error
	}{
		{"anonymous", func(r *CreateRequest) { r.UserID = models.Unassigned }, models.ErrUnauthenticated},
		{"zero price", func(r *CreateRequest) { r.Price = decimal.Zero }, models.ErrInvalidOrder},
		{"negative price", func(r *CreateRequest) { r.Price = decimal.RequireFromString("-1") }, models.ErrInvalidOrder},
		{"sub-cent price", func(r *CreateRequest) { r.Price = decimal.RequireFromString("0.001") }, models.ErrInvalidOrder},
		{"three decimals", func(r *CreateRequest) { r.Price = decimal.RequireFromString("8.455") }, models.ErrInvalidOrder},
		{"bad side", func(r *CreateRequest) { r.Side = "hold" }, models.ErrInvalidOrder},
		{"bad kind", func(r *CreateRequest) { r.Kind = "stop" }, models.ErrInvalidOrder},
		{"no restaurant", func(r *CreateRequest) { r.Details.Restaurant = "" }, models.ErrInvalidOrder},
		{"ttl too long", func(r *CreateRequest) { r.TTL = 3 * time.Hour }, models.ErrInvalidOrder},
		{"past delivery", func(r *CreateRequest) { r.DeliveryTime = now.Add(-time.Hour) }, models.ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitBid(1, "8.45")
			tt.mutate(&req)
			_, err := svc.Create(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_CreateSellNeedsNoRestaurant(t *testing.T) {
	svc, _ := newTestService(t)

	o, err := svc.Create(context.Background(), CreateRequest{
		UserID: 2,
		Side:   models.SideSell,
		Price:  decimal.RequireFromString("8.55"),
		TTL:    30 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, o.SellerID)
	assert.Equal(t, now.Add(30*time.Minute), o.ExpirationTime)
	assert.Len(t, svc.Exchange.Snapshot().Book.Asks, 1)
}

func TestService_MarketOrderUsesQuote(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, CreateRequest{UserID: 1, Side: models.SideBuy, Kind: models.KindMarket,
		Details: models.Details{Restaurant: "Schatz"}})
	require.NoError(t, err)
	assert.True(t, o.Price.Equal(decimal.RequireFromString("8.50")))

	_, err = svc.Create(ctx, CreateRequest{UserID: 2, Side: models.SideSell, Price: decimal.RequireFromString("8.70")})
	require.NoError(t, err)

	// midpoint of 8.50 and 8.70
	m, err := svc.Create(ctx, CreateRequest{UserID: 3, Side: models.SideSell, Kind: models.KindMarket})
	require.NoError(t, err)
	assert.True(t, m.Price.Equal(decimal.RequireFromString("8.60")), m.Price.String())
}

func TestService_MarketPriceRoundedToCents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{UserID: 2, Side: models.SideSell, Price: decimal.RequireFromString("8.56")})
	require.NoError(t, err)

	// midpoint is 8.505
	m, err := svc.Create(ctx, CreateRequest{UserID: 3, Side: models.SideSell, Kind: models.KindMarket})
	require.NoError(t, err)
	assert.Equal(t, "8.51", m.Price.StringFixed(2))
	assert.True(t, m.Price.Equal(decimal.RequireFromString("8.51")), m.Price.String())
}

func TestService_CreateAcceptsTrailingZeros(t *testing.T) {
	svc, _ := newTestService(t)

	o, err := svc.Create(context.Background(), limitBid(1, "8.450"))
	require.NoError(t, err)
	assert.True(t, o.Price.Equal(decimal.RequireFromString("8.45")))
}

func TestService_Directory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Directory = fakeDirectory{names: map[string]bool{"Ginger & Soy": true}}
	_, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)

	req := limitBid(1, "8.45")
	req.Details.Restaurant = "Nowhere"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, models.ErrUnknownRestaurant)

	svc.Directory = fakeDirectory{err: errors.New("down")}
	_, err = svc.Create(ctx, req)
	assert.NoError(t, err)
}

func TestService_PaymentFailureKeepsOrder(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	svc.Payer = &fakePayer{err: models.ErrPaymentFailed}
	o, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, o.PaymentStatus)

	stored, err := repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, models.StatusPending, stored.Status)

	payer := &fakePayer{}
	svc.Payer = payer
	o, err = svc.Create(ctx, limitBid(1, "8.40"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, []string{o.ID}, payer.paid)
}

func TestService_PaymentStatusSurvivesDisconnect(t *testing.T) {
	svc, repo := newTestService(t)
	svc.Repo = ctxRepository{repo}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Payer = disconnectingPayer{cancel: cancel}

	o, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, o.PaymentStatus)

	stored, err := repo.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
}

func TestService_BuyerAcceptingAskPays(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payer := &fakePayer{}
	svc.Payer = payer

	a, err := svc.Create(ctx, CreateRequest{UserID: 2, Side: models.SideSell, Price: decimal.RequireFromString("8.55")})
	require.NoError(t, err)
	assert.Empty(t, payer.paid)

	o, err := svc.Accept(ctx, a.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, o.BuyerID)
	assert.Equal(t, models.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, []string{a.ID}, payer.paid)
}

func TestService_ConcurrentAccept(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		claimed int
	)
	for seller := 2; seller < 12; seller++ {
		wg.Add(1)
		go func(seller int) {
			defer wg.Done()
			_, err := svc.Accept(ctx, b.ID, seller)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, models.ErrOrderAlreadyClaimed):
				claimed++
			}
		}(seller)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, claimed)

	snap := svc.Exchange.Snapshot()
	assert.Empty(t, snap.Book.Bids)
	assert.Len(t, svc.Exchange.RecentTrades(5), 1)
}

func TestService_Lifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)

	_, err = svc.Accept(ctx, b.ID, 1)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "own order")
	_, err = svc.Accept(ctx, b.ID, models.Unassigned)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)

	_, err = svc.Accept(ctx, b.ID, 2)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, b.ID, 1)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "accepted orders cannot be cancelled")

	_, err = svc.Complete(ctx, b.ID, 1, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "only the seller completes")

	svc.RequireProof = true
	_, err = svc.Complete(ctx, b.ID, 2, "  ")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	o, err := svc.Complete(ctx, b.ID, 2, "receipt #42")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, "receipt #42", o.Proof)

	_, err = svc.Dispute(ctx, b.ID, 3)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	o, err = svc.Dispute(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.True(t, o.IsDisputed)
}

func TestService_Cancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, b.ID, 2)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	o, err := svc.Cancel(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, o.Status)
	assert.Empty(t, svc.Exchange.Snapshot().Book.Bids)

	_, err = svc.Accept(ctx, b.ID, 2)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestService_CancelledContextSkipsLocalApply(t *testing.T) {
	svc, repo := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)

	_, ok := svc.Exchange.Store.Get(o.ID)
	assert.False(t, ok)
	_, err = repo.GetOrder(context.Background(), o.ID)
	assert.NoError(t, err)
}

func TestService_UserOrders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, limitBid(1, "8.45"))
	require.NoError(t, err)
	svc.Now = func() time.Time { return now.Add(time.Minute) }
	second, err := svc.Create(ctx, limitBid(1, "8.40"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, limitBid(2, "8.35"))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, first.ID, 1)
	require.NoError(t, err)

	all, err := svc.UserOrders(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	cancelled, err := svc.UserOrders(ctx, 1, models.StatusCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].ID)

	_, err = svc.UserOrders(ctx, 1, "LOST")
	assert.ErrorIs(t, err, models.ErrInvalidOrder)
	_, err = svc.UserOrders(ctx, models.Unassigned, "")
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}
