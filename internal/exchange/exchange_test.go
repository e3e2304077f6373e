package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/blockmarket/internal/models"
)

type fakeSource struct {
	open   []models.Order
	trades []models.Order
	err    error
	// hook runs between the two remote calls
	hook func()
}

func (f *fakeSource) ListOpenOrders(ctx context.Context, now time.Time) ([]models.Order, error) {
	return f.open, f.err
}

func (f *fakeSource) ListRecentTrades(ctx context.Context, limit int) ([]models.Order, error) {
	if f.hook != nil {
		f.hook()
	}
	return f.trades, f.err
}

func newTestExchange(src Source) *Exchange {
	ex := NewExchange(src, NewOracle(5, d("8.50")), nil)
	ex.Now = func() time.Time { return t0.Add(time.Minute) }
	return ex
}

func TestExchange_RecomputesOnChange(t *testing.T) {
	ex := newTestExchange(nil)
	defer ex.Close()

	var updates []Snapshot
	ex.OnUpdate(func(s Snapshot) { updates = append(updates, s) })

	assert.Equal(t, SourceDefault, ex.Quote().Source)

	ex.Apply(bid("b1", 1, "8.45"))
	assert.Equal(t, SourceBestBid, ex.Quote().Source)

	ex.Apply(ask("a1", 2, "8.55"))
	snap := ex.Snapshot()
	assert.True(t, snap.Quote.Price.Equal(d("8.50")))
	assert.Equal(t, SourceMidpoint, snap.Quote.Source)
	require.Len(t, snap.Book.Bids, 1)
	require.Len(t, snap.Book.Asks, 1)

	require.Len(t, updates, 2)
	assert.Equal(t, snap, updates[1])
}

func TestExchange_AcceptedOrderLeavesBook(t *testing.T) {
	ex := newTestExchange(nil)
	defer ex.Close()

	o := bid("b1", 1, "8.45")
	ex.Apply(o)
	require.Len(t, ex.Snapshot().Book.Bids, 1)

	accepted, err := Accept(o, 2, ex.Now())
	require.NoError(t, err)
	ex.Apply(accepted)

	snap := ex.Snapshot()
	assert.Empty(t, snap.Book.Bids)
	assert.Equal(t, SourceTrades, snap.Quote.Source)
	assert.Len(t, ex.RecentTrades(10), 1)
}

func TestExchange_Refresh(t *testing.T) {
	src := &fakeSource{
		open:   []models.Order{bid("b1", 1, "8.40"), bid("b2", 1, "8.45"), ask("a1", 2, "8.55"), ask("a2", 2, "8.60")},
		trades: []models.Order{trade("t1", "8.50", t0.Add(-time.Hour)), trade("t2", "8.45", t0.Add(-time.Minute))},
	}
	ex := newTestExchange(src)
	defer ex.Close()

	require.NoError(t, ex.Refresh(context.Background()))

	snap := ex.Snapshot()
	assert.True(t, snap.Quote.Price.Equal(d("8.50")))
	assert.Len(t, snap.Book.Bids, 2)
	assert.Len(t, snap.Book.Asks, 2)

	trades := ex.RecentTrades(1)
	require.Len(t, trades, 1)
	assert.Equal(t, "t2", trades[0].ID)
}

func TestExchange_RefreshError(t *testing.T) {
	boom := errors.New("connection refused")
	ex := newTestExchange(&fakeSource{err: boom})
	defer ex.Close()
	ex.Apply(bid("b1", 1, "8.45"))

	err := ex.Refresh(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ex.Store.Len())
}

func TestExchange_RefreshDropsStaleResults(t *testing.T) {
	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		src := &fakeSource{open: []models.Order{bid("remote", 1, "8.00")}}
		src.hook = cancel
		ex := newTestExchange(src)
		defer ex.Close()

		err := ex.Refresh(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, ex.Store.Len())
	})

	t.Run("LocalChangeWins", func(t *testing.T) {
		src := &fakeSource{open: []models.Order{bid("remote", 1, "8.00")}}
		ex := newTestExchange(src)
		defer ex.Close()
		src.hook = func() { ex.Apply(ask("local", 2, "8.90")) }

		require.NoError(t, ex.Refresh(context.Background()))
		_, ok := ex.Store.Get("local")
		assert.True(t, ok)
		_, ok = ex.Store.Get("remote")
		assert.False(t, ok)
	})
}

func TestExchange_SeedPrice(t *testing.T) {
	ex := newTestExchange(nil)
	defer ex.Close()

	ex.SeedPrice(d("9.10"))
	q := ex.Quote()
	assert.Equal(t, SourceLast, q.Source)
	assert.True(t, q.Price.Equal(d("9.10")))
}
