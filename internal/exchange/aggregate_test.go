package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/blockmarket/internal/models"
)

func TestAggregate(t *testing.T) {
	orders := []models.Order{
		bid("b1", 1, "8.45"),
		bid("b2", 3, "8.40"),
		bid("b3", 4, "8.45"),
		bid("b4", 5, "8.35"),
		bid("b5", 6, "8.40"),
		bid("b6", 6, "8.40"),
		ask("a1", 2, "8.60"),
		ask("a2", 2, "8.55"),
		ask("a3", 7, "8.60"),
		ask("a4", 7, "8.65"),
	}

	book := Aggregate(orders)

	require.Len(t, book.Bids, 3)
	require.Len(t, book.Asks, 3)

	expectBids := []struct {
		price string
		qty   int
	}{{"8.45", 2}, {"8.40", 3}, {"8.35", 1}}
	for i, l := range expectBids {
		assert.True(t, book.Bids[i].Price.Equal(d(l.price)), "bid level %d price %s", i, book.Bids[i].Price)
		assert.Equal(t, l.qty, book.Bids[i].Quantity)
	}

	expectAsks := []struct {
		price string
		qty   int
	}{{"8.55", 1}, {"8.60", 2}, {"8.65", 1}}
	for i, l := range expectAsks {
		assert.True(t, book.Asks[i].Price.Equal(d(l.price)), "ask level %d price %s", i, book.Asks[i].Price)
		assert.Equal(t, l.qty, book.Asks[i].Quantity)
	}

	total := 0
	for _, l := range append(book.Bids, book.Asks...) {
		total += l.Quantity
	}
	assert.Equal(t, len(orders), total)
}

func TestAggregate_EquivalentPricesShareLevel(t *testing.T) {
	book := Aggregate([]models.Order{bid("b1", 1, "8.5"), bid("b2", 1, "8.50"), bid("b3", 1, "8.500")})
	require.Len(t, book.Bids, 1)
	assert.Equal(t, 3, book.Bids[0].Quantity)
	assert.Empty(t, book.Asks)
}

func TestAggregate_Deterministic(t *testing.T) {
	orders := []models.Order{bid("b1", 1, "8.45"), ask("a1", 2, "8.55"), bid("b2", 1, "8.40"), ask("a2", 2, "8.55")}
	first := Aggregate(orders)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Aggregate(orders))
	}
}
