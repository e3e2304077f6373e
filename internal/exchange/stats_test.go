package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xtrntr/blockmarket/internal/models"
)

func TestMarketStats(t *testing.T) {
	snap := Snapshot{
		Quote: Quote{Price: d("8.50"), Source: SourceMidpoint},
		Book: Aggregate([]models.Order{
			bid("b1", 1, "8.45"), bid("b2", 3, "8.45"), bid("b3", 4, "8.40"),
			ask("a1", 2, "8.55"),
		}),
	}
	trades := []models.Order{
		trade("t1", "8.40", t0.Add(-3*time.Hour)),
		trade("t2", "8.55", t0.Add(-time.Hour)),
	}

	tests := []struct {
		name   string
		prices []decimal.Decimal
		high   string
		low    string
		change string
	}{
		{"FromQuotedPrices", []decimal.Decimal{d("8.00"), d("8.75"), d("8.25")}, "8.75", "8", "6.25"},
		{"FromTrades", nil, "8.55", "8.4", "1.19"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := MarketStats(snap, tt.prices, trades)

			assert.True(t, st.Price.Equal(d("8.50")))
			assert.True(t, st.High.Equal(d(tt.high)), "high %s", st.High)
			assert.True(t, st.Low.Equal(d(tt.low)), "low %s", st.Low)
			assert.True(t, st.ChangePercent.Equal(d(tt.change)), "change %s", st.ChangePercent)
			assert.Equal(t, 2, st.Volume)
			assert.Equal(t, 4, st.ActiveOrders)
		})
	}
}

func TestMarketStats_Empty(t *testing.T) {
	st := MarketStats(Snapshot{Quote: Quote{Price: d("8.50"), Source: SourceDefault}}, nil, nil)

	assert.True(t, st.High.Equal(d("8.50")))
	assert.True(t, st.Low.Equal(d("8.50")))
	assert.True(t, st.ChangePercent.IsZero())
	assert.Zero(t, st.Volume)
	assert.Zero(t, st.ActiveOrders)
}

func TestMarketStats_DoesNotMutatePrices(t *testing.T) {
	prices := make([]decimal.Decimal, 1, 4)
	prices[0] = d("8.00")

	MarketStats(Snapshot{Quote: Quote{Price: d("9.00")}}, prices, nil)
	assert.Len(t, prices, 1)
	assert.True(t, prices[:2][1].IsZero(), "spare capacity left untouched")
}
