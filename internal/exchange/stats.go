package exchange

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/blockmarket/internal/models"
)

// StatsWindow is the period covered by market stats
const StatsWindow = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Stats summarizes the market over the last day
type Stats struct {
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	High          decimal.Decimal `json:"high_24h"`
	Low           decimal.Decimal `json:"low_24h"`
	Volume        int             `json:"volume_24h"`
	ActiveOrders  int             `json:"active_orders"`
}

// MarketStats derives the day's stats from the current snapshot, the quoted
// prices of the window (oldest first) and the trades matched in it. Without
// quoted prices the trade prices stand in for them.
func MarketStats(snap Snapshot, prices []decimal.Decimal, trades []models.Order) Stats {
	current := snap.Quote.Price

	series := prices
	if len(series) == 0 {
		sorted := append([]models.Order(nil), trades...)
		sort.Slice(sorted, func(i, j int) bool {
			return tradeTime(sorted[i]).Before(tradeTime(sorted[j]))
		})
		for _, o := range sorted {
			series = append(series, o.Price)
		}
	}
	series = append(series[:len(series):len(series)], current)

	st := Stats{
		Price:  current,
		High:   series[0],
		Low:    series[0],
		Volume: len(trades),
	}
	for _, p := range series[1:] {
		st.High = decimal.Max(st.High, p)
		st.Low = decimal.Min(st.Low, p)
	}
	if open := series[0]; open.IsPositive() {
		st.ChangePercent = current.Sub(open).Div(open).Mul(hundred).Round(2)
	}
	for _, l := range snap.Book.Bids {
		st.ActiveOrders += l.Quantity
	}
	for _, l := range snap.Book.Asks {
		st.ActiveOrders += l.Quantity
	}
	return st
}

func tradeTime(o models.Order) time.Time {
	if o.AcceptanceTime != nil {
		return *o.AcceptanceTime
	}
	return o.OrderTime
}
