package exchange

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/blockmarket/internal/models"
)

// Level is one price rung of the ladder
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Book is the displayable order book
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Aggregate groups orders at identical price into one level per side. Buy
// orders go to the bids (highest first), sell orders to the asks (lowest first).
// Callers pass pending orders; status is not inspected.
func Aggregate(orders []models.Order) Book {
	bids := make(map[string]*Level)
	asks := make(map[string]*Level)

	for _, o := range orders {
		levels := bids
		if o.Side == models.SideSell {
			levels = asks
		}
		key := o.Price.String()
		if l, ok := levels[key]; ok {
			l.Quantity++
			continue
		}
		levels[key] = &Level{Price: o.Price, Quantity: 1}
	}

	book := Book{Bids: flatten(bids), Asks: flatten(asks)}
	// Sort bids: highest price first
	sort.Slice(book.Bids, func(i, j int) bool {
		return book.Bids[i].Price.GreaterThan(book.Bids[j].Price)
	})
	// Sort asks: lowest price first
	sort.Slice(book.Asks, func(i, j int) bool {
		return book.Asks[i].Price.LessThan(book.Asks[j].Price)
	})
	return book
}

func flatten(levels map[string]*Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		out = append(out, *l)
	}
	return out
}
