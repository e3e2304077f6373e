package exchange

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/blockmarket/internal/models"
)

// Where a quote came from, in order of preference.
const (
	SourceMidpoint = "midpoint"
	SourceTrades   = "trades"
	SourceBestBid  = "best_bid"
	SourceBestAsk  = "best_ask"
	SourceLast     = "last"
	SourceDefault  = "default"
)

// DefaultTradeWindow is the number of recent trades averaged when the book is one-sided or empty.
const DefaultTradeWindow = 5

var two = decimal.NewFromInt(2)

// Quote is a single current price estimate
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
}

// Oracle derives the current price of a block from the orders it is shown.
// It remembers the last price it derived so an empty market keeps quoting it.
type Oracle struct {
	Window  int
	Default decimal.Decimal

	mu   sync.Mutex
	last *decimal.Decimal
}

// NewOracle creates an oracle averaging the last window trades
func NewOracle(window int, def decimal.Decimal) *Oracle {
	if window <= 0 {
		window = DefaultTradeWindow
	}
	return &Oracle{Window: window, Default: def}
}

// SetLast seeds the last known price, e.g. from a persisted history.
func (p *Oracle) SetLast(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &price
}

// Quote prices the market: midpoint of best bid and best ask, else the mean of
// the most recent trades, else the best bid, else the best ask, else the last
// known price or the default.
func (p *Oracle) Quote(orders iter.Seq[models.Order], now time.Time) Quote {
	var (
		bestBid, bestAsk decimal.Decimal
		hasBid, hasAsk   bool
		trades           []models.Order
	)
	for o := range orders {
		switch {
		case o.Open(now) && o.IsBid():
			if !hasBid || o.Price.GreaterThan(bestBid) {
				bestBid, hasBid = o.Price, true
			}
		case o.Open(now) && o.IsAsk():
			if !hasAsk || o.Price.LessThan(bestAsk) {
				bestAsk, hasAsk = o.Price, true
			}
		case o.IsTrade():
			trades = append(trades, o)
		}
	}

	var q Quote
	switch {
	case hasBid && hasAsk:
		q = Quote{Price: bestBid.Add(bestAsk).Div(two), Source: SourceMidpoint}
	case len(trades) > 0:
		q = Quote{Price: p.meanOfRecent(trades), Source: SourceTrades}
	case hasBid:
		q = Quote{Price: bestBid, Source: SourceBestBid}
	case hasAsk:
		q = Quote{Price: bestAsk, Source: SourceBestAsk}
	default:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.last != nil {
			return Quote{Price: *p.last, Source: SourceLast}
		}
		return Quote{Price: p.Default, Source: SourceDefault}
	}

	p.SetLast(q.Price)
	return q
}

func (p *Oracle) meanOfRecent(trades []models.Order) decimal.Decimal {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].OrderTime.After(trades[j].OrderTime)
	})
	n := p.Window
	if n <= 0 {
		n = DefaultTradeWindow
	}
	if len(trades) < n {
		n = len(trades)
	}
	sum := decimal.Zero
	for _, t := range trades[:n] {
		sum = sum.Add(t.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
