package exchange

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/blockmarket/internal/models"
)

var t0 = time.Date(2025, 2, 8, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bid(id string, buyer int, price string) models.Order {
	return models.Order{
		ID:             id,
		Side:           models.SideBuy,
		BuyerID:        buyer,
		Status:         models.StatusPending,
		Price:          d(price),
		OrderTime:      t0,
		ExpirationTime: t0.Add(time.Hour),
	}
}

func ask(id string, seller int, price string) models.Order {
	return models.Order{
		ID:             id,
		Side:           models.SideSell,
		SellerID:       seller,
		Status:         models.StatusPending,
		Price:          d(price),
		OrderTime:      t0,
		ExpirationTime: t0.Add(time.Hour),
	}
}

func trade(id string, price string, at time.Time) models.Order {
	accepted := at.Add(time.Minute)
	return models.Order{
		ID:             id,
		Side:           models.SideBuy,
		BuyerID:        1,
		SellerID:       2,
		Status:         models.StatusAccepted,
		Price:          d(price),
		OrderTime:      at,
		ExpirationTime: at.Add(time.Hour),
		AcceptanceTime: &accepted,
	}
}

func seq(orders ...models.Order) func(func(models.Order) bool) {
	return slices.Values(orders)
}
