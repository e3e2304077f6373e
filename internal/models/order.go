package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unassigned marks the missing party of an order that has not been accepted yet.
const Unassigned = 0

// Status is the lifecycle state of an order
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Side is the side that originated the order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Kind selects how the price of a new order is chosen
type Kind string

const (
	KindLimit  Kind = "limit"
	KindMarket Kind = "market"
)

// PaymentStatus annotates the wallet payment attached to an order
type PaymentStatus string

const (
	PaymentNone    PaymentStatus = "none"
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

// Details describes what the buyer wants delivered
type Details struct {
	Restaurant string   `json:"restaurant"`
	Items      []string `json:"items"`
}

// Order represents a request to trade one meal block
type Order struct {
	ID             string          `json:"id"`
	Side           Side            `json:"side"`
	BuyerID        int             `json:"buyer_id"`
	SellerID       int             `json:"seller_id"`
	Status         Status          `json:"status"`
	Price          decimal.Decimal `json:"price"`
	Details        Details         `json:"details"`
	OrderTime      time.Time       `json:"order_time"`
	DeliveryTime   time.Time       `json:"delivery_time"`
	ExpirationTime time.Time       `json:"expiration_time"`
	AcceptanceTime *time.Time      `json:"acceptance_time,omitempty"`
	IsDisputed     bool            `json:"is_disputed"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Proof          string          `json:"proof,omitempty"`
}

// IsBid reports whether the order is a buy request still waiting for a seller.
func (o Order) IsBid() bool {
	return o.Side == SideBuy && o.SellerID == Unassigned
}

// IsAsk reports whether the order is a sell listing still waiting for a buyer.
func (o Order) IsAsk() bool {
	return o.Side == SideSell && o.BuyerID == Unassigned
}

// Originator returns the participant that created the order.
func (o Order) Originator() int {
	if o.Side == SideSell {
		return o.SellerID
	}
	return o.BuyerID
}

// Counterparty returns the participant that accepted the order, or Unassigned.
func (o Order) Counterparty() int {
	if o.Side == SideSell {
		return o.BuyerID
	}
	return o.SellerID
}

// Expired reports whether the order can no longer be accepted at now.
func (o Order) Expired(now time.Time) bool {
	return !now.Before(o.ExpirationTime)
}

// Open reports whether the order rests on the book at now.
func (o Order) Open(now time.Time) bool {
	return o.Status == StatusPending && (o.IsBid() || o.IsAsk()) && !o.Expired(now)
}

// IsTrade reports whether the order was matched with a counterparty.
func (o Order) IsTrade() bool {
	return (o.Status == StatusAccepted || o.Status == StatusCompleted) &&
		o.BuyerID != Unassigned && o.SellerID != Unassigned
}

// Involves reports whether userID is either party of the order.
func (o Order) Involves(userID int) bool {
	return userID != Unassigned && (o.BuyerID == userID || o.SellerID == userID)
}
