package models

import "time"

// AccountType is a role a user trades in
type AccountType string

const (
	AccountBuyer  AccountType = "buyer"
	AccountSeller AccountType = "seller"
)

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Profile      Profile   `json:"profile"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds the account preferences collected at onboarding
type Profile struct {
	AccountTypes      []AccountType `json:"account_types"`
	MealBlocksLeft    int           `json:"meal_blocks_left"`
	DiningDollarsLeft int           `json:"dining_dollars_left"`
	WalletAddress     string        `json:"wallet_address,omitempty"`
}

// Has reports whether the profile includes the account type t.
func (p Profile) Has(t AccountType) bool {
	for _, at := range p.AccountTypes {
		if at == t {
			return true
		}
	}
	return false
}
