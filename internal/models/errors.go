package models

import "errors"

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrOrderAlreadyClaimed = errors.New("order already claimed")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrTransport           = errors.New("transport error")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrUnknownRestaurant   = errors.New("unknown restaurant")
	ErrUserNotFound        = errors.New("user not found")
	ErrUsernameTaken       = errors.New("username already taken")
)
