package exchange

import (
	"fmt"
	"time"

	"github.com/xtrntr/blockmarket/internal/models"
)

// Accept claims a pending order for requester, who becomes the missing party.
// An order that already has a counterparty fails with ErrOrderAlreadyClaimed.
func Accept(o models.Order, requester int, now time.Time) (models.Order, error) {
	if requester == models.Unassigned {
		return o, models.ErrUnauthenticated
	}
	switch {
	case o.Status == models.StatusAccepted, o.Status == models.StatusPending && o.Counterparty() != models.Unassigned:
		return o, models.ErrOrderAlreadyClaimed
	case o.Status != models.StatusPending:
		return o, fmt.Errorf("%w: cannot accept a %s order", models.ErrInvalidTransition, o.Status)
	case o.Originator() == requester:
		return o, fmt.Errorf("%w: cannot accept your own order", models.ErrInvalidTransition)
	case o.Expired(now):
		return o, fmt.Errorf("%w: order expired", models.ErrInvalidTransition)
	}

	if o.Side == models.SideSell {
		o.BuyerID = requester
	} else {
		o.SellerID = requester
	}
	o.Status = models.StatusAccepted
	at := now
	o.AcceptanceTime = &at
	return o, nil
}

// Cancel withdraws a pending order. Only the originating party may cancel, and
// only before a counterparty is assigned.
func Cancel(o models.Order, requester int) (models.Order, error) {
	if requester == models.Unassigned {
		return o, models.ErrUnauthenticated
	}
	switch {
	case o.Status != models.StatusPending:
		return o, fmt.Errorf("%w: cannot cancel a %s order", models.ErrInvalidTransition, o.Status)
	case o.Counterparty() != models.Unassigned:
		return o, fmt.Errorf("%w: order already has a counterparty", models.ErrInvalidTransition)
	case o.Originator() != requester:
		return o, fmt.Errorf("%w: only the originating party may cancel", models.ErrInvalidTransition)
	}
	o.Status = models.StatusCancelled
	return o, nil
}

// Complete marks an accepted order as fulfilled. Only the seller, who delivers
// the meal, may complete it. When requireProof is set proof must be non-empty.
func Complete(o models.Order, requester int, proof string, requireProof bool) (models.Order, error) {
	if requester == models.Unassigned {
		return o, models.ErrUnauthenticated
	}
	switch {
	case o.Status != models.StatusAccepted:
		return o, fmt.Errorf("%w: cannot complete a %s order", models.ErrInvalidTransition, o.Status)
	case o.SellerID != requester:
		return o, fmt.Errorf("%w: only the fulfilling seller may complete", models.ErrInvalidTransition)
	case requireProof && proof == "":
		return o, fmt.Errorf("%w: proof of completion required", models.ErrInvalidTransition)
	}
	o.Status = models.StatusCompleted
	if proof != "" {
		o.Proof = proof
	}
	return o, nil
}
