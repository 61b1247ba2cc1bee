// Package escrow holds tokens in transit between users and the external
// trading venue. One router exists per pool; it pulls deposits from
// senders, forwards them to the pool's venue account, receives
// withdrawn funds back, and pays out claims.
package escrow

import (
	"PoolLedger/internal/venue"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Router struct {
	addr         common.Address
	venueAccount common.Address
	bank         venue.TokenBank
	approved     map[common.Address]bool
}

func NewRouter(addr, venueAccount common.Address, bank venue.TokenBank) *Router {
	return &Router{
		addr:         addr,
		venueAccount: venueAccount,
		bank:         bank,
		approved:     make(map[common.Address]bool),
	}
}

// Address returns the router's own account.
func (r *Router) Address() common.Address { return r.addr }

// VenueAccount returns the pool's external account at the venue.
func (r *Router) VenueAccount() common.Address { return r.venueAccount }

// EnsureApproval establishes the unlimited standing approval of the
// venue for a token. Idempotent; called on first use of each token.
func (r *Router) EnsureApproval(token common.Address) {
	if r.approved[token] {
		return
	}
	r.bank.Approve(token, r.addr, r.venueAccount)
	r.approved[token] = true
}

// PullFromSender moves deposit funds from the sender into escrow. Fails
// if the sender no longer holds or approves the funds; the caller
// treats that as a settlement failure, not an error.
func (r *Router) PullFromSender(token, sender common.Address, amount *big.Int) error {
	if err := r.bank.Pull(token, sender, r.addr, amount); err != nil {
		return fmt.Errorf("pull %s of %s from %s: %w", amount, token.Hex(), sender.Hex(), err)
	}
	return nil
}

// ForwardToVenue moves escrowed deposit funds to the venue account.
func (r *Router) ForwardToVenue(token common.Address, amount *big.Int) error {
	r.EnsureApproval(token)
	if err := r.bank.Transfer(token, r.addr, r.venueAccount, amount); err != nil {
		return fmt.Errorf("forward %s of %s to venue: %w", amount, token.Hex(), err)
	}
	return nil
}

// ReceiveFromVenue moves withdrawn funds from the venue account back
// into escrow so they are available for claims.
func (r *Router) ReceiveFromVenue(token common.Address, amount *big.Int) error {
	if err := r.bank.Transfer(token, r.venueAccount, r.addr, amount); err != nil {
		return fmt.Errorf("receive %s of %s from venue: %w", amount, token.Hex(), err)
	}
	return nil
}

// PayOut transfers escrowed funds to a recipient. Used by claims for
// both the user's pending balance and the fee recipient's cut.
func (r *Router) PayOut(token, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := r.bank.Transfer(token, r.addr, to, amount); err != nil {
		return fmt.Errorf("pay out %s of %s to %s: %w", amount, token.Hex(), to.Hex(), err)
	}
	return nil
}
