package venue

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidProduct is returned by the oracle for tokens the venue does
// not price.
var ErrInvalidProduct = errors.New("invalid product")

// PriceOracle exposes the venue's pricing surface. Prices are fixed
// point with 18 decimal places (X18); decimals are the token's native
// unit precision.
type PriceOracle interface {
	Price(token common.Address) (*big.Int, error)
	Decimals(token common.Address) (uint8, error)
}

// BalanceReader is the venue's read-only balance query. Used by
// diagnostic reconciliation only, never by the settlement path.
type BalanceReader interface {
	BalanceOf(account, token common.Address) (*big.Int, error)
}

// TokenBank is the token custody boundary the escrow routers move funds
// through. Transfer moves funds the caller controls; Pull moves funds
// out of an owner account and requires the owner's standing approval of
// the recipient.
type TokenBank interface {
	BalanceOf(token, account common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Pull(token, owner, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address)
	Approved(token, owner, spender common.Address) bool
}
