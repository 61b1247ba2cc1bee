package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks ledger conservation invariants.
type InvariantValidator struct {
	store *Store
}

func NewInvariantValidator(store *Store) *InvariantValidator {
	return &InvariantValidator{store: store}
}

// ValidateConservation verifies activeTotal == Σ userActive for one
// pool token.
func (v *InvariantValidator) ValidateConservation(poolID uint64, token common.Address) error {
	pt, ok := v.store.poolTokens[PoolTokenKey{Pool: poolID, Token: token}]
	if !ok {
		return fmt.Errorf("%w: %s in pool %d", ErrUnsupportedToken, token.Hex(), poolID)
	}
	sum := new(big.Int)
	for key, bal := range v.store.active {
		if key.Pool == poolID && key.Token == token {
			sum.Add(sum, bal)
		}
	}
	if pt.ActiveTotal.Cmp(sum) != 0 {
		return fmt.Errorf("conservation violated for pool %d token %s: activeTotal=%s sum=%s",
			poolID, token.Hex(), pt.ActiveTotal, sum)
	}
	return nil
}

// ValidateAllConservation verifies the conservation invariant for every
// tracked pool token.
func (v *InvariantValidator) ValidateAllConservation() error {
	sums := make(map[PoolTokenKey]*big.Int, len(v.store.poolTokens))
	for key := range v.store.poolTokens {
		sums[key] = new(big.Int)
	}
	for key, bal := range v.store.active {
		ptKey := PoolTokenKey{Pool: key.Pool, Token: key.Token}
		sum, ok := sums[ptKey]
		if !ok {
			return fmt.Errorf("active balance for untracked pool token %d/%s", key.Pool, key.Token.Hex())
		}
		sum.Add(sum, bal)
	}
	for key, sum := range sums {
		pt := v.store.poolTokens[key]
		if pt.ActiveTotal.Cmp(sum) != 0 {
			return fmt.Errorf("conservation violated for pool %d token %s: activeTotal=%s sum=%s",
				key.Pool, key.Token.Hex(), pt.ActiveTotal, sum)
		}
	}
	return nil
}

// ValidateNonNegative verifies no tracked amount has gone below zero.
func (v *InvariantValidator) ValidateNonNegative() error {
	for key, pt := range v.store.poolTokens {
		if pt.ActiveTotal.Sign() < 0 {
			return fmt.Errorf("negative activeTotal for pool %d token %s: %s", key.Pool, key.Token.Hex(), pt.ActiveTotal)
		}
	}
	for key, bal := range v.store.active {
		if bal.Sign() < 0 {
			return fmt.Errorf("negative active balance for user %s: %s", key.User.Hex(), bal)
		}
	}
	for key, bal := range v.store.pending {
		if bal.Sign() < 0 {
			return fmt.Errorf("negative pending balance for user %s: %s", key.User.Hex(), bal)
		}
	}
	return nil
}
