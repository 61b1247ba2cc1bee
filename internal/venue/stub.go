package venue

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StubOracle is a configurable PriceOracle. Tests and single-process
// deployments seed it; a production deployment swaps in the venue's
// real pricing adapter.
type StubOracle struct {
	mu       sync.Mutex
	prices   map[common.Address]*big.Int
	decimals map[common.Address]uint8
}

func NewStubOracle() *StubOracle {
	return &StubOracle{
		prices:   make(map[common.Address]*big.Int),
		decimals: make(map[common.Address]uint8),
	}
}

// SetProduct registers a token with its X18 price and native decimals.
func (o *StubOracle) SetProduct(token common.Address, priceX18 *big.Int, decimals uint8) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[token] = new(big.Int).Set(priceX18)
	o.decimals[token] = decimals
}

func (o *StubOracle) Price(token common.Address) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.prices[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProduct, token.Hex())
	}
	return new(big.Int).Set(p), nil
}

func (o *StubOracle) Decimals(token common.Address) (uint8, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.decimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidProduct, token.Hex())
	}
	return d, nil
}

// BankBalanceReader adapts a Bank into the venue's read-only balance
// query, for the diagnostic reconciliation surface.
type BankBalanceReader struct {
	Bank *Bank
}

func (r BankBalanceReader) BalanceOf(account, token common.Address) (*big.Int, error) {
	return r.Bank.BalanceOf(token, account), nil
}
