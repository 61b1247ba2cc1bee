package pricing

import (
	"PoolLedger/internal/venue"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrSlippageTooHigh is returned when a caller-supplied paired amount
// falls outside the requested band.
var ErrSlippageTooHigh = errors.New("slippage too high")

// X18Scale is the fixed-point scale of oracle prices (18 decimals).
var X18Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// RoundingMode selects the rounding direction for fixed-point division.
// Balanced amounts round down so conversions never favor the depositor;
// fees round up so the protocol never undercollects.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// MulDiv computes a*b/denom with the given rounding, in big-int space
// so intermediate products cannot overflow.
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	num := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(num, denom, new(big.Int))
	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Calculator converts between token units using venue prices and native
// decimals, and prices the per-token settlement fee.
type Calculator struct {
	oracle venue.PriceOracle
	// fixedFee is the protocol-wide settlement fee in X18 reference
	// units (1e18 == one reference unit).
	fixedFee *big.Int
}

func NewCalculator(oracle venue.PriceOracle, fixedFeeX18 *big.Int) *Calculator {
	return &Calculator{
		oracle:   oracle,
		fixedFee: new(big.Int).Set(fixedFeeX18),
	}
}

// BalancedAmount converts amountA of tokenA into the price-equivalent
// amount of tokenB, rounding down:
//
//	amountB = floor(amountA * priceA * 10^decB / (priceB * 10^decA))
func (c *Calculator) BalancedAmount(tokenA, tokenB common.Address, amountA *big.Int) (*big.Int, error) {
	priceA, err := c.oracle.Price(tokenA)
	if err != nil {
		return nil, err
	}
	priceB, err := c.oracle.Price(tokenB)
	if err != nil {
		return nil, err
	}
	decA, err := c.oracle.Decimals(tokenA)
	if err != nil {
		return nil, err
	}
	decB, err := c.oracle.Decimals(tokenB)
	if err != nil {
		return nil, err
	}

	num := new(big.Int).Mul(priceA, Pow10(decB))
	denom := new(big.Int).Mul(priceB, Pow10(decA))
	return MulDiv(amountA, num, denom, RoundDown), nil
}

// CheckBand validates a balanced amount against the caller's slippage
// band. The band is inclusive on both ends.
func (c *Calculator) CheckBand(balanced, low, high *big.Int) error {
	if balanced.Cmp(low) < 0 || balanced.Cmp(high) > 0 {
		return fmt.Errorf("%w: balanced=%s band=[%s, %s]", ErrSlippageTooHigh, balanced, low, high)
	}
	return nil
}

// TransactionFee converts the fixed reference-unit fee into token
// units at the current price, rounding up:
//
//	fee = ceil(fixedFee * 10^dec / price)
func (c *Calculator) TransactionFee(token common.Address) (*big.Int, error) {
	price, err := c.oracle.Price(token)
	if err != nil {
		return nil, err
	}
	dec, err := c.oracle.Decimals(token)
	if err != nil {
		return nil, err
	}
	return MulDiv(c.fixedFee, Pow10(dec), price, RoundUp), nil
}

// NormalizeToNative converts an amount expressed with 18 decimal places
// into the token's native precision, rounding down. Used for hardcaps.
func NormalizeToNative(amountX18 *big.Int, decimals uint8) *big.Int {
	return MulDiv(amountX18, Pow10(decimals), X18Scale, RoundDown)
}
