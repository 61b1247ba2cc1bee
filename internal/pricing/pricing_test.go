package pricing_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/pricing"
	"PoolLedger/internal/venue"
)

var (
	tokenBTC = common.HexToAddress("0xb7c")
	tokenUSD = common.HexToAddress("0x05d")
	tokenETH = common.HexToAddress("0xe74")
)

func bi(n int64) *big.Int { return big.NewInt(n) }

func x18(n int64) *big.Int {
	return new(big.Int).Mul(bi(n), pricing.X18Scale)
}

// newCalc prices BTC at 50,000 (8 decimals), ETH at 3,000 (18
// decimals), USD at 1 (6 decimals), with a 5-unit fixed fee.
func newCalc() *pricing.Calculator {
	oracle := venue.NewStubOracle()
	oracle.SetProduct(tokenBTC, x18(50_000), 8)
	oracle.SetProduct(tokenETH, x18(3_000), 18)
	oracle.SetProduct(tokenUSD, x18(1), 6)
	return pricing.NewCalculator(oracle, x18(5))
}

// ============================================================================
// Test: balanced amount
// ============================================================================

func TestBalancedAmount_ConvertsAcrossDecimals(t *testing.T) {
	c := newCalc()

	// 1 BTC (1e8 at 8 decimals) -> 50,000 USD (5e10 at 6 decimals).
	got, err := c.BalancedAmount(tokenBTC, tokenUSD, bi(100_000_000))
	if err != nil {
		t.Fatalf("BalancedAmount: %v", err)
	}
	if got.Cmp(bi(50_000_000_000)) != 0 {
		t.Errorf("got %s, want 50000000000", got)
	}

	// 3,000 USD -> 1 ETH at 18 decimals.
	got, err = c.BalancedAmount(tokenUSD, tokenETH, bi(3_000_000_000))
	if err != nil {
		t.Fatalf("BalancedAmount: %v", err)
	}
	if got.Cmp(x18(1)) != 0 {
		t.Errorf("got %s, want %s", got, x18(1))
	}
}

func TestBalancedAmount_UnknownTokenPropagatesInvalidProduct(t *testing.T) {
	c := newCalc()
	unknown := common.HexToAddress("0xdead")
	if _, err := c.BalancedAmount(tokenBTC, unknown, bi(1)); !errors.Is(err, venue.ErrInvalidProduct) {
		t.Errorf("got %v, want ErrInvalidProduct", err)
	}
}

// Round-tripping a conversion never creates value: converting x from A
// to B and back lands at or below x.
func TestBalancedAmount_RoundTripNeverFavorsDepositor(t *testing.T) {
	c := newCalc()
	pairs := [][2]common.Address{
		{tokenBTC, tokenUSD},
		{tokenUSD, tokenBTC},
		{tokenETH, tokenUSD},
		{tokenBTC, tokenETH},
	}
	amounts := []int64{1, 3, 7, 999, 12_345_677, 100_000_000, 987_654_321_123}

	for _, pair := range pairs {
		for _, n := range amounts {
			x := bi(n)
			ab, err := c.BalancedAmount(pair[0], pair[1], x)
			if err != nil {
				t.Fatalf("forward: %v", err)
			}
			back, err := c.BalancedAmount(pair[1], pair[0], ab)
			if err != nil {
				t.Fatalf("back: %v", err)
			}
			if back.Cmp(x) > 0 {
				t.Errorf("round trip %s->%s->%s gained value: %s -> %s",
					pair[0].Hex(), pair[1].Hex(), pair[0].Hex(), x, back)
			}
		}
	}
}

// ============================================================================
// Test: slippage band
// ============================================================================

func TestCheckBand_InclusiveBounds(t *testing.T) {
	c := newCalc()

	if err := c.CheckBand(bi(100), bi(100), bi(100)); err != nil {
		t.Errorf("degenerate band: %v", err)
	}
	if err := c.CheckBand(bi(100), bi(50), bi(150)); err != nil {
		t.Errorf("inside band: %v", err)
	}
	if err := c.CheckBand(bi(49), bi(50), bi(150)); !errors.Is(err, pricing.ErrSlippageTooHigh) {
		t.Errorf("below band: got %v, want ErrSlippageTooHigh", err)
	}
	if err := c.CheckBand(bi(151), bi(50), bi(150)); !errors.Is(err, pricing.ErrSlippageTooHigh) {
		t.Errorf("above band: got %v, want ErrSlippageTooHigh", err)
	}
}

// ============================================================================
// Test: transaction fee
// ============================================================================

func TestTransactionFee_RoundsUpAndStaysPositive(t *testing.T) {
	c := newCalc()

	// 5 units in USD at 6 decimals: exactly 5_000_000.
	fee, err := c.TransactionFee(tokenUSD)
	if err != nil {
		t.Fatalf("TransactionFee: %v", err)
	}
	if fee.Cmp(bi(5_000_000)) != 0 {
		t.Errorf("USD fee: got %s, want 5000000", fee)
	}

	// 5/50000 BTC at 8 decimals: exactly 10_000.
	fee, err = c.TransactionFee(tokenBTC)
	if err != nil {
		t.Fatalf("TransactionFee: %v", err)
	}
	if fee.Cmp(bi(10_000)) != 0 {
		t.Errorf("BTC fee: got %s, want 10000", fee)
	}

	// A price that does not divide evenly rounds up, never to zero.
	oracle := venue.NewStubOracle()
	oracle.SetProduct(tokenETH, x18(3), 0)
	awkward := pricing.NewCalculator(oracle, x18(1))
	fee, err = awkward.TransactionFee(tokenETH)
	if err != nil {
		t.Fatalf("TransactionFee: %v", err)
	}
	if fee.Cmp(bi(1)) != 0 {
		t.Errorf("fee ceil(1/3) at 0 decimals: got %s, want 1", fee)
	}
}

func TestTransactionFee_DeterministicForFixedPrice(t *testing.T) {
	c := newCalc()
	first, err := c.TransactionFee(tokenBTC)
	if err != nil {
		t.Fatalf("TransactionFee: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.TransactionFee(tokenBTC)
		if err != nil {
			t.Fatalf("TransactionFee: %v", err)
		}
		if again.Cmp(first) != 0 {
			t.Fatalf("fee changed between calls: %s -> %s", first, again)
		}
	}
}

// ============================================================================
// Test: helpers
// ============================================================================

func TestMulDiv_RoundingModes(t *testing.T) {
	if got := pricing.MulDiv(bi(7), bi(1), bi(2), pricing.RoundDown); got.Cmp(bi(3)) != 0 {
		t.Errorf("floor 7/2: got %s, want 3", got)
	}
	if got := pricing.MulDiv(bi(7), bi(1), bi(2), pricing.RoundUp); got.Cmp(bi(4)) != 0 {
		t.Errorf("ceil 7/2: got %s, want 4", got)
	}
	if got := pricing.MulDiv(bi(8), bi(1), bi(2), pricing.RoundUp); got.Cmp(bi(4)) != 0 {
		t.Errorf("ceil 8/2: got %s, want 4", got)
	}
}

func TestNormalizeToNative(t *testing.T) {
	// 0.5 at 18 decimals -> 50_000_000 at 8 decimals.
	half := new(big.Int).Div(pricing.X18Scale, bi(2))
	if got := pricing.NormalizeToNative(half, 8); got.Cmp(bi(50_000_000)) != 0 {
		t.Errorf("got %s, want 50000000", got)
	}
	// 18-decimal tokens pass through unchanged.
	if got := pricing.NormalizeToNative(x18(3), 18); got.Cmp(x18(3)) != 0 {
		t.Errorf("got %s, want %s", got, x18(3))
	}
}
