package manager_test

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/ledger"
	"PoolLedger/internal/manager"
	"PoolLedger/internal/pricing"
	"PoolLedger/internal/queue"
	"PoolLedger/internal/venue"
)

// --- Test fixture ---

var (
	admin        = common.HexToAddress("0xA1")
	feeRecipient = common.HexToAddress("0xFee")
	authority    = common.HexToAddress("0x5e77")
	routerAddr   = common.HexToAddress("0xe5c")
	venueAcct    = common.HexToAddress("0x7e")
	alice        = common.HexToAddress("0xa11ce")
	bob          = common.HexToAddress("0xb0b")

	tokenBTC = common.HexToAddress("0xb7c")
	tokenUSD = common.HexToAddress("0x05d")
)

const poolID = 1

// Prices: BTC = 50,000 reference units at 8 decimals, USD = 1 reference
// unit at 6 decimals. Fixed settlement fee = 5 reference units, so
// fee(USD) = 5_000_000 and fee(BTC) = 10_000.
func newTestEnv(t *testing.T) (*manager.Manager, *venue.Bank, *venue.StubOracle) {
	t.Helper()

	bank := venue.NewBank()
	oracle := venue.NewStubOracle()
	oracle.SetProduct(tokenBTC, mulX18(50_000), 8)
	oracle.SetProduct(tokenUSD, mulX18(1), 6)

	m := manager.New(manager.Config{
		Admin:        admin,
		FeeRecipient: feeRecipient,
		FeePolicy:    manager.FeePolicyReject,
	}, ledger.NewStore(), oracle, bank, mulX18(5))
	return m, bank, oracle
}

func mulX18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pricing.X18Scale)
}

func bi(n int64) *big.Int { return big.NewInt(n) }

// unlimitedCap is far above anything a test deposits.
func unlimitedCap() *big.Int {
	return new(big.Int).Exp(bi(10), bi(40), nil)
}

func createSpotPool(t *testing.T, m *manager.Manager, caps []*big.Int) {
	t.Helper()
	if caps == nil {
		caps = []*big.Int{unlimitedCap(), unlimitedCap()}
	}
	err := m.CreatePool(admin, poolID, ledger.KindSpot,
		[]common.Address{tokenBTC, tokenUSD}, caps, authority, routerAddr, venueAcct)
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
}

func fundAndApprove(bank *venue.Bank, user common.Address, btc, usd int64) {
	bank.Mint(tokenBTC, user, bi(btc))
	bank.Mint(tokenUSD, user, bi(usd))
	bank.Approve(tokenBTC, user, routerAddr)
	bank.Approve(tokenUSD, user, routerAddr)
}

// depositOneBTC submits and confirms a 1 BTC + 50,000 USD deposit.
func depositOneBTC(t *testing.T, m *manager.Manager, bank *venue.Bank, user common.Address) {
	t.Helper()
	fundAndApprove(bank, user, 100_000_000, 50_000_000_000)
	id, err := m.DepositSpot(user, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), user)
	if err != nil {
		t.Fatalf("DepositSpot: %v", err)
	}
	out, err := m.Confirm(authority, id, []byte(`{"amount1":"50000000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Applied {
		t.Fatalf("deposit not applied: %s (%s)", out.Status, out.Reason)
	}
}

// ============================================================================
// Scenario: spot deposit credits both legs exactly once
// ============================================================================

func TestDepositSpot_CreditsBothLegsOnConfirm(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	fundAndApprove(bank, alice, 100_000_000, 50_000_000_000)

	id, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), alice)
	if err != nil {
		t.Fatalf("DepositSpot: %v", err)
	}
	if id != 1 {
		t.Errorf("first id: got %d, want 1", id)
	}

	// Nothing credited before confirmation.
	if got := m.GetUserActiveAmount(poolID, tokenBTC, alice); got.Sign() != 0 {
		t.Errorf("pre-confirm BTC balance: got %s, want 0", got)
	}

	out, err := m.Confirm(authority, id, []byte(`{"amount1":"50000000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Applied {
		t.Fatalf("status: got %s (%s), want Applied", out.Status, out.Reason)
	}

	if got := m.GetUserActiveAmount(poolID, tokenBTC, alice); got.Cmp(bi(100_000_000)) != 0 {
		t.Errorf("BTC active: got %s, want 100000000", got)
	}
	if got := m.GetUserActiveAmount(poolID, tokenUSD, alice); got.Cmp(bi(50_000_000_000)) != 0 {
		t.Errorf("USD active: got %s, want 50000000000", got)
	}

	// Funds were mirrored to the venue account.
	if got := bank.BalanceOf(tokenBTC, venueAcct); got.Cmp(bi(100_000_000)) != 0 {
		t.Errorf("venue BTC: got %s, want 100000000", got)
	}

	// Confirming again is a sequencing violation, never a double credit.
	if _, err := m.Confirm(authority, id, []byte(`{"amount1":"50000000000"}`)); !errors.Is(err, queue.ErrInvalidSequence) {
		t.Errorf("replayed confirm: got %v, want ErrInvalidSequence", err)
	}
}

// ============================================================================
// Scenario: hardcap rejects at admission, queue untouched
// ============================================================================

func TestDepositSpot_HardcapRejectedAtSubmission(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	// BTC cap = 0.5 BTC (5e17 at 18 decimals -> 5e7 native).
	createSpotPool(t, m, []*big.Int{
		new(big.Int).Div(pricing.X18Scale, bi(2)),
		unlimitedCap(),
	})
	fundAndApprove(bank, alice, 100_000_000, 50_000_000_000)

	_, tailBefore := m.Cursor()
	_, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), alice)

	var hc *ledger.HardcapError
	if !errors.As(err, &hc) {
		t.Fatalf("got %v, want HardcapError", err)
	}
	if hc.Token != tokenBTC {
		t.Errorf("hardcap token: got %s, want %s", hc.Token.Hex(), tokenBTC.Hex())
	}
	if hc.Hardcap.Cmp(bi(50_000_000)) != 0 {
		t.Errorf("hardcap: got %s, want 50000000", hc.Hardcap)
	}
	if hc.Rejected.Cmp(bi(100_000_000)) != 0 {
		t.Errorf("rejected: got %s, want 100000000", hc.Rejected)
	}

	if _, tail := m.Cursor(); tail != tailBefore {
		t.Errorf("queue tail moved on rejected submission: %d -> %d", tailBefore, tail)
	}
}

// ============================================================================
// Scenario: withdraw full balance, confirm, claim
// ============================================================================

func TestWithdrawSpot_FullCycleWithClaim(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	depositOneBTC(t, m, bank, alice)

	// Fee on the USD leg (index 1): 5_000_000.
	id, err := m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(50_000_000_000), 1)
	if err != nil {
		t.Fatalf("WithdrawSpot: %v", err)
	}

	// Optimistic debit at submission.
	if got := m.GetUserActiveAmount(poolID, tokenBTC, alice); got.Sign() != 0 {
		t.Errorf("BTC active after submit: got %s, want 0", got)
	}
	if got := m.GetUserActiveAmount(poolID, tokenUSD, alice); got.Sign() != 0 {
		t.Errorf("USD active after submit: got %s, want 0", got)
	}

	out, err := m.Confirm(authority, id, []byte(`{}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Applied {
		t.Fatalf("status: got %s (%s), want Applied", out.Status, out.Reason)
	}

	if got := m.GetUserPendingAmount(alice, tokenBTC); got.Cmp(bi(100_000_000)) != 0 {
		t.Errorf("pending BTC: got %s, want 100000000", got)
	}
	if got := m.GetUserPendingAmount(alice, tokenUSD); got.Cmp(bi(49_995_000_000)) != 0 {
		t.Errorf("pending USD: got %s, want 49995000000", got)
	}
	if got := m.GetUserFee(poolID, tokenUSD, alice); got.Cmp(bi(5_000_000)) != 0 {
		t.Errorf("user fee: got %s, want 5000000", got)
	}

	if err := m.Claim(alice, []common.Address{tokenBTC, tokenUSD}, poolID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if got := m.GetUserPendingAmount(alice, tokenUSD); got.Sign() != 0 {
		t.Errorf("pending USD after claim: got %s, want 0", got)
	}
	if got := m.GetUserFee(poolID, tokenUSD, alice); got.Sign() != 0 {
		t.Errorf("user fee after claim: got %s, want 0", got)
	}
	if got := bank.BalanceOf(tokenUSD, alice); got.Cmp(bi(49_995_000_000)) != 0 {
		t.Errorf("alice USD balance: got %s, want 49995000000", got)
	}
	if got := bank.BalanceOf(tokenBTC, alice); got.Cmp(bi(100_000_000)) != 0 {
		t.Errorf("alice BTC balance: got %s, want 100000000", got)
	}
	if got := bank.BalanceOf(tokenUSD, feeRecipient); got.Cmp(bi(5_000_000)) != 0 {
		t.Errorf("fee recipient USD: got %s, want 5000000", got)
	}

	// Claiming again is a no-op, not an error.
	if err := m.Claim(alice, []common.Address{tokenBTC, tokenUSD}, poolID); err != nil {
		t.Errorf("second Claim: %v", err)
	}
}

// ============================================================================
// Scenario: back-to-back withdrawals both debit immediately
// ============================================================================

func TestWithdrawSpot_ConsecutiveDebitsApplyIndependently(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	depositOneBTC(t, m, bank, alice)

	half := bi(50_000_000)
	halfUSD := bi(25_000_000_000)
	if _, err := m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD, half, halfUSD, 1); err != nil {
		t.Fatalf("first WithdrawSpot: %v", err)
	}
	if _, err := m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD, half, halfUSD, 1); err != nil {
		t.Fatalf("second WithdrawSpot: %v", err)
	}

	// Both debits landed with no confirmation in between.
	pt, _ := m.GetPoolToken(poolID, tokenBTC)
	if pt.ActiveTotal.Sign() != 0 {
		t.Errorf("BTC active total: got %s, want 0", pt.ActiveTotal)
	}

	// A third withdrawal has nothing left to debit.
	if _, err := m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD, half, halfUSD, 1); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("third WithdrawSpot: got %v, want ErrInsufficientBalance", err)
	}
}

// ============================================================================
// Scenario: only the pool's authority may confirm
// ============================================================================

func TestConfirm_RejectsNonAuthority(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	fundAndApprove(bank, alice, 100_000_000, 50_000_000_000)

	id, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), alice)
	if err != nil {
		t.Fatalf("DepositSpot: %v", err)
	}

	headBefore, _ := m.Cursor()
	_, err = m.Confirm(bob, id, []byte(`{"amount1":"50000000000"}`))
	if !errors.Is(err, queue.ErrNotAuthority) {
		t.Fatalf("got %v, want ErrNotAuthority", err)
	}

	if head, _ := m.Cursor(); head != headBefore {
		t.Errorf("cursor moved on rejected confirm: %d -> %d", headBefore, head)
	}
	if got := m.GetUserActiveAmount(poolID, tokenBTC, alice); got.Sign() != 0 {
		t.Errorf("balance changed on rejected confirm: %s", got)
	}
}

// ============================================================================
// Silent skip: vanished funds advance the cursor without mutation
// ============================================================================

func TestConfirm_SkipsWhenDepositorFundsVanished(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	fundAndApprove(bank, alice, 100_000_000, 50_000_000_000)

	id, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), alice)
	if err != nil {
		t.Fatalf("DepositSpot: %v", err)
	}

	// Funds vanish between submission and confirmation.
	bank.Revoke(tokenBTC, alice, routerAddr)

	out, err := m.Confirm(authority, id, []byte(`{"amount1":"50000000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Skipped {
		t.Fatalf("status: got %s, want Skipped", out.Status)
	}
	if out.Reason == "" {
		t.Error("skip reason missing")
	}

	// Cursor advanced, ledger untouched.
	if head, tail := m.Cursor(); head != 1 || tail != 2 {
		t.Errorf("cursor: got head=%d tail=%d, want head=1 tail=2", head, tail)
	}
	if got := m.GetUserActiveAmount(poolID, tokenBTC, alice); got.Sign() != 0 {
		t.Errorf("balance changed on skip: %s", got)
	}

	// The queue keeps going: the next entry confirms normally.
	bank.Approve(tokenBTC, alice, routerAddr)
	depositOneBTC(t, m, bank, alice)
}

// ============================================================================
// FIFO strictness
// ============================================================================

func TestConfirm_RejectsOutOfOrderIDs(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	fundAndApprove(bank, alice, 300_000_000, 150_000_000_000)

	for i := 0; i < 3; i++ {
		if _, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
			bi(100_000_000), bi(0), unlimitedCap(), alice); err != nil {
			t.Fatalf("DepositSpot %d: %v", i, err)
		}
	}

	resp := []byte(`{"amount1":"50000000000"}`)
	for _, id := range []uint64{0, 2, 3, 99} {
		if _, err := m.Confirm(authority, id, resp); !errors.Is(err, queue.ErrInvalidSequence) {
			t.Errorf("confirm id %d: got %v, want ErrInvalidSequence", id, err)
		}
	}

	for id := uint64(1); id <= 3; id++ {
		if _, err := m.Confirm(authority, id, resp); err != nil {
			t.Fatalf("confirm id %d: %v", id, err)
		}
	}
	if head, tail := m.Cursor(); head != 3 || tail != 4 {
		t.Errorf("cursor: got head=%d tail=%d, want head=3 tail=4", head, tail)
	}
}

// ============================================================================
// Admission checks
// ============================================================================

func TestDepositSpot_SlippageBand(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	fundAndApprove(bank, alice, 100_000_000, 50_000_000_000)

	// Balanced amount is 50_000_000_000; a band below it fails.
	_, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(1), bi(49_999_999_999), alice)
	if !errors.Is(err, pricing.ErrSlippageTooHigh) {
		t.Errorf("got %v, want ErrSlippageTooHigh", err)
	}

	// An inclusive band edge passes.
	if _, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(50_000_000_000), bi(50_000_000_000), alice); err != nil {
		t.Errorf("exact band edge: %v", err)
	}
}

func TestWithdrawSpot_RejectsUnbalancedAndUnderFee(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	depositOneBTC(t, m, bank, alice)

	_, err := m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(49_000_000_000), 1)
	if !errors.Is(err, manager.ErrUnbalancedAmounts) {
		t.Errorf("got %v, want ErrUnbalancedAmounts", err)
	}

	// 4 USD withdrawn cannot cover the 5 USD fee.
	_, err = m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(8_000), bi(4_000_000), 1)
	if !errors.Is(err, manager.ErrAmountTooLow) {
		t.Errorf("got %v, want ErrAmountTooLow", err)
	}
}

func TestClaim_RejectsZeroAddress(t *testing.T) {
	m, _, _ := newTestEnv(t)
	createSpotPool(t, m, nil)

	err := m.Claim(common.Address{}, []common.Address{tokenUSD}, poolID)
	if !errors.Is(err, manager.ErrZeroAddress) {
		t.Errorf("got %v, want ErrZeroAddress", err)
	}
}

func TestPause_BlocksCategoryIndependently(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	depositOneBTC(t, m, bank, alice)

	if err := m.PauseDeposits(admin, true); err != nil {
		t.Fatalf("PauseDeposits: %v", err)
	}
	_, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), alice)
	if !errors.Is(err, manager.ErrDepositsPaused) {
		t.Errorf("got %v, want ErrDepositsPaused", err)
	}

	// Withdrawals stay open while deposits are paused.
	if _, err := m.WithdrawSpot(alice, poolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(50_000_000_000), 1); err != nil {
		t.Errorf("WithdrawSpot while deposits paused: %v", err)
	}

	if err := m.PauseDeposits(bob, false); !errors.Is(err, manager.ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
}

// --- Basket fixture ---

const basketPoolID = 2

var (
	basketRouter = common.HexToAddress("0xe5c2")
	basketVenue  = common.HexToAddress("0x7e2")
)

func newTestEnvWithPolicy(t *testing.T, policy manager.FeePolicy) (*manager.Manager, *venue.Bank) {
	t.Helper()

	bank := venue.NewBank()
	oracle := venue.NewStubOracle()
	oracle.SetProduct(tokenBTC, mulX18(50_000), 8)
	oracle.SetProduct(tokenUSD, mulX18(1), 6)

	m := manager.New(manager.Config{
		Admin:        admin,
		FeeRecipient: feeRecipient,
		FeePolicy:    policy,
	}, ledger.NewStore(), oracle, bank, mulX18(5))
	return m, bank
}

func createBasketPool(t *testing.T, m *manager.Manager) {
	t.Helper()
	err := m.CreatePool(admin, basketPoolID, ledger.KindBasket,
		[]common.Address{tokenBTC, tokenUSD},
		[]*big.Int{unlimitedCap(), unlimitedCap()},
		authority, basketRouter, basketVenue)
	if err != nil {
		t.Fatalf("CreatePool basket: %v", err)
	}
}

// depositBasketUSD submits and confirms a basket deposit of amount USD
// native units.
func depositBasketUSD(t *testing.T, m *manager.Manager, bank *venue.Bank, user common.Address, amount int64) {
	t.Helper()
	bank.Mint(tokenUSD, user, bi(amount))
	bank.Approve(tokenUSD, user, basketRouter)
	id, err := m.DepositBasket(user, basketPoolID, tokenUSD, bi(amount), user)
	if err != nil {
		t.Fatalf("DepositBasket: %v", err)
	}
	out, err := m.Confirm(authority, id, []byte(`{}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Applied {
		t.Fatalf("basket deposit not applied: %s (%s)", out.Status, out.Reason)
	}
}

// faultBank fails venue-bound transfers of one token, imitating a
// venue-side custody outage.
type faultBank struct {
	*venue.Bank
	failToken common.Address
	venueAcct common.Address
}

func (b *faultBank) Transfer(token, from, to common.Address, amount *big.Int) error {
	if token == b.failToken && to == b.venueAcct {
		return fmt.Errorf("venue transfer unavailable")
	}
	return b.Bank.Transfer(token, from, to, amount)
}

// ============================================================================
// Scenario: basket deposit credits the single leg
// ============================================================================

func TestDepositBasket_CreditsSingleLegOnConfirm(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createSpotPool(t, m, nil)
	createBasketPool(t, m)

	depositBasketUSD(t, m, bank, alice, 10_000_000_000)

	if got := m.GetUserActiveAmount(basketPoolID, tokenUSD, alice); got.Cmp(bi(10_000_000_000)) != 0 {
		t.Errorf("active USD: got %s, want 10000000000", got)
	}
	if got := bank.BalanceOf(tokenUSD, basketVenue); got.Cmp(bi(10_000_000_000)) != 0 {
		t.Errorf("venue holdings: got %s, want 10000000000", got)
	}
	if got := bank.BalanceOf(tokenUSD, alice); got.Sign() != 0 {
		t.Errorf("depositor residue: got %s, want 0", got)
	}

	// Kind mismatch rejection cuts both ways.
	if _, err := m.DepositBasket(alice, poolID, tokenUSD, bi(1_000_000), alice); !errors.Is(err, manager.ErrWrongPoolKind) {
		t.Errorf("basket deposit into spot pool: got %v, want ErrWrongPoolKind", err)
	}
	if _, err := m.DepositSpot(alice, basketPoolID, tokenBTC, tokenUSD,
		bi(100_000_000), bi(0), unlimitedCap(), alice); !errors.Is(err, manager.ErrWrongPoolKind) {
		t.Errorf("spot deposit into basket pool: got %v, want ErrWrongPoolKind", err)
	}
}

// ============================================================================
// Scenario: basket withdrawal with venue-side rounding, then claim
// ============================================================================

func TestWithdrawBasket_ReducedAmountNetsFeeAndClaims(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createBasketPool(t, m)
	depositBasketUSD(t, m, bank, alice, 10_000_000_000)

	id, err := m.WithdrawBasket(alice, basketPoolID, tokenUSD, bi(10_000_000_000))
	if err != nil {
		t.Fatalf("WithdrawBasket: %v", err)
	}

	// The full requested amount is debited at admission.
	if got := m.GetUserActiveAmount(basketPoolID, tokenUSD, alice); got.Sign() != 0 {
		t.Errorf("active after submit: got %s, want 0", got)
	}

	// The venue rounds the payout down; fee(USD) = 5_000_000.
	out, err := m.Confirm(authority, id, []byte(`{"amount_to_receive":"9000000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Applied {
		t.Fatalf("withdrawal not applied: %s (%s)", out.Status, out.Reason)
	}
	if got := m.GetUserPendingAmount(alice, tokenUSD); got.Cmp(bi(8_995_000_000)) != 0 {
		t.Errorf("pending: got %s, want 8995000000", got)
	}
	if got := m.GetUserFee(basketPoolID, tokenUSD, alice); got.Cmp(bi(5_000_000)) != 0 {
		t.Errorf("accrued fee: got %s, want 5000000", got)
	}

	if err := m.Claim(alice, []common.Address{tokenUSD}, basketPoolID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got := bank.BalanceOf(tokenUSD, alice); got.Cmp(bi(8_995_000_000)) != 0 {
		t.Errorf("claimed: got %s, want 8995000000", got)
	}
	if got := bank.BalanceOf(tokenUSD, feeRecipient); got.Cmp(bi(5_000_000)) != 0 {
		t.Errorf("fee recipient: got %s, want 5000000", got)
	}
}

func TestWithdrawBasket_RejectsConfirmedAmountAboveRequested(t *testing.T) {
	m, bank, _ := newTestEnv(t)
	createBasketPool(t, m)
	depositBasketUSD(t, m, bank, alice, 10_000_000_000)

	id, err := m.WithdrawBasket(alice, basketPoolID, tokenUSD, bi(1_000_000_000))
	if err != nil {
		t.Fatalf("WithdrawBasket: %v", err)
	}
	out, err := m.Confirm(authority, id, []byte(`{"amount_to_receive":"2000000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Skipped {
		t.Fatalf("over-confirmed withdrawal: got %s, want Skipped", out.Status)
	}
	if got := m.GetUserPendingAmount(alice, tokenUSD); got.Sign() != 0 {
		t.Errorf("pending after skip: got %s, want 0", got)
	}
}

// ============================================================================
// Scenario: fee shortfall under both fee policies
// ============================================================================

func TestWithdrawBasket_FeeShortfallPolicies(t *testing.T) {
	// Reject policy: a confirmed amount under the fee skips the
	// settlement and the admission debit stays stranded.
	m, bank := newTestEnvWithPolicy(t, manager.FeePolicyReject)
	createBasketPool(t, m)
	depositBasketUSD(t, m, bank, alice, 10_000_000_000)

	id, err := m.WithdrawBasket(alice, basketPoolID, tokenUSD, bi(10_000_000_000))
	if err != nil {
		t.Fatalf("WithdrawBasket: %v", err)
	}
	out, err := m.Confirm(authority, id, []byte(`{"amount_to_receive":"1000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Skipped {
		t.Fatalf("shortfall under reject policy: got %s, want Skipped", out.Status)
	}
	if got := m.GetUserPendingAmount(alice, tokenUSD); got.Sign() != 0 {
		t.Errorf("pending after skip: got %s, want 0", got)
	}
	if got := m.StrandedWithdrawals(basketPoolID, tokenUSD); got.Cmp(bi(10_000_000_000)) != 0 {
		t.Errorf("stranded total: got %s, want 10000000000", got)
	}

	// Partial policy: the fee caps at the confirmed amount and the
	// settlement applies with nothing left over for the user.
	m2, bank2 := newTestEnvWithPolicy(t, manager.FeePolicyPartial)
	createBasketPool(t, m2)
	depositBasketUSD(t, m2, bank2, alice, 10_000_000_000)

	id, err = m2.WithdrawBasket(alice, basketPoolID, tokenUSD, bi(10_000_000_000))
	if err != nil {
		t.Fatalf("WithdrawBasket: %v", err)
	}
	out, err = m2.Confirm(authority, id, []byte(`{"amount_to_receive":"1000000"}`))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != queue.Applied {
		t.Fatalf("shortfall under partial policy: got %s (%s), want Applied", out.Status, out.Reason)
	}
	if got := m2.GetUserPendingAmount(alice, tokenUSD); got.Sign() != 0 {
		t.Errorf("pending: got %s, want 0", got)
	}
	if got := m2.GetUserFee(basketPoolID, tokenUSD, alice); got.Cmp(bi(1_000_000)) != 0 {
		t.Errorf("capped fee: got %s, want 1000000", got)
	}
	if got := m2.StrandedWithdrawals(basketPoolID, tokenUSD); got.Sign() != 0 {
		t.Errorf("stranded total under partial: got %s, want 0", got)
	}
}

// ============================================================================
// Scenario: venue custody failure mid-deposit refunds every pulled leg
// ============================================================================

func TestDepositSpot_RefundsWhenVenueForwardFails(t *testing.T) {
	// Failing on token0 exercises the pre-forward unwind; failing on
	// token1 exercises the recall of the already-forwarded first leg.
	for _, failTok := range []common.Address{tokenBTC, tokenUSD} {
		bank := venue.NewBank()
		oracle := venue.NewStubOracle()
		oracle.SetProduct(tokenBTC, mulX18(50_000), 8)
		oracle.SetProduct(tokenUSD, mulX18(1), 6)
		fb := &faultBank{Bank: bank, failToken: failTok, venueAcct: venueAcct}
		m := manager.New(manager.Config{
			Admin:        admin,
			FeeRecipient: feeRecipient,
			FeePolicy:    manager.FeePolicyReject,
		}, ledger.NewStore(), oracle, fb, mulX18(5))
		createSpotPool(t, m, nil)
		fundAndApprove(bank, alice, 100_000_000, 50_000_000_000)

		id, err := m.DepositSpot(alice, poolID, tokenBTC, tokenUSD,
			bi(100_000_000), bi(0), unlimitedCap(), alice)
		if err != nil {
			t.Fatalf("fail=%s DepositSpot: %v", failTok.Hex(), err)
		}
		out, err := m.Confirm(authority, id, []byte(`{"amount1":"50000000000"}`))
		if err != nil {
			t.Fatalf("fail=%s Confirm: %v", failTok.Hex(), err)
		}
		if out.Status != queue.Skipped {
			t.Fatalf("fail=%s: got %s, want Skipped", failTok.Hex(), out.Status)
		}

		// Both legs are back with the depositor, nothing lingers in
		// escrow or at the venue, nothing was credited.
		if got := bank.BalanceOf(tokenBTC, alice); got.Cmp(bi(100_000_000)) != 0 {
			t.Errorf("fail=%s BTC refund: got %s, want 100000000", failTok.Hex(), got)
		}
		if got := bank.BalanceOf(tokenUSD, alice); got.Cmp(bi(50_000_000_000)) != 0 {
			t.Errorf("fail=%s USD refund: got %s, want 50000000000", failTok.Hex(), got)
		}
		if got := bank.BalanceOf(tokenBTC, routerAddr); got.Sign() != 0 {
			t.Errorf("fail=%s BTC in escrow: got %s, want 0", failTok.Hex(), got)
		}
		if got := bank.BalanceOf(tokenUSD, routerAddr); got.Sign() != 0 {
			t.Errorf("fail=%s USD in escrow: got %s, want 0", failTok.Hex(), got)
		}
		if got := m.GetUserActiveAmount(poolID, tokenBTC, alice); got.Sign() != 0 {
			t.Errorf("fail=%s active credit: got %s, want 0", failTok.Hex(), got)
		}
	}
}
