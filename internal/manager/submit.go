package manager

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/ledger"
	"PoolLedger/internal/queue"
)

// DepositSpot admits a two-token deposit. amount1 is quoted from the
// balancing ratio and must land inside the caller's [minAmount1,
// maxAmount1] band. No funds move and no balance changes here; custody
// is pulled when the authority confirms.
func (m *Manager) DepositSpot(caller common.Address, poolID uint64, token0, token1 common.Address, amount0, minAmount1, maxAmount1 *big.Int, receiver common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	kind := queue.KindDepositSpot

	if m.depositsPaused {
		return 0, m.reject(kind, ErrDepositsPaused)
	}
	if receiver == (common.Address{}) {
		return 0, m.reject(kind, ErrZeroAddress)
	}
	if amount0.Sign() <= 0 {
		return 0, m.reject(kind, ErrZeroAmount)
	}
	p, err := m.poolOfKind(poolID, ledger.KindSpot)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if _, err := m.supportedToken(poolID, token0); err != nil {
		return 0, m.reject(kind, err)
	}
	if _, err := m.supportedToken(poolID, token1); err != nil {
		return 0, m.reject(kind, err)
	}

	amount1, err := m.calc.BalancedAmount(token0, token1, amount0)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if err := m.calc.CheckBand(amount1, minAmount1, maxAmount1); err != nil {
		return 0, m.reject(kind, err)
	}
	if err := m.store.CheckHardcap(poolID, token0, amount0); err != nil {
		return 0, m.reject(kind, err)
	}
	if err := m.store.CheckHardcap(poolID, token1, amount1); err != nil {
		return 0, m.reject(kind, err)
	}

	e := m.queue.Append(caller, poolID, p.Router, queue.DepositSpot{
		Token0:   token0,
		Token1:   token1,
		Amount0:  new(big.Int).Set(amount0),
		Amount1:  amount1,
		Receiver: receiver,
	})
	m.accepted(e, start)
	return e.ID, nil
}

// DepositBasket admits a single-token deposit into a basket pool.
func (m *Manager) DepositBasket(caller common.Address, poolID uint64, token common.Address, amount *big.Int, receiver common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	kind := queue.KindDepositBasket

	if m.depositsPaused {
		return 0, m.reject(kind, ErrDepositsPaused)
	}
	if receiver == (common.Address{}) {
		return 0, m.reject(kind, ErrZeroAddress)
	}
	if amount.Sign() <= 0 {
		return 0, m.reject(kind, ErrZeroAmount)
	}
	p, err := m.poolOfKind(poolID, ledger.KindBasket)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if _, err := m.supportedToken(poolID, token); err != nil {
		return 0, m.reject(kind, err)
	}
	if err := m.store.CheckHardcap(poolID, token, amount); err != nil {
		return 0, m.reject(kind, err)
	}

	e := m.queue.Append(caller, poolID, p.Router, queue.DepositBasket{
		Token:    token,
		Amount:   new(big.Int).Set(amount),
		Receiver: receiver,
	})
	m.accepted(e, start)
	return e.ID, nil
}

// WithdrawSpot admits a two-token withdrawal. amount1 must equal the
// balancing ratio's quote exactly; the leg selected by feeIndex must
// cover the settlement fee. Both legs are debited from the caller's
// active balance here, before confirmation, so back-to-back withdrawals
// can never be confirmed against a balance checked only once.
func (m *Manager) WithdrawSpot(caller common.Address, poolID uint64, token0, token1 common.Address, amount0, amount1 *big.Int, feeIndex uint8) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	kind := queue.KindWithdrawSpot

	if m.withdrawalsPaused {
		return 0, m.reject(kind, ErrWithdrawalsPaused)
	}
	if amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		return 0, m.reject(kind, ErrZeroAmount)
	}
	if feeIndex > 1 {
		return 0, m.reject(kind, fmt.Errorf("%w: fee index %d", ledger.ErrUnsupportedToken, feeIndex))
	}
	p, err := m.poolOfKind(poolID, ledger.KindSpot)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if _, err := m.supportedToken(poolID, token0); err != nil {
		return 0, m.reject(kind, err)
	}
	if _, err := m.supportedToken(poolID, token1); err != nil {
		return 0, m.reject(kind, err)
	}

	balanced, err := m.calc.BalancedAmount(token0, token1, amount0)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if amount1.Cmp(balanced) != 0 {
		return 0, m.reject(kind, fmt.Errorf("%w: amount1=%s balanced=%s", ErrUnbalancedAmounts, amount1, balanced))
	}

	feeToken, feeAmount := token0, amount0
	if feeIndex == 1 {
		feeToken, feeAmount = token1, amount1
	}
	fee, err := m.calc.TransactionFee(feeToken)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if feeAmount.Cmp(fee) < 0 {
		return 0, m.reject(kind, fmt.Errorf("%w: amount=%s fee=%s", ErrAmountTooLow, feeAmount, fee))
	}

	// Optimistic debit of both legs. A later skip does not restore
	// them; reinstating stranded balances is an operator action.
	if err := m.store.DebitActive(poolID, token0, caller, amount0); err != nil {
		return 0, m.reject(kind, err)
	}
	if err := m.store.DebitActive(poolID, token1, caller, amount1); err != nil {
		// Undo the first leg so a failed admission leaves no trace.
		if cerr := m.store.CreditActive(poolID, token0, caller, amount0); cerr != nil {
			panic(fmt.Sprintf("FATAL: cannot restore debited balance: %v", cerr))
		}
		return 0, m.reject(kind, err)
	}

	e := m.queue.Append(caller, poolID, p.Router, queue.WithdrawSpot{
		Token0:   token0,
		Token1:   token1,
		Amount0:  new(big.Int).Set(amount0),
		Amount1:  new(big.Int).Set(amount1),
		FeeIndex: feeIndex,
	})
	m.accepted(e, start)
	return e.ID, nil
}

// WithdrawBasket admits a single-token withdrawal. The withdrawn token
// pays the fee. The caller's active balance is debited immediately.
func (m *Manager) WithdrawBasket(caller common.Address, poolID uint64, token common.Address, amount *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	kind := queue.KindWithdrawBasket

	if m.withdrawalsPaused {
		return 0, m.reject(kind, ErrWithdrawalsPaused)
	}
	if amount.Sign() <= 0 {
		return 0, m.reject(kind, ErrZeroAmount)
	}
	p, err := m.poolOfKind(poolID, ledger.KindBasket)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if _, err := m.supportedToken(poolID, token); err != nil {
		return 0, m.reject(kind, err)
	}

	fee, err := m.calc.TransactionFee(token)
	if err != nil {
		return 0, m.reject(kind, err)
	}
	if amount.Cmp(fee) < 0 {
		return 0, m.reject(kind, fmt.Errorf("%w: amount=%s fee=%s", ErrAmountTooLow, amount, fee))
	}

	if err := m.store.DebitActive(poolID, token, caller, amount); err != nil {
		return 0, m.reject(kind, err)
	}

	e := m.queue.Append(caller, poolID, p.Router, queue.WithdrawBasket{
		Token:  token,
		Amount: new(big.Int).Set(amount),
	})
	m.accepted(e, start)
	return e.ID, nil
}

// Claim pays out a user's pending balance for each token and routes the
// user's accumulated fees to the fee recipient, zeroing both. Zero
// balances are a no-op, not an error.
func (m *Manager) Claim(user common.Address, tokens []common.Address, poolID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimsPaused {
		return ErrClaimsPaused
	}
	if user == (common.Address{}) {
		return ErrZeroAddress
	}
	router, ok := m.routers[poolID]
	if !ok {
		return fmt.Errorf("%w: pool %d", ledger.ErrInvalidPool, poolID)
	}

	for _, token := range tokens {
		pending := m.store.DrainPending(user, token)
		if pending.Sign() > 0 {
			if err := router.PayOut(token, user, pending); err != nil {
				// Restore so the funds stay claimable.
				m.store.CreditPending(user, token, pending)
				return err
			}
			if m.metrics != nil {
				m.metrics.ClaimPayouts.WithLabelValues("user").Inc()
			}
		}

		fee := m.store.DrainFee(poolID, token, user)
		if fee.Sign() > 0 {
			if err := router.PayOut(token, m.cfg.FeeRecipient, fee); err != nil {
				m.store.AccrueFee(poolID, token, user, fee)
				return err
			}
			if m.metrics != nil {
				m.metrics.ClaimPayouts.WithLabelValues("fee_recipient").Inc()
			}
		}
	}

	if m.metrics != nil {
		m.metrics.ClaimsProcessed.Inc()
	}
	m.log.Debug().Str("user", user.Hex()).Uint64("pool", poolID).Int("tokens", len(tokens)).Msg("claim processed")
	return nil
}

// ---- Admission helpers ----

func (m *Manager) poolOfKind(poolID uint64, kind ledger.PoolKind) (*ledger.Pool, error) {
	p := m.store.GetPool(poolID)
	if p == nil {
		return nil, fmt.Errorf("%w: pool %d", ledger.ErrInvalidPool, poolID)
	}
	if p.Kind != kind {
		return nil, fmt.Errorf("%w: pool %d is %s", ErrWrongPoolKind, poolID, p.Kind)
	}
	return p, nil
}

func (m *Manager) supportedToken(poolID uint64, token common.Address) (ledger.PoolToken, error) {
	pt, ok := m.store.GetPoolToken(poolID, token)
	if !ok || !pt.Active {
		return ledger.PoolToken{}, fmt.Errorf("%w: %s in pool %d", ledger.ErrUnsupportedToken, token.Hex(), poolID)
	}
	return pt, nil
}

func (m *Manager) reject(kind queue.Kind, err error) error {
	if m.metrics != nil {
		m.metrics.RequestsRejected.WithLabelValues(kind.String(), rejectReason(err)).Inc()
	}
	return err
}

func (m *Manager) accepted(e *queue.Entry, start time.Time) {
	if m.metrics != nil {
		m.metrics.RequestsSubmitted.WithLabelValues(e.Kind.String()).Inc()
		m.metrics.SubmitDuration.WithLabelValues(e.Kind.String()).Observe(time.Since(start).Seconds())
	}
	m.updateQueueGauges()

	m.log.Info().
		Uint64("id", e.ID).
		Uint64("pool", e.Pool).
		Str("kind", e.Kind.String()).
		Str("sender", e.Sender.Hex()).
		Msg("request accepted")

	payload, err := queue.EncodeEntry(e)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode accepted entry %d: %v", e.ID, err))
	}
	m.emit(Output{Request: &RequestRecord{
		ID:          e.ID,
		Pool:        e.Pool,
		Sender:      e.Sender.Hex(),
		Kind:        e.Kind.String(),
		Payload:     payload,
		SubmittedAt: time.Now().UTC(),
	}})
}
