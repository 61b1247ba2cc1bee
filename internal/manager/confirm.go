package manager

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/escrow"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/pricing"
	"PoolLedger/internal/queue"
)

// Confirm runs one strict-FIFO settlement step on behalf of the calling
// settlement authority. Sequencing violations are the only errors; a
// failed settlement is reported as a Skipped outcome with the cursor
// advanced.
func (m *Manager) Confirm(caller common.Address, id uint64, response []byte) (queue.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	authorityFor := func(pool uint64) (common.Address, bool) {
		p := m.store.GetPool(pool)
		if p == nil {
			return common.Address{}, false
		}
		return p.Authority, true
	}

	out, err := m.queue.Confirm(id, caller, authorityFor, response, m.settle)
	if err != nil {
		m.log.Warn().Uint64("id", id).Str("caller", caller.Hex()).Err(err).Msg("confirmation rejected")
		return queue.Outcome{}, err
	}

	e, _ := m.queue.Get(id)
	kind := e.Kind.String()

	if out.Status == queue.Applied {
		// The ledger invariant must hold after every applied step. A
		// violation means corrupted accounting and the process must
		// not continue.
		if verr := m.validator.ValidateAllConservation(); verr != nil {
			panic(fmt.Sprintf("FATAL: conservation violated after settling entry %d: %v", id, verr))
		}
	}

	if m.metrics != nil {
		m.metrics.Confirmations.WithLabelValues(kind, out.Status.String()).Inc()
		if out.Status == queue.Skipped {
			m.metrics.ConfirmSkips.WithLabelValues(kind, failureReason(out.Reason)).Inc()
		}
		m.metrics.ConfirmDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	m.updateQueueGauges()

	evt := m.log.Info()
	if out.Status == queue.Skipped {
		evt = m.log.Warn().Str("reason", out.Reason)
	}
	evt.Uint64("id", id).Str("kind", kind).Str("status", out.Status.String()).Msg("settlement confirmed")

	m.emit(Output{Outcome: &OutcomeRecord{
		ID:          out.ID,
		Pool:        e.Pool,
		Status:      out.Status.String(),
		Reason:      out.Reason,
		ConfirmedAt: time.Now().UTC(),
	}})
	return out, nil
}

// settle applies one entry's ledger effect. Any returned error turns
// the entry into a silent skip.
func (m *Manager) settle(e *queue.Entry, response []byte) error {
	switch body := e.Body.(type) {
	case queue.DepositSpot:
		return m.settleDepositSpot(e, body, response)
	case queue.DepositBasket:
		return m.settleDepositBasket(e, body, response)
	case queue.WithdrawSpot:
		return m.settleWithdrawSpot(e, body, response)
	case queue.WithdrawBasket:
		return m.settleWithdrawBasket(e, body, response)
	default:
		return fmt.Errorf("unknown payload kind %s", e.Kind)
	}
}

func (m *Manager) settleDepositSpot(e *queue.Entry, body queue.DepositSpot, response []byte) error {
	resp, err := queue.DecodeDepositSpotResponse(response)
	if err != nil {
		return err
	}

	// The paired amount was quoted at submission; the authority echoes
	// it back and it must still match the balancing ratio.
	balanced, err := m.calc.BalancedAmount(body.Token0, body.Token1, body.Amount0)
	if err != nil {
		return err
	}
	if resp.Amount1.Cmp(balanced) != 0 {
		return fmt.Errorf("confirmed amount1 %s does not match balanced %s", resp.Amount1, balanced)
	}

	// Caps may have filled up since submission.
	if err := m.store.CheckHardcap(e.Pool, body.Token0, body.Amount0); err != nil {
		return err
	}
	if err := m.store.CheckHardcap(e.Pool, body.Token1, resp.Amount1); err != nil {
		return err
	}

	// Every custody failure past the first pull must hand the pulled
	// legs back: a skip advances the cursor and nothing retries, so
	// funds left in escrow here would be stranded.
	router := m.routers[e.Pool]
	if err := router.PullFromSender(body.Token0, e.Sender, body.Amount0); err != nil {
		return err
	}
	if err := router.PullFromSender(body.Token1, e.Sender, resp.Amount1); err != nil {
		m.refund(router, e.ID, body.Token0, e.Sender, body.Amount0)
		return err
	}
	if err := router.ForwardToVenue(body.Token0, body.Amount0); err != nil {
		m.refund(router, e.ID, body.Token0, e.Sender, body.Amount0)
		m.refund(router, e.ID, body.Token1, e.Sender, resp.Amount1)
		return err
	}
	if err := router.ForwardToVenue(body.Token1, resp.Amount1); err != nil {
		// The first leg already reached the venue; recall it so both
		// refunds pay out of escrow.
		if rerr := router.ReceiveFromVenue(body.Token0, body.Amount0); rerr != nil {
			m.log.Error().Uint64("id", e.ID).Err(rerr).Msg("recall after failed forward")
		} else {
			m.refund(router, e.ID, body.Token0, e.Sender, body.Amount0)
		}
		m.refund(router, e.ID, body.Token1, e.Sender, resp.Amount1)
		return err
	}

	if err := m.store.CreditActive(e.Pool, body.Token0, body.Receiver, body.Amount0); err != nil {
		return err
	}
	return m.store.CreditActive(e.Pool, body.Token1, body.Receiver, resp.Amount1)
}

func (m *Manager) settleDepositBasket(e *queue.Entry, body queue.DepositBasket, response []byte) error {
	if _, err := queue.DecodeDepositBasketResponse(response); err != nil {
		return err
	}
	if err := m.store.CheckHardcap(e.Pool, body.Token, body.Amount); err != nil {
		return err
	}

	router := m.routers[e.Pool]
	if err := router.PullFromSender(body.Token, e.Sender, body.Amount); err != nil {
		return err
	}
	if err := router.ForwardToVenue(body.Token, body.Amount); err != nil {
		m.refund(router, e.ID, body.Token, e.Sender, body.Amount)
		return err
	}
	return m.store.CreditActive(e.Pool, body.Token, body.Receiver, body.Amount)
}

func (m *Manager) settleWithdrawSpot(e *queue.Entry, body queue.WithdrawSpot, response []byte) error {
	if _, err := queue.DecodeWithdrawSpotResponse(response); err != nil {
		return err
	}

	feeToken, feeAmount := body.Token0, body.Amount0
	if body.FeeIndex == 1 {
		feeToken, feeAmount = body.Token1, body.Amount1
	}
	fee, err := m.calc.TransactionFee(feeToken)
	if err != nil {
		return err
	}
	// The price may have moved since the submission-time fee check.
	fee, err = m.applyFeePolicy(fee, feeAmount)
	if err != nil {
		return err
	}

	router := m.routers[e.Pool]
	if err := router.ReceiveFromVenue(body.Token0, body.Amount0); err != nil {
		return err
	}
	if err := router.ReceiveFromVenue(body.Token1, body.Amount1); err != nil {
		return err
	}

	net0 := new(big.Int).Set(body.Amount0)
	net1 := new(big.Int).Set(body.Amount1)
	if body.FeeIndex == 0 {
		net0.Sub(net0, fee)
	} else {
		net1.Sub(net1, fee)
	}

	m.store.CreditPending(e.Sender, body.Token0, net0)
	m.store.CreditPending(e.Sender, body.Token1, net1)
	m.store.AccrueFee(e.Pool, feeToken, e.Sender, fee)
	return nil
}

func (m *Manager) settleWithdrawBasket(e *queue.Entry, body queue.WithdrawBasket, response []byte) error {
	resp, err := queue.DecodeWithdrawBasketResponse(response)
	if err != nil {
		return err
	}
	// The venue may round down but can never hand back more than
	// requested.
	if resp.AmountToReceive.Cmp(body.Amount) > 0 {
		return fmt.Errorf("confirmed amount %s exceeds requested %s", resp.AmountToReceive, body.Amount)
	}

	fee, err := m.calc.TransactionFee(body.Token)
	if err != nil {
		return err
	}
	fee, err = m.applyFeePolicy(fee, resp.AmountToReceive)
	if err != nil {
		return err
	}

	router := m.routers[e.Pool]
	if err := router.ReceiveFromVenue(body.Token, resp.AmountToReceive); err != nil {
		return err
	}

	net := new(big.Int).Sub(resp.AmountToReceive, fee)
	m.store.CreditPending(e.Sender, body.Token, net)
	m.store.AccrueFee(e.Pool, body.Token, e.Sender, fee)
	return nil
}

// refund returns a pulled deposit leg to its sender after a custody
// step failed mid-settlement. Best effort: a failed refund is logged
// and left for operator reconciliation.
func (m *Manager) refund(router *escrow.Router, id uint64, token, to common.Address, amount *big.Int) {
	if err := router.PayOut(token, to, amount); err != nil {
		m.log.Error().Uint64("id", id).Str("token", token.Hex()).Err(err).Msg("refund after failed settlement")
	}
}

// applyFeePolicy decides the fee when the confirmed amount cannot cover
// it: reject the settlement or cap the fee at the amount.
func (m *Manager) applyFeePolicy(fee, amount *big.Int) (*big.Int, error) {
	if amount.Cmp(fee) >= 0 {
		return fee, nil
	}
	if m.cfg.FeePolicy == FeePolicyPartial {
		return new(big.Int).Set(amount), nil
	}
	return nil, fmt.Errorf("%w: amount=%s fee=%s", ErrAmountTooLow, amount, fee)
}

// rejectReason maps an admission error to a coarse metric label.
func rejectReason(err error) string {
	var hc *ledger.HardcapError
	switch {
	case errors.Is(err, ErrDepositsPaused), errors.Is(err, ErrWithdrawalsPaused), errors.Is(err, ErrClaimsPaused):
		return "paused"
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrAmountTooLow):
		return "amount_too_low"
	case errors.Is(err, ErrUnbalancedAmounts):
		return "unbalanced"
	case errors.Is(err, ErrWrongPoolKind):
		return "wrong_pool_kind"
	case errors.Is(err, pricing.ErrSlippageTooHigh):
		return "slippage"
	case errors.As(err, &hc):
		return "hardcap"
	case errors.Is(err, ledger.ErrInvalidPool):
		return "invalid_pool"
	case errors.Is(err, ledger.ErrUnsupportedToken):
		return "unsupported_token"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}

// failureReason maps a skip reason string to a coarse metric label.
// Skip reasons travel as strings through the queue, so this is a
// substring match, not error inspection.
func failureReason(reason string) string {
	switch {
	case strings.Contains(reason, "decode"):
		return "decode"
	case strings.Contains(reason, "hardcap"):
		return "hardcap"
	case strings.Contains(reason, "pull"), strings.Contains(reason, "forward"), strings.Contains(reason, "receive"):
		return "transfer"
	case strings.Contains(reason, "balanced"):
		return "unbalanced"
	case strings.Contains(reason, "fee"):
		return "fee"
	default:
		return "other"
	}
}
