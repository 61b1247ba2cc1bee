package query

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/manager"
	"PoolLedger/internal/venue"
)

// Service answers read-only questions against the live ledger state.
// All reads go through the manager, which serializes them with
// settlement writes, so responses are always internally consistent.
type Service struct {
	mgr      *manager.Manager
	balances venue.BalanceReader
}

func NewService(mgr *manager.Manager, balances venue.BalanceReader) *Service {
	return &Service{mgr: mgr, balances: balances}
}

var errNotFound = fmt.Errorf("not found")

// Pool returns a pool's registration record.
func (s *Service) Pool(poolID uint64) (*PoolResponse, error) {
	p, ok := s.mgr.PoolInfo(poolID)
	if !ok {
		return nil, fmt.Errorf("pool %d: %w", poolID, errNotFound)
	}
	tokens := make([]string, len(p.Tokens))
	for i, t := range p.Tokens {
		tokens[i] = t.Hex()
	}
	return &PoolResponse{
		Pool:         p.ID,
		Kind:         p.Kind.String(),
		Authority:    p.Authority.Hex(),
		Router:       p.Router.Hex(),
		VenueAccount: p.VenueAccount.Hex(),
		Tokens:       tokens,
	}, nil
}

// PoolToken returns the tracking state for one pool token.
func (s *Service) PoolToken(poolID uint64, token common.Address) (*PoolTokenResponse, error) {
	pt, ok := s.mgr.GetPoolToken(poolID, token)
	if !ok {
		return nil, fmt.Errorf("pool %d token %s: %w", poolID, token.Hex(), errNotFound)
	}
	return &PoolTokenResponse{
		Pool:        poolID,
		Token:       token.Hex(),
		Router:      pt.Router.Hex(),
		Decimals:    pt.Decimals,
		Active:      pt.Active,
		ActiveTotal: renderAmount(pt.ActiveTotal, pt.Decimals),
		Hardcap:     renderAmount(pt.Hardcap, pt.Decimals),
	}, nil
}

// Balance returns a user's active, pending, and fee amounts for one
// pool token.
func (s *Service) Balance(poolID uint64, token, user common.Address) (*BalanceResponse, error) {
	pt, ok := s.mgr.GetPoolToken(poolID, token)
	if !ok {
		return nil, fmt.Errorf("pool %d token %s: %w", poolID, token.Hex(), errNotFound)
	}
	return &BalanceResponse{
		Pool:    poolID,
		Token:   token.Hex(),
		User:    user.Hex(),
		Active:  renderAmount(s.mgr.GetUserActiveAmount(poolID, token, user), pt.Decimals),
		Pending: renderAmount(s.mgr.GetUserPendingAmount(user, token), pt.Decimals),
		Fees:    renderAmount(s.mgr.GetUserFee(poolID, token, user), pt.Decimals),
	}, nil
}

// Quote previews the paired amount and per-leg fees for a two-token
// operation at current prices. Quotes are advisory: prices may move
// before the authority settles the request.
func (s *Service) Quote(poolID uint64, token0, token1 common.Address, amount0 *big.Int) (*QuoteResponse, error) {
	pt0, ok := s.mgr.GetPoolToken(poolID, token0)
	if !ok {
		return nil, fmt.Errorf("pool %d token %s: %w", poolID, token0.Hex(), errNotFound)
	}
	pt1, ok := s.mgr.GetPoolToken(poolID, token1)
	if !ok {
		return nil, fmt.Errorf("pool %d token %s: %w", poolID, token1.Hex(), errNotFound)
	}
	amount1, err := s.mgr.GetBalancedAmount(token0, token1, amount0)
	if err != nil {
		return nil, err
	}
	fee0, err := s.mgr.GetTransactionFee(token0)
	if err != nil {
		return nil, err
	}
	fee1, err := s.mgr.GetTransactionFee(token1)
	if err != nil {
		return nil, err
	}
	return &QuoteResponse{
		Pool:    poolID,
		Token0:  token0.Hex(),
		Token1:  token1.Hex(),
		Amount0: renderAmount(amount0, pt0.Decimals),
		Amount1: renderAmount(amount1, pt1.Decimals),
		Fee0:    renderAmount(fee0, pt0.Decimals),
		Fee1:    renderAmount(fee1, pt1.Decimals),
	}, nil
}

// Queue returns the settlement cursor and, when one exists, the entry
// the authority must confirm next.
func (s *Service) Queue() *QueueResponse {
	head, tail := s.mgr.Cursor()
	resp := &QueueResponse{Head: head, Tail: tail, Depth: tail - head - 1}
	if e, ok := s.mgr.NextSpot(); ok {
		resp.Next = &QueueEntrySummary{
			ID:     e.ID,
			Pool:   e.Pool,
			Sender: e.Sender.Hex(),
			Kind:   e.Kind.String(),
		}
	}
	return resp
}

// Reconcile reports the venue-side holdings backing one pool token so
// operators can compare them with the ledger's active total. The
// router holds undisbursed withdrawals and fees; the venue account
// holds the mirrored active capital.
func (s *Service) Reconcile(poolID uint64, token common.Address) (*ReconcileResponse, error) {
	pt, ok := s.mgr.GetPoolToken(poolID, token)
	if !ok {
		return nil, fmt.Errorf("pool %d token %s: %w", poolID, token.Hex(), errNotFound)
	}
	p, ok := s.mgr.PoolInfo(poolID)
	if !ok {
		return nil, fmt.Errorf("pool %d: %w", poolID, errNotFound)
	}
	routerBal, err := s.balances.BalanceOf(p.Router, token)
	if err != nil {
		return nil, fmt.Errorf("router balance: %w", err)
	}
	venueBal, err := s.balances.BalanceOf(p.VenueAccount, token)
	if err != nil {
		return nil, fmt.Errorf("venue balance: %w", err)
	}
	return &ReconcileResponse{
		Pool:          poolID,
		Token:         token.Hex(),
		ActiveTotal:   renderAmount(pt.ActiveTotal, pt.Decimals),
		RouterBalance: renderAmount(routerBal, pt.Decimals),
		VenueBalance:  renderAmount(venueBal, pt.Decimals),
		Stranded:      renderAmount(s.mgr.StrandedWithdrawals(poolID, token), pt.Decimals),
	}, nil
}
