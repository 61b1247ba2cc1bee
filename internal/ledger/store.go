package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Admission errors surfaced through the manager.
var (
	ErrInvalidPool         = errors.New("invalid pool")
	ErrDuplicatedTokens    = errors.New("duplicated tokens")
	ErrUnsupportedToken    = errors.New("unsupported token")
	ErrInsufficientBalance = errors.New("insufficient active balance")
)

// HardcapError reports a deposit that would push a pool token's active
// total above its cap.
type HardcapError struct {
	Token       common.Address
	ActiveTotal *big.Int
	Hardcap     *big.Int
	Rejected    *big.Int
}

func (e *HardcapError) Error() string {
	return fmt.Sprintf("hardcap reached for %s: active=%s hardcap=%s rejected=%s",
		e.Token.Hex(), e.ActiveTotal, e.Hardcap, e.Rejected)
}

// Store is the authoritative record of pools, pool tokens, user active
// balances, claimable pending balances, and accrued user fees.
//
// Not thread-safe: callers serialize access, one mutation at a time.
// The manager owns the single writer.
type Store struct {
	pools      map[uint64]*Pool
	poolTokens map[PoolTokenKey]*PoolToken
	active     map[PositionKey]*big.Int
	pending    map[PendingKey]*big.Int
	fees       map[PositionKey]*big.Int
}

func NewStore() *Store {
	return &Store{
		pools:      make(map[uint64]*Pool),
		poolTokens: make(map[PoolTokenKey]*PoolToken),
		active:     make(map[PositionKey]*big.Int),
		pending:    make(map[PendingKey]*big.Int),
		fees:       make(map[PositionKey]*big.Int),
	}
}

// TokenSpec describes a token being registered into a pool. Hardcap is
// already converted to native units by the caller.
type TokenSpec struct {
	Token    common.Address
	Router   common.Address
	Hardcap  *big.Int
	Decimals uint8
}

// CreatePool registers a new pool. Fails if the id is taken, any token
// repeats, or any token exceeds the normalization precision.
func (s *Store) CreatePool(id uint64, kind PoolKind, authority, router, venueAccount common.Address, tokens []TokenSpec) error {
	if _, exists := s.pools[id]; exists {
		return fmt.Errorf("%w: pool %d already exists", ErrInvalidPool, id)
	}
	if err := checkTokenSpecs(tokens, nil); err != nil {
		return err
	}

	p := &Pool{
		ID:           id,
		Kind:         kind,
		Authority:    authority,
		Router:       router,
		VenueAccount: venueAccount,
	}
	s.pools[id] = p
	s.registerTokens(p, tokens)
	return nil
}

// AddTokens widens an existing pool with new tokens. Adding tokens to a
// Spot pool converts it into a Basket pool; pools are never narrowed.
func (s *Store) AddTokens(poolID uint64, tokens []TokenSpec) error {
	p, ok := s.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: pool %d", ErrInvalidPool, poolID)
	}
	if err := checkTokenSpecs(tokens, func(t common.Address) bool {
		_, tracked := s.poolTokens[PoolTokenKey{Pool: poolID, Token: t}]
		return tracked
	}); err != nil {
		return err
	}

	if p.Kind == KindSpot && len(tokens) > 0 {
		p.Kind = KindBasket
	}
	s.registerTokens(p, tokens)
	return nil
}

func checkTokenSpecs(tokens []TokenSpec, alreadyTracked func(common.Address) bool) error {
	seen := make(map[common.Address]bool, len(tokens))
	for _, spec := range tokens {
		if seen[spec.Token] {
			return fmt.Errorf("%w: %s", ErrDuplicatedTokens, spec.Token.Hex())
		}
		seen[spec.Token] = true
		if spec.Decimals > NormalizedDecimals {
			return fmt.Errorf("%w: %s has %d decimals (max %d)",
				ErrUnsupportedToken, spec.Token.Hex(), spec.Decimals, NormalizedDecimals)
		}
		if alreadyTracked != nil && alreadyTracked(spec.Token) {
			return fmt.Errorf("%w: %s already tracked", ErrDuplicatedTokens, spec.Token.Hex())
		}
	}
	return nil
}

func (s *Store) registerTokens(p *Pool, tokens []TokenSpec) {
	for _, spec := range tokens {
		p.Tokens = append(p.Tokens, spec.Token)
		s.poolTokens[PoolTokenKey{Pool: p.ID, Token: spec.Token}] = &PoolToken{
			Router:      spec.Router,
			ActiveTotal: new(big.Int),
			Hardcap:     new(big.Int).Set(spec.Hardcap),
			Decimals:    spec.Decimals,
			Active:      true,
		}
	}
}

// SetHardcaps replaces caps for the given tokens. Lowering a cap does
// not evict balances already above it; only new deposits are blocked.
func (s *Store) SetHardcaps(poolID uint64, tokens []common.Address, hardcaps []*big.Int) error {
	if _, ok := s.pools[poolID]; !ok {
		return fmt.Errorf("%w: pool %d", ErrInvalidPool, poolID)
	}
	if len(tokens) != len(hardcaps) {
		return fmt.Errorf("%w: %d tokens, %d hardcaps", ErrUnsupportedToken, len(tokens), len(hardcaps))
	}
	for i, t := range tokens {
		pt, ok := s.poolTokens[PoolTokenKey{Pool: poolID, Token: t}]
		if !ok {
			return fmt.Errorf("%w: %s not in pool %d", ErrUnsupportedToken, t.Hex(), poolID)
		}
		pt.Hardcap = new(big.Int).Set(hardcaps[i])
	}
	return nil
}

// GetPool returns the pool record, or nil if unknown.
// Pools enumerates all registered pools in unspecified order.
func (s *Store) Pools() []*Pool {
	out := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out
}

func (s *Store) GetPool(id uint64) *Pool {
	return s.pools[id]
}

// GetPoolToken returns a copy of the pool-token record.
func (s *Store) GetPoolToken(poolID uint64, token common.Address) (PoolToken, bool) {
	pt, ok := s.poolTokens[PoolTokenKey{Pool: poolID, Token: token}]
	if !ok {
		return PoolToken{}, false
	}
	return PoolToken{
		Router:      pt.Router,
		ActiveTotal: new(big.Int).Set(pt.ActiveTotal),
		Hardcap:     new(big.Int).Set(pt.Hardcap),
		Decimals:    pt.Decimals,
		Active:      pt.Active,
	}, true
}

// CheckHardcap verifies that depositing amount would keep ActiveTotal
// within the cap. Returns *HardcapError on violation.
func (s *Store) CheckHardcap(poolID uint64, token common.Address, amount *big.Int) error {
	pt, ok := s.poolTokens[PoolTokenKey{Pool: poolID, Token: token}]
	if !ok || !pt.Active {
		return fmt.Errorf("%w: %s in pool %d", ErrUnsupportedToken, token.Hex(), poolID)
	}
	next := new(big.Int).Add(pt.ActiveTotal, amount)
	if next.Cmp(pt.Hardcap) > 0 {
		return &HardcapError{
			Token:       token,
			ActiveTotal: new(big.Int).Set(pt.ActiveTotal),
			Hardcap:     new(big.Int).Set(pt.Hardcap),
			Rejected:    new(big.Int).Set(amount),
		}
	}
	return nil
}

// CreditActive adds amount to a user's active balance and to the pool
// token's active total, as one read-modify-write.
func (s *Store) CreditActive(poolID uint64, token, user common.Address, amount *big.Int) error {
	pt, ok := s.poolTokens[PoolTokenKey{Pool: poolID, Token: token}]
	if !ok {
		return fmt.Errorf("%w: %s in pool %d", ErrUnsupportedToken, token.Hex(), poolID)
	}
	key := PositionKey{Pool: poolID, Token: token, User: user}
	cur := s.active[key]
	if cur == nil {
		cur = new(big.Int)
		s.active[key] = cur
	}
	cur.Add(cur, amount)
	pt.ActiveTotal.Add(pt.ActiveTotal, amount)
	return nil
}

// DebitActive removes amount from a user's active balance and the pool
// token's active total. Fails without mutating if the user holds less.
func (s *Store) DebitActive(poolID uint64, token, user common.Address, amount *big.Int) error {
	pt, ok := s.poolTokens[PoolTokenKey{Pool: poolID, Token: token}]
	if !ok {
		return fmt.Errorf("%w: %s in pool %d", ErrUnsupportedToken, token.Hex(), poolID)
	}
	key := PositionKey{Pool: poolID, Token: token, User: user}
	cur := s.active[key]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: user %s token %s", ErrInsufficientBalance, user.Hex(), token.Hex())
	}
	cur.Sub(cur, amount)
	pt.ActiveTotal.Sub(pt.ActiveTotal, amount)
	return nil
}

// GetUserActiveAmount returns the user's confirmed, venue-mirrored stake.
func (s *Store) GetUserActiveAmount(poolID uint64, token, user common.Address) *big.Int {
	cur := s.active[PositionKey{Pool: poolID, Token: token, User: user}]
	if cur == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

// CreditPending adds to the user's claimable balance for a token.
func (s *Store) CreditPending(user, token common.Address, amount *big.Int) {
	key := PendingKey{User: user, Token: token}
	cur := s.pending[key]
	if cur == nil {
		cur = new(big.Int)
		s.pending[key] = cur
	}
	cur.Add(cur, amount)
}

// DrainPending zeroes and returns the user's claimable balance.
func (s *Store) DrainPending(user, token common.Address) *big.Int {
	key := PendingKey{User: user, Token: token}
	cur := s.pending[key]
	if cur == nil {
		return new(big.Int)
	}
	out := new(big.Int).Set(cur)
	cur.SetInt64(0)
	return out
}

// GetUserPendingAmount returns the claimable balance without mutating.
func (s *Store) GetUserPendingAmount(user, token common.Address) *big.Int {
	cur := s.pending[PendingKey{User: user, Token: token}]
	if cur == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

// AccrueFee adds to the protocol fee owed by a user position.
func (s *Store) AccrueFee(poolID uint64, token, user common.Address, amount *big.Int) {
	key := PositionKey{Pool: poolID, Token: token, User: user}
	cur := s.fees[key]
	if cur == nil {
		cur = new(big.Int)
		s.fees[key] = cur
	}
	cur.Add(cur, amount)
}

// DrainFee zeroes and returns the accrued fee for a user position.
func (s *Store) DrainFee(poolID uint64, token, user common.Address) *big.Int {
	key := PositionKey{Pool: poolID, Token: token, User: user}
	cur := s.fees[key]
	if cur == nil {
		return new(big.Int)
	}
	out := new(big.Int).Set(cur)
	cur.SetInt64(0)
	return out
}

// GetUserFee returns the accrued fee without mutating.
func (s *Store) GetUserFee(poolID uint64, token, user common.Address) *big.Int {
	cur := s.fees[PositionKey{Pool: poolID, Token: token, User: user}]
	if cur == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}
