package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is the serializable form of the full ledger state. Amounts
// are decimal strings so the JSON round-trips arbitrary precision.
type Snapshot struct {
	Pools      []PoolSnap      `json:"pools"`
	PoolTokens []PoolTokenSnap `json:"pool_tokens"`
	Active     []BalanceSnap   `json:"active"`
	Pending    []PendingSnap   `json:"pending"`
	Fees       []BalanceSnap   `json:"fees"`
}

type PoolSnap struct {
	ID           uint64   `json:"id"`
	Kind         uint8    `json:"kind"`
	Authority    string   `json:"authority"`
	Router       string   `json:"router"`
	VenueAccount string   `json:"venue_account"`
	Tokens       []string `json:"tokens"`
}

type PoolTokenSnap struct {
	Pool        uint64 `json:"pool"`
	Token       string `json:"token"`
	Router      string `json:"router"`
	ActiveTotal string `json:"active_total"`
	Hardcap     string `json:"hardcap"`
	Decimals    uint8  `json:"decimals"`
	Active      bool   `json:"active"`
}

type BalanceSnap struct {
	Pool   uint64 `json:"pool"`
	Token  string `json:"token"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type PendingSnap struct {
	User   string `json:"user"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Snapshot captures the current ledger state.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{}
	for id, p := range s.pools {
		ps := PoolSnap{
			ID:           id,
			Kind:         uint8(p.Kind),
			Authority:    p.Authority.Hex(),
			Router:       p.Router.Hex(),
			VenueAccount: p.VenueAccount.Hex(),
		}
		for _, t := range p.Tokens {
			ps.Tokens = append(ps.Tokens, t.Hex())
		}
		snap.Pools = append(snap.Pools, ps)
	}
	for key, pt := range s.poolTokens {
		snap.PoolTokens = append(snap.PoolTokens, PoolTokenSnap{
			Pool:        key.Pool,
			Token:       key.Token.Hex(),
			Router:      pt.Router.Hex(),
			ActiveTotal: pt.ActiveTotal.String(),
			Hardcap:     pt.Hardcap.String(),
			Decimals:    pt.Decimals,
			Active:      pt.Active,
		})
	}
	for key, bal := range s.active {
		if bal.Sign() == 0 {
			continue
		}
		snap.Active = append(snap.Active, BalanceSnap{
			Pool: key.Pool, Token: key.Token.Hex(), User: key.User.Hex(), Amount: bal.String(),
		})
	}
	for key, bal := range s.pending {
		if bal.Sign() == 0 {
			continue
		}
		snap.Pending = append(snap.Pending, PendingSnap{
			User: key.User.Hex(), Token: key.Token.Hex(), Amount: bal.String(),
		})
	}
	for key, bal := range s.fees {
		if bal.Sign() == 0 {
			continue
		}
		snap.Fees = append(snap.Fees, BalanceSnap{
			Pool: key.Pool, Token: key.Token.Hex(), User: key.User.Hex(), Amount: bal.String(),
		})
	}
	return snap
}

// Restore replaces the store's contents with a snapshot. Used on warm
// restart before replaying the request log.
func (s *Store) Restore(snap *Snapshot) error {
	s.pools = make(map[uint64]*Pool, len(snap.Pools))
	s.poolTokens = make(map[PoolTokenKey]*PoolToken, len(snap.PoolTokens))
	s.active = make(map[PositionKey]*big.Int, len(snap.Active))
	s.pending = make(map[PendingKey]*big.Int, len(snap.Pending))
	s.fees = make(map[PositionKey]*big.Int, len(snap.Fees))

	for _, ps := range snap.Pools {
		p := &Pool{
			ID:           ps.ID,
			Kind:         PoolKind(ps.Kind),
			Authority:    common.HexToAddress(ps.Authority),
			Router:       common.HexToAddress(ps.Router),
			VenueAccount: common.HexToAddress(ps.VenueAccount),
		}
		for _, t := range ps.Tokens {
			p.Tokens = append(p.Tokens, common.HexToAddress(t))
		}
		s.pools[ps.ID] = p
	}
	for _, pts := range snap.PoolTokens {
		active, err := parseAmount(pts.ActiveTotal)
		if err != nil {
			return fmt.Errorf("pool token %d/%s active total: %w", pts.Pool, pts.Token, err)
		}
		hardcap, err := parseAmount(pts.Hardcap)
		if err != nil {
			return fmt.Errorf("pool token %d/%s hardcap: %w", pts.Pool, pts.Token, err)
		}
		s.poolTokens[PoolTokenKey{Pool: pts.Pool, Token: common.HexToAddress(pts.Token)}] = &PoolToken{
			Router:      common.HexToAddress(pts.Router),
			ActiveTotal: active,
			Hardcap:     hardcap,
			Decimals:    pts.Decimals,
			Active:      pts.Active,
		}
	}
	for _, bs := range snap.Active {
		amount, err := parseAmount(bs.Amount)
		if err != nil {
			return fmt.Errorf("active balance %s: %w", bs.User, err)
		}
		s.active[PositionKey{
			Pool: bs.Pool, Token: common.HexToAddress(bs.Token), User: common.HexToAddress(bs.User),
		}] = amount
	}
	for _, ps := range snap.Pending {
		amount, err := parseAmount(ps.Amount)
		if err != nil {
			return fmt.Errorf("pending balance %s: %w", ps.User, err)
		}
		s.pending[PendingKey{
			User: common.HexToAddress(ps.User), Token: common.HexToAddress(ps.Token),
		}] = amount
	}
	for _, bs := range snap.Fees {
		amount, err := parseAmount(bs.Amount)
		if err != nil {
			return fmt.Errorf("fee balance %s: %w", bs.User, err)
		}
		s.fees[PositionKey{
			Pool: bs.Pool, Token: common.HexToAddress(bs.Token), User: common.HexToAddress(bs.User),
		}] = amount
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
