package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizedDecimals is the system-wide precision cap. Hardcaps arrive
// normalized to 18 decimal places and are converted to each token's
// native precision at registration time. Tokens with more than 18
// native decimals cannot be registered.
const NormalizedDecimals = 18

// PoolKind discriminates how a pool sizes its tokens.
type PoolKind uint8

const (
	// KindSpot holds exactly two tokens in a fixed value ratio.
	KindSpot PoolKind = iota
	// KindBasket holds N independently-sized tokens.
	KindBasket
)

func (k PoolKind) String() string {
	switch k {
	case KindSpot:
		return "Spot"
	case KindBasket:
		return "Basket"
	default:
		return "Unknown"
	}
}

// Pool is a named grouping of tokens mirrored into the external venue
// under a single settlement authority.
type Pool struct {
	ID        uint64
	Kind      PoolKind
	Authority common.Address
	Router    common.Address
	// VenueAccount is the pool's external account at the venue, the
	// destination of mirrored deposits.
	VenueAccount common.Address
	// Tokens in registration order. Never shrinks.
	Tokens []common.Address
}

// PoolToken is the per-(pool, token) tracking record.
type PoolToken struct {
	Router      common.Address
	ActiveTotal *big.Int // Σ of all users' active balance for this pool+token
	Hardcap     *big.Int // native-unit cap on ActiveTotal; new deposits only
	Decimals    uint8
	Active      bool
}

// PoolTokenKey keys the pool-token arena.
type PoolTokenKey struct {
	Pool  uint64
	Token common.Address
}

// PositionKey keys per-user active balances and accrued fees.
type PositionKey struct {
	Pool  uint64
	Token common.Address
	User  common.Address
}

// PendingKey keys claimable balances, aggregated across pools.
type PendingKey struct {
	User  common.Address
	Token common.Address
}
