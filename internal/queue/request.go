package queue

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates settlement request payloads.
type Kind uint8

const (
	KindDepositSpot Kind = iota
	KindDepositBasket
	KindWithdrawSpot
	KindWithdrawBasket
)

func (k Kind) String() string {
	switch k {
	case KindDepositSpot:
		return "DepositSpot"
	case KindDepositBasket:
		return "DepositBasket"
	case KindWithdrawSpot:
		return "WithdrawSpot"
	case KindWithdrawBasket:
		return "WithdrawBasket"
	default:
		return "Unknown"
	}
}

// Payload is the kind-specific body of a settlement request. Payloads
// are immutable once enqueued.
type Payload interface {
	Kind() Kind
}

// DepositSpot mirrors a two-token deposit held in a fixed value ratio.
// Amount1 is the paired amount quoted at submission time.
type DepositSpot struct {
	Token0   common.Address
	Token1   common.Address
	Amount0  *big.Int
	Amount1  *big.Int
	Receiver common.Address
}

func (DepositSpot) Kind() Kind { return KindDepositSpot }

// DepositBasket mirrors a single independently-sized token deposit.
type DepositBasket struct {
	Token    common.Address
	Amount   *big.Int
	Receiver common.Address
}

func (DepositBasket) Kind() Kind { return KindDepositBasket }

// WithdrawSpot unwinds a two-token position. FeeIndex selects which leg
// (0 or 1) pays the settlement fee.
type WithdrawSpot struct {
	Token0   common.Address
	Token1   common.Address
	Amount0  *big.Int
	Amount1  *big.Int
	FeeIndex uint8
}

func (WithdrawSpot) Kind() Kind { return KindWithdrawSpot }

// WithdrawBasket unwinds a single token position. The withdrawn token
// pays the settlement fee.
type WithdrawBasket struct {
	Token  common.Address
	Amount *big.Int
}

func (WithdrawBasket) Kind() Kind { return KindWithdrawBasket }

// State is an entry's settlement state. Applied and Skipped are
// terminal.
type State uint8

const (
	StatePending State = iota
	StateApplied
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateApplied:
		return "Applied"
	case StateSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Entry is one accepted settlement request. Entries are created at
// submission, consumed exactly once by confirmation, and never deleted.
type Entry struct {
	ID     uint64
	Sender common.Address
	Pool   uint64
	Router common.Address
	Kind   Kind
	Body   Payload

	State      State
	SkipReason string
}
