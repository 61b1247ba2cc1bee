package query

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount renders a native-unit integer both raw and scaled by the
// token's decimals for human consumption.
type Amount struct {
	Native  string `json:"native"`
	Display string `json:"display"`
}

func renderAmount(v *big.Int, decimals uint8) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{
		Native:  v.String(),
		Display: decimal.NewFromBigInt(v, -int32(decimals)).String(),
	}
}

// PoolResponse is the registration record of a pool.
type PoolResponse struct {
	Pool         uint64   `json:"pool"`
	Kind         string   `json:"kind"`
	Authority    string   `json:"authority"`
	Router       string   `json:"router"`
	VenueAccount string   `json:"venue_account"`
	Tokens       []string `json:"tokens"`
}

// PoolTokenResponse is the per-(pool, token) tracking state.
type PoolTokenResponse struct {
	Pool        uint64 `json:"pool"`
	Token       string `json:"token"`
	Router      string `json:"router"`
	Decimals    uint8  `json:"decimals"`
	Active      bool   `json:"active"`
	ActiveTotal Amount `json:"active_total"`
	Hardcap     Amount `json:"hardcap"`
}

// BalanceResponse is one user's position in a pool token. Pending and
// fee balances are aggregated across pools; they are reported here for
// convenience alongside the per-pool active amount.
type BalanceResponse struct {
	Pool    uint64 `json:"pool"`
	Token   string `json:"token"`
	User    string `json:"user"`
	Active  Amount `json:"active"`
	Pending Amount `json:"pending"`
	Fees    Amount `json:"fees"`
}

// QuoteResponse is a submission-time preview of a two-token operation:
// the balanced paired amount and the fee each leg would pay.
type QuoteResponse struct {
	Pool    uint64 `json:"pool"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	Amount0 Amount `json:"amount0"`
	Amount1 Amount `json:"amount1"`
	Fee0    Amount `json:"fee0"`
	Fee1    Amount `json:"fee1"`
}

// QueueEntrySummary identifies the entry awaiting confirmation.
type QueueEntrySummary struct {
	ID     uint64 `json:"id"`
	Pool   uint64 `json:"pool"`
	Sender string `json:"sender"`
	Kind   string `json:"kind"`
}

// QueueResponse is the settlement cursor state.
type QueueResponse struct {
	Head  uint64             `json:"head"`
	Tail  uint64             `json:"tail"`
	Depth uint64             `json:"depth"`
	Next  *QueueEntrySummary `json:"next,omitempty"`
}

// ReconcileResponse compares ledger totals against venue holdings for
// one pool token. RouterBalance covers pending withdrawals and accrued
// fees awaiting claims; VenueBalance is the mirrored active capital.
// Stranded is the sum of optimistic debits whose withdrawal was
// skipped, awaiting operator reinstatement.
type ReconcileResponse struct {
	Pool          uint64 `json:"pool"`
	Token         string `json:"token"`
	ActiveTotal   Amount `json:"active_total"`
	RouterBalance Amount `json:"router_balance"`
	VenueBalance  Amount `json:"venue_balance"`
	Stranded      Amount `json:"stranded"`
}
