package venue

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type holdingKey struct {
	Token   common.Address
	Account common.Address
}

type approvalKey struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
}

// Bank is an in-memory TokenBank. It backs the escrow routers in tests
// and in single-process deployments where the real custody adapter is
// out of scope. Approvals are unlimited-or-nothing, matching the
// standing-approval model the routers rely on.
type Bank struct {
	mu        sync.Mutex
	holdings  map[holdingKey]*big.Int
	approvals map[approvalKey]bool
}

func NewBank() *Bank {
	return &Bank{
		holdings:  make(map[holdingKey]*big.Int),
		approvals: make(map[approvalKey]bool),
	}
}

// Mint creates balance out of thin air. Test and bootstrap helper.
func (b *Bank) Mint(token, account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token, account, amount)
}

func (b *Bank) BalanceOf(token, account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.holdings[holdingKey{Token: token, Account: account}]
	if cur == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

func (b *Bank) Transfer(token, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(token, from, to, amount)
}

func (b *Bank) Pull(token, owner, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.approvals[approvalKey{Token: token, Owner: owner, Spender: to}] {
		return fmt.Errorf("no approval from %s to %s for %s", owner.Hex(), to.Hex(), token.Hex())
	}
	return b.move(token, owner, to, amount)
}

func (b *Bank) Approve(token, owner, spender common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approvals[approvalKey{Token: token, Owner: owner, Spender: spender}] = true
}

// Revoke clears an approval. Tests use it to simulate a depositor whose
// funds or approvals vanished between submission and confirmation.
func (b *Bank) Revoke(token, owner, spender common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.approvals, approvalKey{Token: token, Owner: owner, Spender: spender})
}

func (b *Bank) Approved(token, owner, spender common.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.approvals[approvalKey{Token: token, Owner: owner, Spender: spender}]
}

func (b *Bank) move(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	cur := b.holdings[holdingKey{Token: token, Account: from}]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient funds: %s holds %s of %s, needs %s",
			from.Hex(), balanceString(cur), token.Hex(), amount)
	}
	cur.Sub(cur, amount)
	b.credit(token, to, amount)
	return nil
}

func (b *Bank) credit(token, account common.Address, amount *big.Int) {
	key := holdingKey{Token: token, Account: account}
	cur := b.holdings[key]
	if cur == nil {
		cur = new(big.Int)
		b.holdings[key] = cur
	}
	cur.Add(cur, amount)
}

func balanceString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
