// Package manager orchestrates the pool ledger: it validates and admits
// deposit/withdraw requests, mutates balances optimistically, feeds the
// settlement queue, applies the authority's confirmations, and pays out
// claims.
package manager

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"PoolLedger/internal/escrow"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/pricing"
	"PoolLedger/internal/queue"
	"PoolLedger/internal/venue"
)

// Output is what the manager emits for durability and downstream
// consumers: a request row at submission, an outcome row at
// confirmation.
type Output struct {
	Request *RequestRecord
	Outcome *OutcomeRecord
}

// RequestRecord is the durable form of an accepted request.
type RequestRecord struct {
	ID          uint64
	Pool        uint64
	Sender      string
	Kind        string
	Payload     []byte
	SubmittedAt time.Time
}

// OutcomeRecord is the durable form of a confirmation result.
type OutcomeRecord struct {
	ID          uint64
	Pool        uint64
	Status      string
	Reason      string
	ConfirmedAt time.Time
}

// Config carries the manager's fixed parameters.
type Config struct {
	Admin        common.Address
	FeeRecipient common.Address
	FeePolicy    FeePolicy
}

// Manager is the single writer over the ledger and the queue. A mutex
// reproduces the one-call-at-a-time execution model the settlement
// protocol assumes; no finer-grained locking exists or is needed.
type Manager struct {
	mu sync.Mutex

	cfg       Config
	store     *ledger.Store
	validator *ledger.InvariantValidator
	calc      *pricing.Calculator
	queue     *queue.Queue
	bank      venue.TokenBank
	oracle    venue.PriceOracle
	routers   map[uint64]*escrow.Router

	depositsPaused    bool
	withdrawalsPaused bool
	claimsPaused      bool

	log     zerolog.Logger
	metrics *observability.Metrics

	// persistChan uses blocking sends: if the persistence worker falls
	// behind, submissions stall rather than losing a row.
	persistChan chan<- Output
	// publishChan uses non-blocking sends: the outbound stream can be
	// rebuilt from the request log.
	publishChan chan<- Output
}

// Option configures optional manager collaborators.
type Option func(*Manager)

func WithMetrics(m *observability.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(mgr *Manager) { mgr.log = log }
}

func WithPersistChan(ch chan<- Output) Option {
	return func(mgr *Manager) { mgr.persistChan = ch }
}

func WithPublishChan(ch chan<- Output) Option {
	return func(mgr *Manager) { mgr.publishChan = ch }
}

func New(cfg Config, store *ledger.Store, oracle venue.PriceOracle, bank venue.TokenBank, fixedFeeX18 *big.Int, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		validator: ledger.NewInvariantValidator(store),
		calc:      pricing.NewCalculator(oracle, fixedFeeX18),
		queue:     queue.New(),
		bank:      bank,
		oracle:    oracle,
		routers:   make(map[uint64]*escrow.Router),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ---- Admin surface ----

// CreatePool registers a pool with its tokens, settlement authority and
// escrow router. Hardcaps arrive normalized to 18 decimals and are
// converted to native units using the oracle's decimals.
func (m *Manager) CreatePool(caller common.Address, id uint64, kind ledger.PoolKind, tokens []common.Address, hardcapsX18 []*big.Int, authority, routerAddr, venueAccount common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.cfg.Admin {
		return ErrNotAdmin
	}
	if authority == (common.Address{}) || routerAddr == (common.Address{}) {
		return ErrZeroAddress
	}
	if kind == ledger.KindSpot && len(tokens) != 2 {
		return fmt.Errorf("%w: spot pool needs exactly 2 tokens, got %d", ErrWrongPoolKind, len(tokens))
	}

	specs, err := m.tokenSpecs(routerAddr, tokens, hardcapsX18)
	if err != nil {
		return err
	}
	if err := m.store.CreatePool(id, kind, authority, routerAddr, venueAccount, specs); err != nil {
		return err
	}

	router := escrow.NewRouter(routerAddr, venueAccount, m.bank)
	for _, t := range tokens {
		router.EnsureApproval(t)
	}
	m.routers[id] = router

	m.log.Info().
		Uint64("pool", id).
		Str("kind", kind.String()).
		Str("authority", authority.Hex()).
		Int("tokens", len(tokens)).
		Msg("pool created")
	return nil
}

// AddPoolTokens widens a pool with additional tokens. A Spot pool
// becomes a Basket pool; pools are never narrowed.
func (m *Manager) AddPoolTokens(caller common.Address, poolID uint64, tokens []common.Address, hardcapsX18 []*big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.cfg.Admin {
		return ErrNotAdmin
	}
	p := m.store.GetPool(poolID)
	if p == nil {
		return fmt.Errorf("%w: pool %d", ledger.ErrInvalidPool, poolID)
	}

	specs, err := m.tokenSpecs(p.Router, tokens, hardcapsX18)
	if err != nil {
		return err
	}
	if err := m.store.AddTokens(poolID, specs); err != nil {
		return err
	}

	router := m.routers[poolID]
	for _, t := range tokens {
		router.EnsureApproval(t)
	}

	m.log.Info().Uint64("pool", poolID).Int("tokens", len(tokens)).Msg("pool tokens added")
	return nil
}

// SetHardcaps replaces caps on existing pool tokens. Existing balances
// above a lowered cap stay; only new deposits are blocked.
func (m *Manager) SetHardcaps(caller common.Address, poolID uint64, tokens []common.Address, hardcapsX18 []*big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.cfg.Admin {
		return ErrNotAdmin
	}
	if len(tokens) != len(hardcapsX18) {
		return fmt.Errorf("%w: %d tokens, %d hardcaps", ledger.ErrUnsupportedToken, len(tokens), len(hardcapsX18))
	}
	native := make([]*big.Int, len(tokens))
	for i, t := range tokens {
		dec, err := m.oracle.Decimals(t)
		if err != nil {
			return err
		}
		native[i] = pricing.NormalizeToNative(hardcapsX18[i], dec)
	}
	return m.store.SetHardcaps(poolID, tokens, native)
}

// PauseDeposits, PauseWithdrawals and PauseClaims are the independent
// admission-control levers. Checked at the start of each public
// operation.
func (m *Manager) PauseDeposits(caller common.Address, paused bool) error {
	return m.setPause(caller, &m.depositsPaused, paused, "deposits")
}

func (m *Manager) PauseWithdrawals(caller common.Address, paused bool) error {
	return m.setPause(caller, &m.withdrawalsPaused, paused, "withdrawals")
}

func (m *Manager) PauseClaims(caller common.Address, paused bool) error {
	return m.setPause(caller, &m.claimsPaused, paused, "claims")
}

func (m *Manager) setPause(caller common.Address, flag *bool, paused bool, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.cfg.Admin {
		return ErrNotAdmin
	}
	*flag = paused
	m.log.Info().Str("category", category).Bool("paused", paused).Msg("pause flag changed")
	return nil
}

func (m *Manager) tokenSpecs(router common.Address, tokens []common.Address, hardcapsX18 []*big.Int) ([]ledger.TokenSpec, error) {
	if len(tokens) != len(hardcapsX18) {
		return nil, fmt.Errorf("%w: %d tokens, %d hardcaps", ledger.ErrUnsupportedToken, len(tokens), len(hardcapsX18))
	}
	specs := make([]ledger.TokenSpec, len(tokens))
	for i, t := range tokens {
		if t == (common.Address{}) {
			return nil, ErrZeroAddress
		}
		dec, err := m.oracle.Decimals(t)
		if err != nil {
			return nil, err
		}
		if dec > ledger.NormalizedDecimals {
			return nil, fmt.Errorf("%w: %s has %d decimals", ledger.ErrUnsupportedToken, t.Hex(), dec)
		}
		specs[i] = ledger.TokenSpec{
			Token:    t,
			Router:   router,
			Hardcap:  pricing.NormalizeToNative(hardcapsX18[i], dec),
			Decimals: dec,
		}
	}
	return specs, nil
}

// ---- Read-only surface ----

func (m *Manager) GetPoolToken(poolID uint64, token common.Address) (ledger.PoolToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetPoolToken(poolID, token)
}

func (m *Manager) GetUserActiveAmount(poolID uint64, token, user common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetUserActiveAmount(poolID, token, user)
}

func (m *Manager) GetUserPendingAmount(user, token common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetUserPendingAmount(user, token)
}

func (m *Manager) GetUserFee(poolID uint64, token, user common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetUserFee(poolID, token, user)
}

func (m *Manager) GetBalancedAmount(tokenA, tokenB common.Address, amountA *big.Int) (*big.Int, error) {
	return m.calc.BalancedAmount(tokenA, tokenB, amountA)
}

func (m *Manager) GetTransactionFee(token common.Address) (*big.Int, error) {
	return m.calc.TransactionFee(token)
}

// NextSpot returns a copy of the entry awaiting confirmation, for
// off-system inspection by the settlement authority.
func (m *Manager) NextSpot() (queue.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue.NextSpot()
	if !ok {
		return queue.Entry{}, false
	}
	return *e, true
}

// Cursor returns (head, tail) of the settlement queue.
func (m *Manager) Cursor() (uint64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Head(), m.queue.Tail()
}

// StrandedWithdrawals reports the total of optimistic withdrawal
// debits whose settlement was skipped for one pool token. Reinstating
// them is an operator action; this getter makes the backlog queryable.
func (m *Manager) StrandedWithdrawals(poolID uint64, token common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.SkippedWithdrawalTotal(poolID, token)
}

// PoolInfo returns a copy of the pool's registration record.
func (m *Manager) PoolInfo(poolID uint64) (ledger.Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.store.GetPool(poolID)
	if p == nil {
		return ledger.Pool{}, false
	}
	cp := *p
	cp.Tokens = append([]common.Address(nil), p.Tokens...)
	return cp, true
}

// RouterAddress returns the escrow router account for a pool.
func (m *Manager) RouterAddress(poolID uint64) (common.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routers[poolID]
	if !ok {
		return common.Address{}, false
	}
	return r.Address(), true
}

// ---- Emission ----

func (m *Manager) emit(out Output) {
	if m.persistChan != nil {
		if m.metrics != nil && len(m.persistChan) == cap(m.persistChan) {
			m.metrics.PersistBackpressure.Inc()
		}
		m.persistChan <- out
	}
	if m.publishChan != nil {
		select {
		case m.publishChan <- out:
		default:
			if m.metrics != nil {
				m.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (m *Manager) updateQueueGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.QueueHead.Set(float64(m.queue.Head()))
	m.metrics.QueueDepth.Set(float64(m.queue.PendingCount()))
}
