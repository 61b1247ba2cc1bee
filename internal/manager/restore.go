package manager

import (
	"fmt"

	"PoolLedger/internal/escrow"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/queue"
)

// RestoreSnapshot loads a persisted ledger snapshot and rebuilds the
// per-pool escrow routers. Must run before any replay or new traffic.
func (m *Manager) RestoreSnapshot(snap *ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Restore(snap); err != nil {
		return fmt.Errorf("restore ledger snapshot: %w", err)
	}

	m.routers = make(map[uint64]*escrow.Router)
	for _, p := range m.store.Pools() {
		router := escrow.NewRouter(p.Router, p.VenueAccount, m.bank)
		for _, t := range p.Tokens {
			router.EnsureApproval(t)
		}
		m.routers[p.ID] = router
	}
	return nil
}

// ReplayRequest re-appends a durable request-log row to the in-memory
// queue. Rows must arrive in id order.
func (m *Manager) ReplayRequest(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := queue.DecodeEntry(payload)
	if err != nil {
		return fmt.Errorf("replay request: %w", err)
	}
	if err := m.queue.RestoreEntry(e); err != nil {
		return fmt.Errorf("replay request: %w", err)
	}
	return nil
}

// ReplayOutcome restores a replayed entry's terminal state from the
// durable outcome log.
func (m *Manager) ReplayOutcome(id uint64, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := queue.StateApplied
	if status == queue.Skipped.String() {
		state = queue.StateSkipped
	}
	if err := m.queue.SetState(id, state, reason); err != nil {
		return fmt.Errorf("replay outcome: %w", err)
	}
	return nil
}

// FinishReplay positions the confirmation cursor after all durable rows
// are loaded. head is the highest confirmed id.
func (m *Manager) FinishReplay(head uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.queue.SetHead(head); err != nil {
		return fmt.Errorf("finish replay: %w", err)
	}
	if err := m.validator.ValidateAllConservation(); err != nil {
		return fmt.Errorf("finish replay: %w", err)
	}
	m.updateQueueGauges()
	m.log.Info().Uint64("head", m.queue.Head()).Uint64("tail", m.queue.Tail()).Msg("replay complete")
	return nil
}

// LedgerSnapshot captures the current ledger and queue cursor for
// persistence.
func (m *Manager) LedgerSnapshot() (*ledger.Snapshot, queue.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Snapshot(), m.queue.Snapshot()
}
