package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PoolLedger/internal/ledger"
)

// SnapshotManager persists and loads ledger snapshots for warm
// restart. A snapshot captures the full ledger plus the queue head it
// was taken at; the request log replays the entries, the outcome log
// restores their terminal states.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of one snapshot.
type SnapshotData struct {
	Head      uint64           `json:"head"`
	Ledger    *ledger.Snapshot `json:"ledger"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Re-snapshotting at the same head
// overwrites the previous row.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO settlement.snapshots
			(snapshot_id, head, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (head) DO UPDATE SET data = $3, size_bytes = $4, created_at = $5
	`, snapshotID, snap.Head, string(data), len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the snapshot with the highest head. Returns
// nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM settlement.snapshots
		ORDER BY head DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// PruneSnapshots deletes all but the newest n snapshots.
func (sm *SnapshotManager) PruneSnapshots(ctx context.Context, keep int) error {
	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM settlement.snapshots
		WHERE head NOT IN (
			SELECT head FROM settlement.snapshots ORDER BY head DESC LIMIT $1
		)
	`, keep)
	return err
}
