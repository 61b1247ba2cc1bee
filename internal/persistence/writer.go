package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RequestLogWriter writes accepted requests and confirmation outcomes
// to Postgres using multi-row INSERT. Inserts are idempotent on the
// request id, so replayed flushes after a crash are harmless.
type RequestLogWriter struct {
	db *sql.DB
}

// RequestRow is a row in settlement.requests: one accepted settlement
// request, exactly as it entered the queue.
type RequestRow struct {
	ID          uint64
	Pool        uint64
	Sender      string
	Kind        string
	Payload     []byte // wire-encoded queue entry
	SubmittedAt time.Time
}

// OutcomeRow is a row in settlement.outcomes: the terminal state of a
// confirmed request.
type OutcomeRow struct {
	ID          uint64
	Pool        uint64
	Status      string
	Reason      string
	ConfirmedAt time.Time
}

func NewRequestLogWriter(db *sql.DB) *RequestLogWriter {
	return &RequestLogWriter{db: db}
}

// WriteRequestBatch inserts a batch of request rows inside tx.
func (w *RequestLogWriter) WriteRequestBatch(ctx context.Context, tx *sql.Tx, requests []RequestRow) error {
	if len(requests) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.requests
		(id, pool, sender, kind, payload, submitted_at)
		VALUES `

	values := make([]string, 0, len(requests))
	args := make([]interface{}, 0, len(requests)*6)

	for i, r := range requests {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		// JSONB binds as text, not bytea.
		args = append(args, r.ID, r.Pool, r.Sender, r.Kind, string(r.Payload), r.SubmittedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteOutcomeBatch inserts a batch of outcome rows inside tx.
func (w *RequestLogWriter) WriteOutcomeBatch(ctx context.Context, tx *sql.Tx, outcomes []OutcomeRow) error {
	if len(outcomes) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.outcomes
		(id, pool, status, reason, confirmed_at)
		VALUES `

	values := make([]string, 0, len(outcomes))
	args := make([]interface{}, 0, len(outcomes)*5)

	for i, o := range outcomes {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, o.ID, o.Pool, o.Status, o.Reason, o.ConfirmedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadRequests streams the full request log in id order and hands each
// payload to fn. Used for warm-restart replay.
func (w *RequestLogWriter) LoadRequests(ctx context.Context, fn func(payload []byte) error) error {
	rows, err := w.db.QueryContext(ctx,
		`SELECT payload FROM settlement.requests ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan request: %w", err)
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LoadOutcomes streams all outcomes in id order.
func (w *RequestLogWriter) LoadOutcomes(ctx context.Context, fn func(id uint64, status, reason string) error) error {
	rows, err := w.db.QueryContext(ctx,
		`SELECT id, status, reason FROM settlement.outcomes ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id             uint64
			status, reason string
		)
		if err := rows.Scan(&id, &status, &reason); err != nil {
			return fmt.Errorf("scan outcome: %w", err)
		}
		if err := fn(id, status, reason); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastOutcomeID returns the highest confirmed request id, 0 when the
// outcome log is empty.
func (w *RequestLogWriter) LastOutcomeID(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM settlement.outcomes`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last outcome id: %w", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}
