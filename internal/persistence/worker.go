package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"PoolLedger/internal/manager"
	"PoolLedger/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to
// Postgres. This goroutine runs independently from the manager. The
// persist channel uses BLOCKING sends from the manager, so if this
// worker falls behind, submissions stall rather than losing a row.
type PersistenceWorker struct {
	writer       *RequestLogWriter
	inputChan    <-chan manager.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan manager.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewRequestLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout
// expires. Blocks until ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	requestBatch := make([]RequestRow, 0, pw.batchSize)
	outcomeBatch := make([]OutcomeRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(requestBatch) > 0 || len(outcomeBatch) > 0 {
				if err := pw.flush(context.Background(), requestBatch, outcomeBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				if len(requestBatch) > 0 || len(outcomeBatch) > 0 {
					if err := pw.flush(context.Background(), requestBatch, outcomeBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			if out.Request != nil {
				requestBatch = append(requestBatch, RequestRow{
					ID:          out.Request.ID,
					Pool:        out.Request.Pool,
					Sender:      out.Request.Sender,
					Kind:        out.Request.Kind,
					Payload:     out.Request.Payload,
					SubmittedAt: out.Request.SubmittedAt,
				})
			}
			if out.Outcome != nil {
				outcomeBatch = append(outcomeBatch, OutcomeRow{
					ID:          out.Outcome.ID,
					Pool:        out.Outcome.Pool,
					Status:      out.Outcome.Status,
					Reason:      out.Outcome.Reason,
					ConfirmedAt: out.Outcome.ConfirmedAt,
				})
			}

			if len(requestBatch)+len(outcomeBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, requestBatch, outcomeBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				requestBatch = requestBatch[:0]
				outcomeBatch = outcomeBatch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(requestBatch) > 0 || len(outcomeBatch) > 0 {
				if err := pw.flushWithRetry(ctx, requestBatch, outcomeBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				requestBatch = requestBatch[:0]
				outcomeBatch = outcomeBatch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops rows: it retries until the write succeeds or the context
// is cancelled, then makes one final attempt with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, requests []RequestRow, outcomes []OutcomeRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, rows=%d)",
				attempt, backoff, len(requests)+len(outcomes))
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), requests, outcomes)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, requests, outcomes)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, requests []RequestRow, outcomes []OutcomeRow) error {
	start := time.Now()

	// Requests and outcomes land in a single transaction.
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteRequestBatch(ctx, tx, requests); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_requests").Inc()
		}
		return err
	}

	if err := pw.writer.WriteOutcomeBatch(ctx, tx, outcomes); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_outcomes").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistRowsWritten.Add(float64(len(requests) + len(outcomes)))
		if len(outcomes) > 0 {
			pw.metrics.PersistLastID.Set(float64(outcomes[len(outcomes)-1].ID))
		}
	}

	return nil
}

// GetWriter returns the underlying writer for replay and diagnostics.
func (pw *PersistenceWorker) GetWriter() *RequestLogWriter {
	return pw.writer
}
