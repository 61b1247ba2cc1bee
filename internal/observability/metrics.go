package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PoolLedger.
type Metrics struct {
	// --- Submission ---
	RequestsSubmitted *prometheus.CounterVec
	RequestsRejected  *prometheus.CounterVec
	SubmitDuration    *prometheus.HistogramVec

	// --- Settlement ---
	Confirmations   *prometheus.CounterVec
	ConfirmSkips    *prometheus.CounterVec
	ConfirmDuration *prometheus.HistogramVec
	QueueHead       prometheus.Gauge
	QueueDepth      prometheus.Gauge

	// --- Claims ---
	ClaimsProcessed prometheus.Counter
	ClaimPayouts    *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	PersistBackpressure prometheus.Counter
	PublishDrops        prometheus.Counter

	// --- Ingestion ---
	IngestMessages    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistErrors      *prometheus.CounterVec
	PersistBatchDur    prometheus.Histogram
	PersistLastID      prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastHead prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		RequestsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_requests_submitted_total",
			Help: "Settlement requests accepted into the queue",
		}, []string{"kind"}),

		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_requests_rejected_total",
			Help: "Requests rejected at admission",
		}, []string{"kind", "reason"}),

		SubmitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_submit_duration_seconds",
			Help:    "Time to validate and enqueue a request",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		Confirmations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_confirmations_total",
			Help: "Confirmation steps by outcome",
		}, []string{"kind", "status"}),

		ConfirmSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_confirm_skips_total",
			Help: "Silently skipped settlements by coarse reason",
		}, []string{"kind", "reason"}),

		ConfirmDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_confirm_duration_seconds",
			Help:    "Time to process one confirmation step",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		QueueHead: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_queue_head",
			Help: "Last fully processed settlement id",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_queue_depth",
			Help: "Accepted settlement requests awaiting confirmation",
		}),

		ClaimsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_claims_processed_total",
			Help: "Claim operations executed",
		}),

		ClaimPayouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_claim_payouts_total",
			Help: "Claim payout legs by recipient class",
		}, []string{"recipient"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_backpressure_total",
			Help: "Times the manager blocked on the persist channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_publish_drops_total",
			Help: "Outbound events dropped due to full publish channel",
		}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_ingest_messages_total",
			Help: "Authority messages received by subject",
		}, []string{"subject"}),

		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_ingest_parse_errors_total",
			Help: "Authority messages rejected by the parser",
		}, []string{"subject"}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_rows_written_total",
			Help: "Request and outcome rows written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_persist_errors_total",
			Help: "Postgres write failures by operation",
		}, []string{"op"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistLastID: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_persist_last_id",
			Help: "Highest settlement id durably written",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_snapshot_taken_total",
			Help: "Ledger snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_snapshot_duration_seconds",
			Help:    "Snapshot serialization and write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		SnapshotLastHead: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_snapshot_last_head",
			Help: "Queue head recorded by the latest snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_query_requests_total",
			Help: "Query API requests by endpoint",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_query_duration_seconds",
			Help:    "Query API latency by endpoint",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_query_errors_total",
			Help: "Query API errors by endpoint",
		}, []string{"endpoint"}),
	}
}
