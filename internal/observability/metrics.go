package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the service exports.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge
	CoreRollbacks      *prometheus.CounterVec

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Oracle ---
	OracleQuotes        *prometheus.CounterVec
	OracleStaleQuotes   *prometheus.CounterVec
	OracleStreamHealthy prometheus.Gauge

	// --- Pool ---
	PoolAmount        *prometheus.GaugeVec
	ReservedAmount    *prometheus.GaugeVec
	GuaranteedUsd     *prometheus.GaugeVec
	FeeReserve        *prometheus.GaugeVec
	GlobalShortSize   *prometheus.GaugeVec
	CumulativeFunding *prometheus.GaugeVec
	FundingAccruals   *prometheus.CounterVec
	Liquidations      *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// --- RPC surface ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_core_events_applied_total",
			Help: "Commands applied by the core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_core_events_rejected_total",
			Help: "Commands rejected by the core",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amx_core_event_apply_duration_seconds",
			Help:    "Time to apply one command",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_core_journals_generated_total",
			Help: "Token journals generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "amx_core_state_hash_duration_seconds",
			Help:    "Time to compute the state digest and hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_core_sequence",
			Help: "Next global sequence",
		}),

		CoreRollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_core_rollbacks_total",
			Help: "Transactions rolled back, by error kind",
		}, []string{"kind"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amx_ingest_to_apply_seconds",
			Help:    "Latency from ingestion to core apply",
			Buckets: ingestBuckets,
		}, []string{"source"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "amx_apply_to_persist_seconds",
			Help:    "Latency from apply to durable persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "amx_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amx_projection_update_duration_seconds",
			Help:    "Time to update one projection",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"projection"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_channel_utilization",
			Help: "Channel occupancy ratio",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_publish_drops_total",
			Help: "Events dropped because the publish channel was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_idempotency_duplicates_total",
			Help: "Duplicate commands skipped",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_dedup_lru_size",
			Help: "Idempotency LRU entries",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_event_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_event_out_of_order_total",
			Help: "Stale source sequences rejected",
		}, []string{"partition"}),

		OracleQuotes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_oracle_quotes_total",
			Help: "Price quotes accepted into the quote store",
		}, []string{"feed"}),

		OracleStaleQuotes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_oracle_stale_quotes_total",
			Help: "Price quotes ignored because a newer quote was held",
		}, []string{"feed"}),

		OracleStreamHealthy: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_oracle_stream_healthy",
			Help: "1 when the price stream is connected and heartbeating",
		}),

		PoolAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_pool_amount",
			Help: "Pool amount in token units",
		}, []string{"asset"}),

		ReservedAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_reserved_amount",
			Help: "Reserved amount in token units",
		}, []string{"asset"}),

		GuaranteedUsd: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_guaranteed_usd",
			Help: "Guaranteed USD of longs",
		}, []string{"asset"}),

		FeeReserve: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_fee_reserve",
			Help: "Collected fees in token units",
		}, []string{"asset"}),

		GlobalShortSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_global_short_size_usd",
			Help: "Aggregate open short size",
		}, []string{"asset"}),

		CumulativeFunding: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amx_cumulative_funding_rate",
			Help: "Cumulative funding rate, 1e6 precision",
		}, []string{"asset"}),

		FundingAccruals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_funding_accruals_total",
			Help: "Funding intervals accrued",
		}, []string{"asset"}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_liquidations_total",
			Help: "Positions liquidated",
		}, []string{"asset", "side", "state"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_persist_journals_written_total",
			Help: "Journals written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "amx_persist_batch_size",
			Help:    "Outputs per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "amx_snapshot_duration_seconds",
			Help:    "Snapshot duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "amx_replay_events_total",
			Help: "Events replayed at startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "amx_replay_duration_seconds",
			Help: "Duration of the startup replay",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amx_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "amx_rpc_requests_total",
			Help: "gRPC requests by method and status code",
		}, []string{"method", "code"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amx_rpc_duration_seconds",
			Help:    "gRPC handler latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
