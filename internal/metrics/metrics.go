package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Low cardinality only: no per-event or per-path labels.
var (
	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camviewer_notification_queue_depth",
		Help: "Inbound broker notifications awaiting the ingestion worker",
	})

	WriteQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camviewer_write_queue_depth",
		Help: "Validated event records awaiting persistence",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camviewer_notifications_total",
		Help: "Inbound broker messages by tag and outcome (queued, rejected_full)",
	}, []string{"tag", "outcome"})

	IngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camviewer_ingest_accepted_total",
		Help: "Event records validated and handed to the write queue",
	})

	IngestDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camviewer_ingest_dropped_total",
		Help: "Event payloads discarded by the ingestion worker",
	}, []string{"reason"})

	AlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camviewer_alerts_total",
		Help: "Camera alert messages received",
	})

	PersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camviewer_persist_total",
		Help: "Event inserts by outcome (ok, error)",
	}, []string{"outcome"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camviewer_persist_batch_size",
		Help:    "Records per persistence batch",
		Buckets: []float64{1, 2, 5, 10},
	})

	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camviewer_connect_attempts_total",
		Help: "Connection strategy attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camviewer_session_state",
		Help: "Supervisor state (0=idle 1=trying 2=verifying 3=live 4=failed)",
	})

	StatusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camviewer_status_publish_total",
		Help: "Status publishes by outcome (sent, skipped, error)",
	}, []string{"outcome"})

	PresentationCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camviewer_presentation_requests_coalesced_total",
		Help: "Event list refresh requests merged into one already pending",
	})
)
