package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skycommit_feed_fetches_total",
			Help: "Total remote feed fetches by the ingestion daemon",
		},
		[]string{"source", "status"},
	)

	FeedFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skycommit_feed_fetch_latency_seconds",
			Help:    "Remote feed fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SnapshotsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skycommit_snapshots_written_total",
			Help: "Snapshot files written locally by the daemon",
		},
		[]string{"kind"},
	)

	SnapshotUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skycommit_snapshot_uploads_total",
			Help: "Snapshot upload attempts by outcome",
		},
		[]string{"kind", "status"},
	)

	SnapshotsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skycommit_snapshots_received_total",
			Help: "Snapshot files accepted by the upload endpoint",
		},
		[]string{"kind"},
	)

	EventsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skycommit_events_created_total",
			Help: "DLC events created",
		},
	)

	EntriesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skycommit_entries_submitted_total",
			Help: "Event entries accepted",
		},
	)

	EventsSigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skycommit_events_signed_total",
			Help: "Events attested",
		},
	)

	SnapshotsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skycommit_snapshots_swept_total",
			Help: "Snapshot files removed by the retention sweeper",
		},
	)
)
