package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vodcache",
			Name:      "download_updates_total",
			Help:      "Count of orchestrator state updates processed by the reconciler.",
		},
		[]string{"state"},
	)

	TransferBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vodcache",
			Name:      "transfer_bytes_total",
			Help:      "Bytes written to temporary files by the transfer client.",
		},
	)

	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vodcache",
			Name:      "transfer_duration_seconds",
			Help:      "Duration of transfers by outcome.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vodcache",
			Name:      "active_downloads",
			Help:      "Number of download sessions owned by the orchestrator (0 or 1).",
		},
	)

	Deletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vodcache",
			Name:      "deletions_total",
			Help:      "Artifact deletions by result.",
		},
		[]string{"result"},
	)
)

// Register registers the vodcache metrics into the default registry.
func Register() {
	prometheus.MustRegister(DownloadUpdates, TransferBytes, TransferDuration, ActiveDownloads, Deletions)
}
