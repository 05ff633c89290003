package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debrix",
			Name:      "ticks_total",
			Help:      "Count of runner ticks executed.",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "debrix",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one full runner tick.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ActiveDownloadWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debrix",
			Name:      "active_download_workers",
			Help:      "Number of download workers currently registered.",
		},
	)

	ActiveUnpackWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debrix",
			Name:      "active_unpack_workers",
			Help:      "Number of unpack workers currently registered.",
		},
	)

	DownloadRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debrix",
			Name:      "download_retries_total",
			Help:      "Count of download resets issued by the retry policy.",
		},
	)

	TorrentsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debrix",
			Name:      "torrents_completed_total",
			Help:      "Count of torrents reaching a terminal state.",
		},
		[]string{"result"},
	)

	RDAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debrix",
			Name:      "rd_api_errors_total",
			Help:      "Errors from Real-Debrid API calls.",
		},
		[]string{"op"},
	)

	Aria2RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debrix",
			Name:      "aria2_rpc_errors_total",
			Help:      "Errors from aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	Aria2RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debrix",
			Name:      "aria2_rpc_latency_seconds",
			Help:      "Latency of aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)
)

// Register registers the debrix metrics into the default registry.
func Register() {
	prometheus.MustRegister(
		Ticks, TickDuration,
		ActiveDownloadWorkers, ActiveUnpackWorkers,
		DownloadRetries, TorrentsCompleted,
		RDAPIErrors, Aria2RPCErrors, Aria2RPCLatency,
	)
}
