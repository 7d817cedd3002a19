package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swarmstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "active_sessions",
		Help:      "Number of streaming sessions in the session table.",
	})

	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "sessions_started_total",
		Help:      "Total number of streaming sessions created.",
	})

	SessionOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "session_outcomes_total",
		Help:      "Sessions that reached a terminal or ready state, by status and error kind.",
	}, []string{"status", "kind"})

	TimeToReady = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swarmstream",
		Name:      "time_to_ready_seconds",
		Help:      "Time from session creation until playback could start.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	SwarmJoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "swarm_joins_total",
		Help:      "Swarm join attempts by result.",
	}, []string{"result"})

	SwarmDestroysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "swarm_destroys_total",
		Help:      "Total number of swarm transfers destroyed.",
	})

	SubscriberDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "subscriber_drops_total",
		Help:      "Session updates dropped because a subscriber was not keeping up.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "peers_connected",
		Help:      "Total number of connected peers across all sessions.",
	})

	MemoryStorageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "memory_storage_bytes",
		Help:      "Bytes of piece data held by the in-memory storage.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionsStartedTotal,
		SessionOutcomesTotal,
		TimeToReady,
		SwarmJoinsTotal,
		SwarmDestroysTotal,
		SubscriberDropsTotal,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		MemoryStorageBytes,
	)
}
