package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP client metrics
	ClientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_client_requests_total",
			Help: "Total number of console API requests by method and outcome code",
		},
		[]string{"method", "code"},
	)

	ClientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_client_request_duration_seconds",
			Help:    "Console API request duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	UnauthorizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_client_unauthorized_total",
			Help: "Total number of responses that ended the local session",
		},
	)

	// Retry metrics
	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_retry_attempts_total",
			Help: "Total number of retries by reason (network or HTTP status)",
		},
		[]string{"reason"},
	)

	RetryExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_retry_exhausted_total",
			Help: "Total number of request chains that ran out of retries",
		},
	)

	RetryDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conduit_retry_delay_seconds",
			Help:    "Backoff delay applied before each retry",
			Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16},
		},
	)

	// Progress hub metrics
	HubConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_hub_connection_state",
			Help: "Progress hub connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		},
	)

	HubReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_hub_reconnects_total",
			Help: "Total number of hub reconnection attempts by outcome",
		},
		[]string{"outcome"},
	)

	ProgressEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_progress_events_total",
			Help: "Total number of progress events by disposition (delivered, dropped)",
		},
		[]string{"disposition"},
	)

	// Dev server metrics
	ServerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_devserver_requests_total",
			Help: "Total number of dev server requests by route and status",
		},
		[]string{"route", "status"},
	)

	ServerHubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_devserver_hub_connections",
			Help: "Number of open hub connections on the dev server",
		},
	)

	ServerMigrationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_devserver_migrations_active",
			Help: "Number of simulated migrations currently running",
		},
	)

	ServerMigrationsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_devserver_migrations_purged_total",
			Help: "Total number of finished migrations removed by the janitor",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ClientRequestsTotal)
	prometheus.MustRegister(ClientRequestDuration)
	prometheus.MustRegister(UnauthorizedTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(RetryExhaustedTotal)
	prometheus.MustRegister(RetryDelay)
	prometheus.MustRegister(HubConnectionState)
	prometheus.MustRegister(HubReconnectsTotal)
	prometheus.MustRegister(ProgressEventsTotal)
	prometheus.MustRegister(ServerRequestsTotal)
	prometheus.MustRegister(ServerHubConnections)
	prometheus.MustRegister(ServerMigrationsActive)
	prometheus.MustRegister(ServerMigrationsPurged)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
