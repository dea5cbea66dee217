/*
Package metrics defines the Prometheus collectors conduit exposes and the
component health registry used by the dev server.

All collectors are package-level variables registered with the default
registry in init, so any package can record without plumbing:

	┌──────────────────── METRICS ─────────────────────────────┐
	│                                                            │
	│  client    conduit_client_requests_total{method,code}      │
	│            conduit_client_request_duration_seconds{method} │
	│            conduit_client_unauthorized_total               │
	│  retry     conduit_retry_attempts_total{reason}            │
	│            conduit_retry_exhausted_total                   │
	│            conduit_retry_delay_seconds                     │
	│  progress  conduit_hub_connection_state                    │
	│            conduit_hub_reconnects_total{outcome}           │
	│            conduit_progress_events_total{disposition}      │
	│  devserver conduit_devserver_requests_total{route,status}  │
	│            conduit_devserver_hub_connections               │
	│            conduit_devserver_migrations_active             │
	│            conduit_devserver_migrations_purged_total       │
	│                                                            │
	│  Handler() ──► promhttp on /metrics                        │
	└────────────────────────────────────────────────────────────┘

The CLI only serves /metrics when asked (`conduit migrate watch
--metrics-addr`); the dev server always does.

# Timing

	timer := metrics.NewTimer()
	err := doRequest()
	timer.ObserveDurationVec(metrics.ClientRequestDuration, method)

# Health

HealthRegistry aggregates named component states into /health (any
component unhealthy means 503) and /ready (every critical component
registered and healthy):

	reg := metrics.NewHealthRegistry(version, "database", "hub")
	reg.Set("database", true, "sqlite")
	router.GET("/ready", gin.WrapF(reg.ReadyHandler()))
*/
package metrics
