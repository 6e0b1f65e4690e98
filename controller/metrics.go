package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionRenewals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqtctl_session_renewals_total",
			Help: "Number of bearer token renewals",
		},
	)
	pollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqtctl_poll_queries_total",
			Help: "Number of status queries while waiting for an appliance state",
		},
		[]string{"awaited"},
	)
	pollTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqtctl_poll_timeouts_total",
			Help: "Number of waits that exhausted their attempt budget",
		},
		[]string{"awaited"},
	)
	discoveryScans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqtctl_path_scans_total",
			Help: "Number of FCP path discovery scans",
		},
	)
	discoveryQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqtctl_fcp_disk_queries_total",
			Help: "Number of FCP disk queries by result",
		},
		[]string{"result"},
	)
	triggerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqtctl_trigger_attempts_total",
			Help: "Number of asynchronous operation trigger attempts",
		},
		[]string{"operation"},
	)
)

// MetricsCollectors exposes the controller collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		sessionRenewals,
		pollAttempts,
		pollTimeouts,
		discoveryScans,
		discoveryQueries,
		triggerAttempts,
	}
}
