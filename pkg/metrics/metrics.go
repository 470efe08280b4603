package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Build pipeline metrics
	BuildsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aurbuild_builds_started_total",
			Help: "Total number of build containers started",
		},
	)

	BuildsSucceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aurbuild_builds_succeeded_total",
			Help: "Total number of builds whose artifacts were indexed",
		},
	)

	BuildsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aurbuild_builds_failed_total",
			Help: "Total number of build containers that exited non-zero",
		},
	)

	UpdateChecks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aurbuild_update_checks_total",
			Help: "Total number of completed update-check passes",
		},
	)

	// Coordinator state metrics
	TrackedPackages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aurbuild_tracked_packages",
			Help: "Number of packages currently tracked",
		},
	)

	PendingBuilds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aurbuild_pending_builds",
			Help: "Number of builds waiting for a free builder slot",
		},
	)

	ActiveContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aurbuild_active_containers",
			Help: "Number of build containers currently supervised",
		},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(
		BuildsStarted,
		BuildsSucceeded,
		BuildsFailed,
		UpdateChecks,
		TrackedPackages,
		PendingBuilds,
		ActiveContainers,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
