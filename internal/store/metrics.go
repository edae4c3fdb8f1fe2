package store

import "github.com/prometheus/client_golang/prometheus"

var storeConflictsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xyfleet_store_conflicts_total",
		Help: "Total number of store transactions re-run after a write conflict.",
	},
	[]string{"op"},
)

var workersReregisteredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "xyfleet_workers_reregistered_total",
		Help: "Total number of heartbeats that found this worker's row removed and inserted it again.",
	},
)

func init() {
	prometheus.MustRegister(storeConflictsTotal, workersReregisteredTotal)
}
