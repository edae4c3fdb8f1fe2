package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xyfleet_tasks_executed_total",
			Help: "Total number of tasks executed by the worker pool.",
		},
		[]string{"stream"},
	)

	tasksSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xyfleet_tasks_saved_total",
			Help: "Total number of task results handed to the stream's save.",
		},
		[]string{"stream"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xyfleet_task_duration_seconds",
			Help:    "Task execution duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{"stream"},
	)

	heartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xyfleet_heartbeats_total",
			Help: "Total number of worker heartbeats sent by engines.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksExecutedTotal)
	prometheus.MustRegister(tasksSavedTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(heartbeatsTotal)
}
