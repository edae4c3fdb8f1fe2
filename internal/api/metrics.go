package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/xyfleet/internal/store"
)

const (
	unmatched     = "unmatched"
	scrapeTimeout = 5 * time.Second
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xyfleet_http_requests_total",
			Help: "Total number of status server requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xyfleet_http_request_duration_seconds",
			Help:    "Status server request duration in seconds.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// metricsMiddleware records request count and duration for every HTTP request
// except scrapes of /metrics itself. Requests are labelled by chi route
// pattern rather than raw path.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := routePattern(r)
		if path == "/metrics" {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

var (
	configurationsDesc = prometheus.NewDesc("xyfleet_configurations",
		"Configurations of the reported simulation by state.", []string{"state"}, nil)
	chunksDesc = prometheus.NewDesc("xyfleet_chunks",
		"Chunks persisted for the reported simulation.", nil, nil)
	estimatesDesc = prometheus.NewDesc("xyfleet_estimates",
		"Estimates persisted for the reported simulation.", nil, nil)
	depthDesc = prometheus.NewDesc("xyfleet_refinement_depth",
		"Deepest refinement round of the reported simulation.", nil, nil)
	vortexJobsDesc = prometheus.NewDesc("xyfleet_vortex_jobs",
		"Vortex jobs of the reported simulation by state.", []string{"state"}, nil)
	workersDesc = prometheus.NewDesc("xyfleet_workers",
		"Registered workers by state.", []string{"state"}, nil)
)

// fleetCollector reads the store at scrape time so every status server
// exports the same fleet-wide view, whichever worker it runs on.
type fleetCollector struct {
	source       StatusSource
	simulationID int64
	logger       *slog.Logger
}

func (c *fleetCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{configurationsDesc, chunksDesc, estimatesDesc, depthDesc, vortexJobsDesc, workersDesc} {
		ch <- d
	}
}

func (c *fleetCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	p, err := c.source.Progress(ctx, c.simulationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		c.logger.Warn("collect progress", "simulation_id", c.simulationID, "error", err)
	default:
		gauge(ch, configurationsDesc, p.Configurations, "total")
		gauge(ch, configurationsDesc, p.Complete, "complete")
		gauge(ch, configurationsDesc, p.Leased, "leased")
		gauge(ch, chunksDesc, p.Chunks)
		gauge(ch, estimatesDesc, p.Estimates)
		gauge(ch, depthDesc, p.MaxDepth)
		gauge(ch, vortexJobsDesc, p.VortexJobs, "total")
		gauge(ch, vortexJobsDesc, p.VortexDone, "done")
	}

	workers, err := c.source.ListWorkers(ctx)
	if err != nil {
		c.logger.Warn("collect workers", "error", err)
		return
	}
	var live, stale, waiting, finished int
	for _, w := range workers {
		if !w.Live {
			stale++
			continue
		}
		live++
		if w.Synchronize {
			waiting++
		}
		if w.Finished {
			finished++
		}
	}
	gauge(ch, workersDesc, live, "live")
	gauge(ch, workersDesc, stale, "stale")
	gauge(ch, workersDesc, waiting, "waiting")
	gauge(ch, workersDesc, finished, "finished")
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v int, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
}

// metricsHandler serves the process metrics together with the fleet view.
func (s *Server) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&fleetCollector{source: s.source, simulationID: s.simulationID, logger: s.logger})
	return promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{})
}
