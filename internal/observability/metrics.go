package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the ingest API and the
// dispatch worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	jobsEnqueuedTotal   *prometheus.CounterVec
	jobsSentTotal       *prometheus.CounterVec
	jobsFailedTotal     *prometheus.CounterVec
	retryScheduledTotal *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	dispatchBatchSize   prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_outbox",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_outbox",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_outbox",
				Name:      "jobs_enqueued_total",
				Help:      "Total number of notification jobs persisted, by event type.",
			},
			[]string{"event_type"},
		),
		jobsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_outbox",
				Name:      "jobs_sent_total",
				Help:      "Total number of jobs delivered successfully, by provider.",
			},
			[]string{"provider"},
		),
		jobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_outbox",
				Name:      "jobs_failed_total",
				Help:      "Total number of jobs that reached the FAILED state, by provider.",
			},
			[]string{"provider"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_outbox",
				Name:      "retry_scheduled_total",
				Help:      "Total number of failed attempts that scheduled a retry, by provider.",
			},
			[]string{"provider"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_outbox",
				Name:      "send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		dispatchBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "notify_outbox",
				Name:      "dispatch_batch_size",
				Help:      "Number of dispatchable jobs picked up per worker tick.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50},
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsEnqueuedTotal,
		m.jobsSentTotal,
		m.jobsFailedTotal,
		m.retryScheduledTotal,
		m.sendDuration,
		m.dispatchBatchSize,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncJobEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.jobsEnqueuedTotal.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) IncJobSent(provider string) {
	if m == nil {
		return
	}
	m.jobsSentTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncJobFailed(provider string) {
	if m == nil {
		return
	}
	m.jobsFailedTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncRetryScheduled(provider string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) ObserveSendDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) ObserveDispatchBatchSize(size int) {
	if m == nil {
		return
	}
	m.dispatchBatchSize.Observe(float64(size))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	label := strings.ToLower(strings.TrimSpace(value))
	if label == "" {
		return "unknown"
	}
	return label
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}
	return c.Response().StatusCode()
}
