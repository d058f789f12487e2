package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "printdesk"

// Collector holds the service metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge

	jobsCreated     *prometheus.CounterVec
	jobTransitions  *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	ledgerOps       *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	c.activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of in-flight HTTP requests",
	})

	c.jobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Print jobs created, by status at creation",
		},
		[]string{"status"},
	)

	c.jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions applied from printer reports",
		},
		[]string{"status"},
	)

	c.publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Print commands that could not be published",
		},
		[]string{"reason"},
	)

	c.ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger debits and credits by outcome",
		},
		[]string{"op", "result"},
	)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.activeConnections,
		c.jobsCreated,
		c.jobTransitions,
		c.publishFailures,
		c.ledgerOps,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// TrackBroker exports the broker link state as a gauge read at scrape time.
func (c *Collector) TrackBroker(connected func() bool) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 when the printer broker link is up",
		},
		func() float64 {
			if connected() {
				return 1
			}
			return 0
		},
	))
}

func (c *Collector) ObserveJobCreated(status string) {
	c.jobsCreated.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveJobTransition(status string) {
	c.jobTransitions.WithLabelValues(status).Inc()
}

func (c *Collector) ObservePublishFailure(reason string) {
	c.publishFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveLedger(op, result string) {
	c.ledgerOps.WithLabelValues(op, result).Inc()
}

// Middleware records request counts and latency per route.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		c.activeConnections.Inc()
		defer c.activeConnections.Dec()

		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := ctx.Request.Method

		c.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return func(ctx *gin.Context) {
		handler.ServeHTTP(ctx.Writer, ctx.Request)
	}
}
