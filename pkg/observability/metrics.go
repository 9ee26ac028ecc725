package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluffypony/universe/pkg/audit"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	ServiceVersion string

	// Namespace prefixes every metric (default: tari_mcp)
	Namespace string
	// MetricsPath is the HTTP path of the scrape endpoint (default: /metrics)
	MetricsPath string
	// HistogramBuckets are latency buckets in milliseconds
	HistogramBuckets []float64
	// ProcessCollectors adds the Go runtime and process collectors
	ProcessCollectors bool
}

// Metrics holds every Prometheus collector of the server. Collectors are
// registered on a private registry, so several instances can coexist in
// one process. All methods are safe on a nil receiver.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	toolCalls       *prometheus.HistogramVec
	resourceReads   *prometheus.HistogramVec
	gateDenials     *prometheus.CounterVec

	auditAppends  *prometheus.CounterVec
	auditFailures prometheus.Counter

	activeConnections   prometheus.Gauge
	rejectedConnections *prometheus.CounterVec
	rateLimited         prometheus.Counter

	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter
	streamClients   prometheus.Gauge
}

// NewMetrics creates and registers the server's collectors
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "tari_mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}
	}

	m := &Metrics{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	m.initializeMetrics()

	if err := m.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initializeMetrics() {
	ns := m.config.Namespace
	constLabels := prometheus.Labels{}
	if m.config.ServiceVersion != "" {
		constLabels["version"] = m.config.ServiceVersion
	}

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "request_duration_milliseconds",
			Help:        "Duration of MCP requests in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "outcome"},
	)

	m.requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "requests_total",
			Help:        "MCP requests by method, outcome and the lifecycle stage they ended in",
			ConstLabels: constLabels,
		},
		[]string{"method", "outcome", "stage"},
	)

	m.toolCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "tool_call_duration_milliseconds",
			Help:        "Duration of tool calls in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"tool", "outcome"},
	)

	m.resourceReads = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "resource_read_duration_milliseconds",
			Help:        "Duration of resource reads in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"resource", "outcome"},
	)

	m.gateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "gate_denials_total",
			Help:        "Requests denied by the permission gate",
			ConstLabels: constLabels,
		},
		[]string{"reason"},
	)

	m.auditAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "audit",
			Name:        "records_total",
			Help:        "Audit records appended",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	m.auditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "audit",
			Name:        "sink_failures_total",
			Help:        "Audit sink write failures",
			ConstLabels: constLabels,
		},
	)

	m.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "active_connections",
			Help:        "Number of active agent connections",
			ConstLabels: constLabels,
		},
	)

	m.rejectedConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "rejected_connections_total",
			Help:        "Connections closed before serving",
			ConstLabels: constLabels,
		},
		[]string{"reason"},
	)

	m.rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "rate_limited_requests_total",
			Help:        "Requests refused by the per-connection rate limit",
			ConstLabels: constLabels,
		},
	)

	m.eventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "events",
			Name:        "published_total",
			Help:        "Events published on the event bus",
			ConstLabels: constLabels,
		},
	)

	m.eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "events",
			Name:        "dropped_total",
			Help:        "Event deliveries dropped because a subscriber was slow",
			ConstLabels: constLabels,
		},
	)

	m.streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "events",
			Name:        "stream_clients",
			Help:        "Connected event stream clients",
			ConstLabels: constLabels,
		},
	)
}

func (m *Metrics) registerMetrics() error {
	cs := []prometheus.Collector{
		m.requestDuration,
		m.requestTotal,
		m.toolCalls,
		m.resourceReads,
		m.gateDenials,
		m.auditAppends,
		m.auditFailures,
		m.activeConnections,
		m.rejectedConnections,
		m.rateLimited,
		m.eventsPublished,
		m.eventsDropped,
		m.streamClients,
	}
	if m.config.ProcessCollectors {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRequest records a completed request
func (m *Metrics) RecordRequest(method, outcome, stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, outcome).Observe(ms(duration))
	m.requestTotal.WithLabelValues(method, outcome, stage).Inc()
}

// RecordToolCall records a tool invocation
func (m *Metrics) RecordToolCall(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Observe(ms(duration))
}

// RecordResourceRead records a resource read
func (m *Metrics) RecordResourceRead(resource, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resourceReads.WithLabelValues(resource, outcome).Observe(ms(duration))
}

// RecordGateDenial counts a gate denial
func (m *Metrics) RecordGateDenial(reason string) {
	if m == nil {
		return
	}
	m.gateDenials.WithLabelValues(reason).Inc()
}

// AuditAppended implements audit.Observer
func (m *Metrics) AuditAppended(outcome audit.Outcome) {
	if m == nil {
		return
	}
	m.auditAppends.WithLabelValues(string(outcome)).Inc()
}

// AuditFailed implements audit.Observer
func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// RecordActiveConnections adjusts the active connection gauge by delta
func (m *Metrics) RecordActiveConnections(delta int) {
	if m == nil {
		return
	}
	m.activeConnections.Add(float64(delta))
}

// RecordRejectedConnection counts a connection closed before serving
func (m *Metrics) RecordRejectedConnection(reason string) {
	if m == nil {
		return
	}
	m.rejectedConnections.WithLabelValues(reason).Inc()
}

// RecordRateLimited counts a request refused by the rate limit
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordEventPublished counts a published event
func (m *Metrics) RecordEventPublished() {
	if m == nil {
		return
	}
	m.eventsPublished.Inc()
}

// RecordEventDropped counts a dropped delivery
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// RecordStreamClients adjusts the stream client gauge by delta
func (m *Metrics) RecordStreamClients(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

// Handler serves the scrape endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes the scrape endpoint on l until ctx is done
func (m *Metrics) Serve(ctx context.Context, l net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
