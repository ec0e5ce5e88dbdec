// Package prommetrics adapts statsd-style metric calls to Prometheus collectors.
package prommetrics

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/target/aggregation-worker/internal/observability/statsd"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "aggregation_worker"

var durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

// Sink registers a collector per metric name the first time it is used. Counts become
// counters, gauges become gauges and timings become histograms in seconds. The label set of
// a metric is fixed by its first emission; later calls with different tag keys are dropped.
type Sink struct {
	namespace string
	registry  *prometheus.Registry
	logger    *slog.Logger

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	labels []string
	v      T
}

var _ statsd.Sink = (*Sink)(nil)

// Options configures a Sink.
type Options struct {
	Namespace string
	Logger    *slog.Logger
	// IncludeRuntime registers the Go runtime and process collectors.
	IncludeRuntime bool
}

// NewSink creates a Sink with its own registry.
func NewSink(opts Options) *Sink {
	ns := strings.TrimSpace(opts.Namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	if opts.IncludeRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &Sink{
		namespace:  sanitizeName(ns),
		registry:   reg,
		logger:     logger,
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Count implements statsd.Sink.
func (s *Sink) Count(name string, value int64, tags map[string]string) {
	if s == nil || value < 0 {
		return
	}
	labels, values := split(tags)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      sanitizeName(name) + "_total",
			Help:      "Count of " + name + " events.",
		}, labels)
		if !s.register(name, cv) {
			return
		}
		c = &vec[*prometheus.CounterVec]{labels: labels, v: cv}
		s.counters[name] = c
	}
	if !sameLabels(c.labels, labels) {
		return
	}
	c.v.WithLabelValues(values...).Add(float64(value))
}

// Gauge implements statsd.Sink.
func (s *Sink) Gauge(name string, value float64, tags map[string]string) {
	if s == nil {
		return
	}
	labels, values := split(tags)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gauges[name]
	if !ok {
		gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      sanitizeName(name),
			Help:      "Current value of " + name + ".",
		}, labels)
		if !s.register(name, gv) {
			return
		}
		g = &vec[*prometheus.GaugeVec]{labels: labels, v: gv}
		s.gauges[name] = g
	}
	if !sameLabels(g.labels, labels) {
		return
	}
	g.v.WithLabelValues(values...).Set(value)
}

// Timing implements statsd.Sink.
func (s *Sink) Timing(name string, value time.Duration, tags map[string]string) {
	if s == nil {
		return
	}
	labels, values := split(tags)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histograms[name]
	if !ok {
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      sanitizeName(name) + "_seconds",
			Help:      "Duration of " + name + ".",
			Buckets:   durationBuckets,
		}, labels)
		if !s.register(name, hv) {
			return
		}
		h = &vec[*prometheus.HistogramVec]{labels: labels, v: hv}
		s.histograms[name] = h
	}
	if !sameLabels(h.labels, labels) {
		return
	}
	h.v.WithLabelValues(values...).Observe(value.Seconds())
}

func (s *Sink) register(name string, c prometheus.Collector) bool {
	if err := s.registry.Register(c); err != nil {
		s.logger.Warn("prometheus register failed", "metric", name, "error", err)
		return false
	}
	return true
}

func split(tags map[string]string) ([]string, []string) {
	labels := make([]string, 0, len(tags))
	for k := range tags {
		if k = strings.TrimSpace(k); k != "" {
			labels = append(labels, k)
		}
	}
	sort.Strings(labels)
	values := make([]string, len(labels))
	for i, k := range labels {
		values[i] = tags[k]
	}
	for i := range labels {
		labels[i] = sanitizeName(labels[i])
	}
	return labels, values
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
