// Package metrics exports core.MetricsRecorder observations to Prometheus.
package metrics

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "eventhooks"

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// PrometheusRecorder lazily registers one vector per metric name. The label
// set of a metric is fixed by its first observation; later tags outside that
// set are dropped and missing ones are reported as empty.
type PrometheusRecorder struct {
	namespace  string
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	labels []string
	metric T
}

type Option func(*PrometheusRecorder)

func WithNamespace(namespace string) Option {
	return func(r *PrometheusRecorder) {
		if ns := sanitize(namespace); ns != "" {
			r.namespace = ns
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *PrometheusRecorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func NewPrometheusRecorder(registerer prometheus.Registerer, opts ...Option) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		namespace:  DefaultNamespace,
		registerer: registerer,
		buckets:    defaultBuckets,
		counters:   map[string]*vec[*prometheus.CounterVec]{},
		histograms: map[string]*vec[*prometheus.HistogramVec]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	metricName := r.metricName(name)
	if metricName == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[metricName]
	if !ok {
		labels := labelNames(tags)
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName,
			Help: "eventhooks counter " + name,
		}, labels)
		entry = &vec[*prometheus.CounterVec]{labels: labels, metric: register(r.registerer, counter)}
		r.counters[metricName] = entry
	}
	r.mu.Unlock()
	entry.metric.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	metricName := r.metricName(name)
	if metricName == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.histograms[metricName]
	if !ok {
		labels := labelNames(tags)
		histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName,
			Help:    "eventhooks histogram " + name,
			Buckets: r.buckets,
		}, labels)
		entry = &vec[*prometheus.HistogramVec]{labels: labels, metric: register(r.registerer, histogram)}
		r.histograms[metricName] = entry
	}
	r.mu.Unlock()
	entry.metric.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func (r *PrometheusRecorder) metricName(name string) string {
	name = sanitize(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, r.namespace+"_") {
		return name
	}
	return r.namespace + "_" + name
}

// register returns the already registered collector when another recorder
// sharing the registerer created it first.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		if label := sanitize(key); label != "" {
			names = append(names, label)
		}
	}
	sort.Strings(names)
	return dedupe(names)
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for key, value := range tags {
		byLabel[sanitize(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = byLabel[label]
	}
	return values
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, name := range sorted {
		if i > 0 && sorted[i-1] == name {
			continue
		}
		out = append(out, name)
	}
	return out
}

func sanitize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
