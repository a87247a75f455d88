// Package metrics exposes broadcast counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "castbot"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry

	broadcasts *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	rejections *prometheus.CounterVec
	active     prometheus.Gauge
	duration   prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Admitted broadcasts by terminal state.",
		}, []string{"state"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient deliveries by result.",
		}, []string{"result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Rejected broadcast requests by reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcasts_active",
			Help:      "Broadcasts currently running.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of admitted broadcasts.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	c.reg.MustRegister(
		c.broadcasts, c.deliveries, c.rejections, c.active, c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func (c *Collector) Rejected(reason string) { c.rejections.WithLabelValues(reason).Inc() }

func (c *Collector) Started() { c.active.Inc() }

func (c *Collector) Delivered(sent, failed int) {
	if sent > 0 {
		c.deliveries.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		c.deliveries.WithLabelValues("failed").Add(float64(failed))
	}
}

func (c *Collector) Finished(state string, took time.Duration) {
	c.active.Dec()
	c.broadcasts.WithLabelValues(state).Inc()
	c.duration.Observe(took.Seconds())
}
