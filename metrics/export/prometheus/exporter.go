package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicsetu/civicauth"
)

const namespace = "civicauth"

// Upper bounds of the engine's latency buckets, in seconds. The last
// engine bucket is open-ended and maps to +Inf.
var latencyBounds = []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500}

// MetricsSource is the slice of the engine the collector reads.
type MetricsSource interface {
	MetricsSnapshot() civicauth.MetricsSnapshot
	AuditDropped() uint64
}

// Collector renders engine counters as Prometheus const metrics. Each
// scrape takes a fresh snapshot, so no state is held between scrapes.
type Collector struct {
	source       MetricsSource
	auditDropped *prometheus.Desc
	latency      *prometheus.Desc
}

// NewCollector wraps the engine for scraping.
func NewCollector(engine *civicauth.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource wraps a custom [MetricsSource], useful when
// the engine is behind another layer.
func NewCollectorFromSource(source MetricsSource) *Collector {
	return &Collector{
		source: source,
		auditDropped: prometheus.NewDesc(
			namespace+"_audit_dropped_total",
			"Audit events dropped because the dispatcher buffer was full.",
			nil, nil,
		),
		latency: prometheus.NewDesc(
			namespace+"_validate_latency_seconds",
			"Session validation latency.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector. It sends nothing, leaving
// the collector unchecked: the counter descriptors depend on the
// snapshot taken at scrape time.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.MetricsSnapshot()

	for id, value := range snap.Counters {
		name := civicauth.MetricName(id)
		if name == "" {
			continue
		}
		desc := prometheus.NewDesc(
			namespace+"_"+name+"_total",
			"Engine counter "+name+".",
			nil, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value))
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))

	for id, buckets := range snap.Histograms {
		if id != civicauth.MetricValidateLatency {
			continue
		}
		ch <- prometheus.MustNewConstHistogram(c.latency, histCount(buckets), 0, cumulative(buckets))
	}
}

// Handler builds a registry holding only this collector and returns a
// scrape handler for it.
func Handler(engine *civicauth.Engine) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(engine))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func histCount(buckets []uint64) uint64 {
	var total uint64
	for _, b := range buckets {
		total += b
	}
	return total
}

// cumulative converts the engine's per-bucket counts into the
// cumulative upper-bound form const histograms expect. Samples in the
// open-ended last bucket are covered by the implicit +Inf count.
func cumulative(buckets []uint64) map[float64]uint64 {
	out := make(map[float64]uint64, len(latencyBounds))
	var running uint64
	for i, bound := range latencyBounds {
		if i < len(buckets) {
			running += buckets[i]
		}
		out[bound] = running
	}
	return out
}
