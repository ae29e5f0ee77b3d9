package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reporter is implemented by every store that exposes status counters.
type Reporter interface {
	Name() string
	GenCount() int
	SnapCount() int64
	Count() int
}

// StatusCollector is a prometheus.Collector that reads the status counters
// of its reporters on every scrape.
type StatusCollector struct {
	reporters []Reporter
	gens      *prometheus.Desc
	snaps     *prometheus.Desc
	nodes     *prometheus.Desc
}

// NewStatusCollector returns a collector for the given reporters.
func NewStatusCollector(reporters ...Reporter) *StatusCollector {
	labels := []string{"store"}
	return &StatusCollector{
		reporters: reporters,
		gens: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, storeSubsystem, "generations"),
			"Number of generation objects waiting for collection",
			labels, nil,
		),
		snaps: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, storeSubsystem, "snapshots"),
			"Number of live snapshots",
			labels, nil,
		),
		nodes: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, storeSubsystem, "entries"),
			"Number of keys held, tombstones included",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gens
	ch <- c.snaps
	ch <- c.nodes
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, r := range c.reporters {
		name := r.Name()
		ch <- prometheus.MustNewConstMetric(c.gens, prometheus.GaugeValue, float64(r.GenCount()), name)
		ch <- prometheus.MustNewConstMetric(c.snaps, prometheus.GaugeValue, float64(r.SnapCount()), name)
		ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(r.Count()), name)
	}
}
