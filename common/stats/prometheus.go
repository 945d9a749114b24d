package stats

import (
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// PrometheusCollector exposes every instrument of a StatsReceiver to a
// prometheus registry. Names are flattened with '_' and prefixed with namespace.
// Latencies are exported as summaries in seconds.
type PrometheusCollector struct {
	namespace string
	stat      StatsReceiver
}

func NewPrometheusCollector(namespace string, stat StatsReceiver) *PrometheusCollector {
	return &PrometheusCollector{namespace: namespace, stat: stat}
}

// Describe sends nothing, which makes this an unchecked collector: the set
// of instruments grows as components scope new names.
func (c *PrometheusCollector) Describe(chan<- *prometheus.Desc) {}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c.stat.Each(func(name string, i interface{}) {
		fq := c.metricName(name)
		switch m := i.(type) {
		case Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fq, name, nil, nil), prometheus.CounterValue, float64(m.Count()))
		case Gauge:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fq, name, nil, nil), prometheus.GaugeValue, float64(m.Value()))
		case GaugeFloat:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(fq, name, nil, nil), prometheus.GaugeValue, m.Value())
		case Latency:
			snap := m.Capture()
			quantiles := map[float64]float64{}
			for i, v := range snap.Percentiles(defaultPercentiles) {
				quantiles[defaultPercentiles[i]] = v / float64(time.Second)
			}
			ch <- prometheus.MustNewConstSummary(
				prometheus.NewDesc(fq+"_seconds", name, nil, nil),
				uint64(snap.Count()), float64(snap.Sum())/float64(time.Second), quantiles)
		}
	})
}

func (c *PrometheusCollector) metricName(name string) string {
	name = strings.TrimSuffix(name, "_ms")
	flat := invalidMetricChars.ReplaceAllString(strings.Replace(name, "/", "_", -1), "_")
	if c.namespace == "" {
		return flat
	}
	return c.namespace + "_" + flat
}
