// Package stats provides a small set of metric instruments backed by
// go-metrics. A StatsReceiver is passed down a call tree and scoped at each
// level, so a component never needs to know where its numbers are exported.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// For testing.
var Time StatsTime = DefaultStatsTime()

// Overridable instrument creation.
var NewCounter func() Counter = newMetricCounter
var NewGauge func() Gauge = newMetricGauge
var NewGaugeFloat func() GaugeFloat = newMetricGaugeFloat
var NewLatency func() Latency = newLatency

//
// A registry wrapper for metrics collected about the resource manager.
//
// Hierarchical names are stored using a '/' path separator. Slashes inside a
// single name element are replaced by "_SLASH_" rather than rejected, since
// some names are built at runtime (node source names, for instance).
//
type StatsReceiver interface {
	// Return a stats receiver that will automatically namespace elements with
	// the given scope args.
	//
	//   statsReceiver.Scope("foo", "bar").Counter("baz")  // is equivalent to
	//   statsReceiver.Counter("foo", "bar", "baz")
	//
	Scope(scope ...string) StatsReceiver

	// Provides an event counter
	Counter(name ...string) Counter

	// Records durations. Rendered in milliseconds.
	Latency(name ...string) Latency

	// Add a gauge, which holds an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// Add a gauge, which holds a float64 value that can be set arbitrarily.
	GaugeFloat(name ...string) GaugeFloat

	// Removes the given named stats item if it exists
	Remove(name ...string)

	// Calls fn for every registered instrument, with its full name.
	Each(fn func(name string, instrument interface{}))

	// Construct a JSON string by marshaling the registry.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver returns a receiver over a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), NewCounter()).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), NewGauge()).(Gauge)
}

func (s *defaultStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	return s.registry.GetOrRegister(s.scopedName(name...), NewGaugeFloat()).(GaugeFloat)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return s.registry.GetOrRegister(s.scopedName(name...), NewLatency()).(Latency)
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Each(fn func(string, interface{})) {
	s.registry.Each(fn)
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	data := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case Counter:
			data[name] = m.Count()
		case Gauge:
			data[name] = m.Value()
		case GaugeFloat:
			data[name] = m.Value()
		case Latency:
			snap := m.Capture()
			data[name+".count"] = snap.Count()
			data[name+".avg_ms"] = snap.Mean() / float64(time.Millisecond)
			data[name+".max_ms"] = snap.Max() / int64(time.Millisecond)
			for i, p := range snap.Percentiles(defaultPercentiles) {
				data[name+"."+defaultPercentileLabels[i]+"_ms"] = p / float64(time.Millisecond)
			}
		default:
			log.Info("Unrecognized marshal instrument: ", name, i)
		}
	})

	var err error
	var bytes []byte
	if pretty {
		bytes, err = json.MarshalIndent(data, "", "  ")
	} else {
		bytes, err = json.Marshal(data)
	}
	if err != nil {
		panic("StatsRegistry bug, cannot be marshaled")
	}
	return bytes
}

// Append to existing scope and scrub slashes
func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	out := make([]string, 0, len(s.scope)+len(scope))
	out = append(out, s.scope...)
	for _, e := range scope {
		out = append(out, strings.Replace(e, "/", "_SLASH_", -1))
	}
	return out
}

// Append to the existing scope and convert to slash-delimited string.
func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

//
// NilStats ignores all stats operations.
//
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter {
	return &metricCounter{metrics.NilCounter{}}
}
func (s *nilStatsReceiver) Gauge(name ...string) Gauge {
	return &metricGauge{metrics.NilGauge{}}
}
func (s *nilStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	return &metricGaugeFloat{metrics.NilGaugeFloat64{}}
}
func (s *nilStatsReceiver) Latency(name ...string) Latency { return &nilLatency{} }
func (s *nilStatsReceiver) Remove(name ...string)          {}
func (s *nilStatsReceiver) Each(func(string, interface{})) {}
func (s *nilStatsReceiver) Render(pretty bool) []byte      { return []byte("{}") }

//
// Minimally mirror go-metrics instruments.
//
// Counter
type Counter interface {
	Count() int64
	Inc(int64)
	Update(int64)
}
type metricCounter struct{ metrics.Counter }

func (m *metricCounter) Update(i int64) { m.Inc(i - m.Count()) }
func newMetricCounter() Counter         { return &metricCounter{metrics.NewCounter()} }

// Gauge
type Gauge interface {
	Update(int64)
	Value() int64
}
type metricGauge struct{ metrics.Gauge }

func newMetricGauge() Gauge { return &metricGauge{metrics.NewGauge()} }

// GaugeFloat
type GaugeFloat interface {
	Update(float64)
	Value() float64
}
type metricGaugeFloat struct{ metrics.GaugeFloat64 }

func newMetricGaugeFloat() GaugeFloat { return &metricGaugeFloat{metrics.NewGaugeFloat64()} }

// Viewable histogram of recorded nanoseconds.
type HistogramView interface {
	Mean() float64
	Count() int64
	Max() int64
	Min() int64
	Sum() int64
	Percentiles(ps []float64) []float64
}

// Latency records how long a call site took. Time() starts a measurement and
// returns a handle whose Stop() records it, so concurrent callers can share
// one instrument:
//
//	defer stat.Latency(ManagerSelectLatency_ms).Time().Stop()
type Latency interface {
	Capture() HistogramView
	Time() Timer
	Record(time.Duration)
}

type Timer interface {
	Stop()
}

type metricLatency struct{ metrics.Histogram }

type latencyTimer struct {
	l     *metricLatency
	start time.Time
}

func (l *metricLatency) Time() Timer            { return &latencyTimer{l, Time.Now()} }
func (l *metricLatency) Record(d time.Duration) { l.Update(d.Nanoseconds()) }
func (l *metricLatency) Capture() HistogramView { return l.Snapshot() }
func (t *latencyTimer) Stop()                   { t.l.Record(Time.Since(t.start)) }

func newLatency() Latency {
	return &metricLatency{metrics.NewHistogram(metrics.NewUniformSample(1000))}
}

type nilLatency struct{}
type nilTimer struct{}

func (l *nilLatency) Time() Timer            { return nilTimer{} }
func (l *nilLatency) Record(time.Duration)   {}
func (l *nilLatency) Capture() HistogramView { return metrics.NilHistogram{} }
func (nilTimer) Stop()                       {}

var defaultPercentiles = []float64{0.5, 0.9, 0.99}
var defaultPercentileLabels = []string{"p50", "p90", "p99"}
