// Package stats provides a set of minimal instruments which both build on and
// are by default backed by go-metrics. We wrap go-metrics so callers get a
// StatsReceiver that can be passed down a call tree and scoped at each level,
// without leaking our metrics dependency to anyone importing this as a library.
package stats

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// Counter is a monotonically increasing event count.
type Counter interface {
	Inc(int64)
	Count() int64
}

// Gauge holds an int64 value that can be set arbitrarily.
type Gauge interface {
	Update(int64)
	Value() int64
}

// Latency records durations into a histogram.
type Latency interface {
	// Time starts a measurement, the returned func stops it.
	Time() func()
	Record(time.Duration)
	Percentile(float64) float64
}

// StatsReceiver is a registry scope that hands out instruments.
type StatsReceiver interface {
	// Scope returns a receiver that namespaces elements with the given args.
	//
	//   statsReceiver.Scope("foo", "bar").Counter("baz") // == Counter("foo/bar/baz")
	//
	Scope(scope ...string) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	Latency(name ...string) Latency

	// Remove drops the named instrument if it exists.
	Remove(name ...string)

	// Render marshals the current instrument values as JSON.
	Render() []byte
}

// Hierarchical names are stored with a '/' separator; any '/' inside a name
// element is replaced rather than rejected, since some names are dynamically
// generated from error strings.
func scopedName(scope []string, name []string) string {
	elems := []string{}
	for _, s := range append(append([]string{}, scope...), name...) {
		elems = append(elems, strings.Replace(s, "/", "_SLASH_", -1))
	}
	return strings.Join(elems, "/")
}

// DefaultStatsReceiver returns a receiver backed by its own go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

type defaultStatsReceiver struct {
	mu       sync.Mutex
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(scopedName(s.scope, name), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.registry.GetOrRegister(scopedName(s.scope, name), metrics.NewGauge).(metrics.Gauge)
	return &metricGauge{g}
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.registry.GetOrRegister(scopedName(s.scope, name), func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))
	}).(metrics.Histogram)
	return &metricLatency{h}
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.Unregister(scopedName(s.scope, name))
}

func (s *defaultStatsReceiver) Render() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]interface{}{}
	s.registry.Each(func(name string, instrument interface{}) {
		switch i := instrument.(type) {
		case metrics.Counter:
			out[name] = i.Count()
		case metrics.Gauge:
			out[name] = i.Value()
		case metrics.Histogram:
			out[name] = i.Percentile(0.5)
		}
	})
	b, err := json.Marshal(out)
	if err != nil {
		return []byte("{}")
	}
	return b
}

type metricGauge struct {
	g metrics.Gauge
}

func (m *metricGauge) Update(v int64) { m.g.Update(v) }
func (m *metricGauge) Value() int64 { return m.g.Value() }

type metricLatency struct {
	h metrics.Histogram
}

func (m *metricLatency) Time() func() {
	start := time.Now()
	return func() { m.h.Update(int64(time.Since(start))) }
}
func (m *metricLatency) Record(d time.Duration) { m.h.Update(int64(d)) }
func (m *metricLatency) Percentile(p float64) float64 { return m.h.Percentile(p) }

// NilStatsReceiver returns a receiver whose instruments all discard input.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s nilStatsReceiver) Counter(name ...string) Counter { return nilCounter{} }
func (s nilStatsReceiver) Gauge(name ...string) Gauge { return nilGauge{} }
func (s nilStatsReceiver) Latency(name ...string) Latency { return nilLatency{} }
func (s nilStatsReceiver) Remove(name ...string) {}
func (s nilStatsReceiver) Render() []byte { return []byte("{}") }

type nilCounter struct{}

func (nilCounter) Inc(int64) {}
func (nilCounter) Count() int64 { return 0 }

type nilGauge struct{}

func (nilGauge) Update(int64) {}
func (nilGauge) Value() int64 { return 0 }

type nilLatency struct{}

func (nilLatency) Time() func() { return func() {} }
func (nilLatency) Record(time.Duration) {}
func (nilLatency) Percentile(float64) float64 { return 0 }
