// Package metrics keeps in-process counters and timings for CLI calls and
// exposes them as JSON snapshots. Nothing is persisted.
package metrics

import (
	"slices"
	"sync"
	"time"
)

// Manager holds all metrics, keyed by "topic/name" path.
type Manager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	counters    map[string]*CounterMetric
	successFail map[string]*SuccessFailMetric
	outcomes    map[string]*OutcomeMetric
}

var (
	instance *Manager
	once     sync.Once
)

// New creates an empty manager. Most code uses GetInstance.
func New() *Manager {
	return &Manager{
		timings:     make(map[string]*TimingMetric),
		counters:    make(map[string]*CounterMetric),
		successFail: make(map[string]*SuccessFailMetric),
		outcomes:    make(map[string]*OutcomeMetric),
	}
}

// GetInstance returns the process-wide manager
func GetInstance() *Manager {
	once.Do(func() {
		instance = New()
	})
	return instance
}

func metricPath(topic, name string) string {
	if name == "" {
		return topic
	}
	return topic + "/" + name
}

// lookup returns the metric at path, creating it under the manager lock.
func lookup[T any](m *Manager, table map[string]*T, path string, create func() *T) *T {
	m.mu.RLock()
	metric, ok := table[path]
	m.mu.RUnlock()
	if ok {
		return metric
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if metric, ok = table[path]; !ok {
		metric = create()
		table[path] = metric
	}
	return metric
}

// RecordDuration adds one timing sample.
func (m *Manager) RecordDuration(topic, name string, d time.Duration) {
	lookup(m, m.timings, metricPath(topic, name), newTiming).add(d)
}

// IncrementCounter adds one to a counter.
func (m *Manager) IncrementCounter(topic, name string) {
	m.AddCounter(topic, name, 1)
}

// AddCounter adds delta to a counter.
func (m *Manager) AddCounter(topic, name string, delta int64) {
	c := lookup(m, m.counters, metricPath(topic, name), func() *CounterMetric { return &CounterMetric{} })
	c.mu.Lock()
	c.Value += delta
	c.Updated = time.Now()
	c.mu.Unlock()
}

// RecordSuccess counts a successful operation.
func (m *Manager) RecordSuccess(topic, name string) {
	lookup(m, m.successFail, metricPath(topic, name), newSuccessFail).record(true, "")
}

// RecordFailure counts a failed operation. An empty reason is not tallied.
func (m *Manager) RecordFailure(topic, name, reason string) {
	lookup(m, m.successFail, metricPath(topic, name), newSuccessFail).record(false, reason)
}

// RecordOutcome tallies one occurrence of outcome.
func (m *Manager) RecordOutcome(topic, name, outcome string) {
	o := lookup(m, m.outcomes, metricPath(topic, name), newOutcome)
	o.mu.Lock()
	o.Outcomes[outcome]++
	o.Total++
	o.LastOutcome = outcome
	o.Updated = time.Now()
	o.mu.Unlock()
}

// GetSnapshot returns a detached copy of every metric keyed by path.
func (m *Manager) GetSnapshot() map[string]*MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*MetricSnapshot, len(m.timings)+len(m.counters)+len(m.successFail)+len(m.outcomes))
	for path, t := range m.timings {
		out[path] = t.snapshot(path)
	}
	for path, c := range m.counters {
		out[path] = c.snapshot(path)
	}
	for path, s := range m.successFail {
		out[path] = s.snapshot(path)
	}
	for path, o := range m.outcomes {
		out[path] = o.snapshot(path)
	}
	return out
}

// percentile returns the pth percentile of samples in milliseconds.
func percentile(samples []time.Duration, p int) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	idx := min(len(sorted)*p/100, len(sorted)-1)
	return ms(sorted[idx])
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Gemini calls routinely take tens of seconds.
func latencyHealth(avgMs float64) HealthStatus {
	switch {
	case avgMs > 60_000:
		return HealthCritical
	case avgMs > 20_000:
		return HealthWarning
	default:
		return HealthGood
	}
}

// rateHealth judges a success rate (0-100). Upstream models fail far more
// often than local code, so the bar is low.
func rateHealth(rate float64) HealthStatus {
	switch {
	case rate >= 90:
		return HealthGood
	case rate >= 50:
		return HealthWarning
	default:
		return HealthCritical
	}
}
