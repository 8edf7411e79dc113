package metrics

import (
	"maps"
	"sync"
	"time"
)

// MetricType names the kind of metric in a snapshot.
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeCounter     MetricType = "counter"
	TypeSuccessFail MetricType = "success_fail"
	TypeOutcome     MetricType = "outcome"
)

// HealthStatus represents the health of a metric
type HealthStatus int

const (
	HealthGood     HealthStatus = iota // Green
	HealthWarning                      // Yellow
	HealthCritical                     // Red
)

func (h HealthStatus) String() string {
	switch h {
	case HealthWarning:
		return "warning"
	case HealthCritical:
		return "critical"
	default:
		return "good"
	}
}

// MarshalText renders health by name in JSON snapshots.
func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

const (
	maxSamples = 1000 // samples kept for percentiles
	windowLen  = 100  // operations in the recent success window
)

// TimingMetric tracks durations of one operation.
type TimingMetric struct {
	mu      sync.RWMutex
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	Last    time.Duration
	samples []time.Duration // ring buffer
	next    int
}

func newTiming() *TimingMetric {
	return &TimingMetric{samples: make([]time.Duration, 0, 16)}
}

func (t *TimingMetric) add(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Count == 0 || d < t.Min {
		t.Min = d
	}
	if d > t.Max {
		t.Max = d
	}
	t.Count++
	t.Total += d
	t.Last = d

	if len(t.samples) < maxSamples {
		t.samples = append(t.samples, d)
		return
	}
	t.samples[t.next] = d
	t.next = (t.next + 1) % maxSamples
}

func (t *TimingMetric) snapshot(path string) *MetricSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var avg float64
	if t.Count > 0 {
		avg = ms(t.Total) / float64(t.Count)
	}
	return &MetricSnapshot{
		Path:   path,
		Type:   TypeTiming,
		Health: latencyHealth(avg),
		Data: TimingSnapshot{
			Count:  t.Count,
			AvgMs:  avg,
			MinMs:  ms(t.Min),
			MaxMs:  ms(t.Max),
			LastMs: ms(t.Last),
			P95Ms:  percentile(t.samples, 95),
		},
	}
}

// CounterMetric is a running total.
type CounterMetric struct {
	mu      sync.RWMutex
	Value   int64
	Updated time.Time
}

func (c *CounterMetric) snapshot(path string) *MetricSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &MetricSnapshot{Path: path, Type: TypeCounter, Health: HealthGood, Data: CounterSnapshot{Value: c.Value}}
}

// SuccessFailMetric counts successes and failures, with failure reasons and
// a sliding window over the most recent operations.
type SuccessFailMetric struct {
	mu             sync.RWMutex
	Success        int64
	Failures       int64
	LastSuccess    time.Time
	LastFailure    time.Time
	FailureReasons map[string]int64

	window [windowLen]bool
	pos    int
	filled int
}

func newSuccessFail() *SuccessFailMetric {
	return &SuccessFailMetric{FailureReasons: make(map[string]int64)}
}

func (s *SuccessFailMetric) record(ok bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok {
		s.Success++
		s.LastSuccess = time.Now()
	} else {
		s.Failures++
		s.LastFailure = time.Now()
		if reason != "" {
			s.FailureReasons[reason]++
		}
	}

	s.window[s.pos] = ok
	s.pos = (s.pos + 1) % windowLen
	s.filled = min(s.filled+1, windowLen)
}

func (s *SuccessFailMetric) snapshot(path string) *MetricSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rate, recent float64
	if total := s.Success + s.Failures; total > 0 {
		rate = float64(s.Success) / float64(total) * 100
	}
	if s.filled > 0 {
		ok := 0
		for _, v := range s.window[:s.filled] {
			if v {
				ok++
			}
		}
		recent = float64(ok) / float64(s.filled) * 100
	}

	return &MetricSnapshot{
		Path:   path,
		Type:   TypeSuccessFail,
		Health: rateHealth(recent),
		Data: SuccessFailSnapshot{
			Success:        s.Success,
			Failures:       s.Failures,
			SuccessRate:    rate,
			RecentRate:     recent,
			FailureReasons: maps.Clone(s.FailureReasons),
		},
	}
}

// OutcomeMetric tallies named outcomes of one operation.
type OutcomeMetric struct {
	mu          sync.RWMutex
	Outcomes    map[string]int64
	Total       int64
	LastOutcome string
	Updated     time.Time
}

func newOutcome() *OutcomeMetric {
	return &OutcomeMetric{Outcomes: make(map[string]int64)}
}

func (o *OutcomeMetric) snapshot(path string) *MetricSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return &MetricSnapshot{
		Path:   path,
		Type:   TypeOutcome,
		Health: HealthGood,
		Data:   OutcomeSnapshot{Outcomes: maps.Clone(o.Outcomes), Total: o.Total},
	}
}

// MetricSnapshot is a point-in-time view of one metric.
type MetricSnapshot struct {
	Path   string       `json:"path"`
	Type   MetricType   `json:"type"`
	Health HealthStatus `json:"health"`
	Data   any          `json:"data"`
}

type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	LastMs float64 `json:"last_ms"`
	P95Ms  float64 `json:"p95_ms,omitempty"`
}

type CounterSnapshot struct {
	Value int64 `json:"value"`
}

type SuccessFailSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"success_rate"`
	RecentRate     float64          `json:"recent_rate"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`
}

type OutcomeSnapshot struct {
	Outcomes map[string]int64 `json:"outcomes"`
	Total    int64            `json:"total"`
}
