package authflow

import (
	"sort"
	"sync"
	"time"
)

// Metric operation names
const (
	OpDiscovery    = "discovery"
	OpRegistration = "registration"
	OpWarmup       = "warmup"
	OpIssuance     = "issuance"
	OpRebuild      = "rebuild"
)

// MetricsCollector collects flow metrics
type MetricsCollector interface {
	// RecordOperation records one network or worker operation
	RecordOperation(op string, success bool, duration time.Duration)
	// RecordOutcome records how an authorization attempt ended
	RecordOutcome(kind OutcomeKind)
	// RecordError records an error surfaced to the user
	RecordError(kind ErrorKind)
	// GetMetrics returns current metrics
	GetMetrics() *Metrics
	// Reset resets all metrics
	Reset()
}

// Metrics represents collected flow metrics
type Metrics struct {
	Operations    map[string]MetricCounter `json:"operations"`
	Outcomes      map[string]int64         `json:"outcomes"`
	Errors        map[string]int64         `json:"errors"`
	ResponseTimes map[string]ResponseTime  `json:"response_times"`
	StartTime     time.Time                `json:"start_time"`
}

// MetricCounter represents a counter metric
type MetricCounter struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// ResponseTime represents response time statistics
type ResponseTime struct {
	Count   int64         `json:"count"`
	Total   time.Duration `json:"total"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Average time.Duration `json:"average"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// DefaultMetricsCollector implements MetricsCollector with in-memory storage
type DefaultMetricsCollector struct {
	mu         sync.Mutex
	operations map[string]MetricCounter
	outcomes   map[string]int64
	errors     map[string]int64
	durations  map[string][]time.Duration
	start      time.Time
}

// NewDefaultMetricsCollector creates a new default metrics collector
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	c := &DefaultMetricsCollector{}
	c.Reset()
	return c
}

func (c *DefaultMetricsCollector) RecordOperation(op string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counter := c.operations[op]
	counter.Total++
	if success {
		counter.Success++
	} else {
		counter.Failed++
	}
	c.operations[op] = counter

	d := append(c.durations[op], duration)
	// keep the last 1000 samples
	if len(d) > 1000 {
		d = d[len(d)-1000:]
	}
	c.durations[op] = d
}

func (c *DefaultMetricsCollector) RecordOutcome(kind OutcomeKind) {
	c.mu.Lock()
	c.outcomes[kind.String()]++
	c.mu.Unlock()
}

func (c *DefaultMetricsCollector) RecordError(kind ErrorKind) {
	c.mu.Lock()
	c.errors[kind.String()]++
	c.mu.Unlock()
}

// GetMetrics returns a copy of the current metrics
func (c *DefaultMetricsCollector) GetMetrics() *Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &Metrics{
		Operations:    make(map[string]MetricCounter, len(c.operations)),
		Outcomes:      make(map[string]int64, len(c.outcomes)),
		Errors:        make(map[string]int64, len(c.errors)),
		ResponseTimes: make(map[string]ResponseTime, len(c.durations)),
		StartTime:     c.start,
	}
	for k, v := range c.operations {
		m.Operations[k] = v
	}
	for k, v := range c.outcomes {
		m.Outcomes[k] = v
	}
	for k, v := range c.errors {
		m.Errors[k] = v
	}
	for k, v := range c.durations {
		m.ResponseTimes[k] = calculateResponseTimeStats(v)
	}
	return m
}

// Reset resets all metrics
func (c *DefaultMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]MetricCounter)
	c.outcomes = make(map[string]int64)
	c.errors = make(map[string]int64)
	c.durations = make(map[string][]time.Duration)
	c.start = time.Now()
}

func calculateResponseTimeStats(durations []time.Duration) ResponseTime {
	if len(durations) == 0 {
		return ResponseTime{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	n := len(sorted)
	return ResponseTime{
		Count:   int64(n),
		Total:   total,
		Min:     sorted[0],
		Max:     sorted[n-1],
		Average: total / time.Duration(n),
		P50:     sorted[n*50/100],
		P95:     sorted[n*95/100],
		P99:     sorted[n*99/100],
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, bool, time.Duration) {}
func (nopMetrics) RecordOutcome(OutcomeKind)                   {}
func (nopMetrics) RecordError(ErrorKind)                       {}
func (nopMetrics) GetMetrics() *Metrics                        { return &Metrics{} }
func (nopMetrics) Reset()                                      {}
