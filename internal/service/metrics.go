package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects request-processing counters. All increment paths are
// atomic so the hot handlers never serialize on it. A nil *Metrics is a
// valid no-op recorder, for callers that do not care about stats.
type Metrics struct {
	admitted   int64
	queued     int64
	dispatched int64
	completed  int64
	throttled  int64

	// Per-unit outcome counters
	unitMetrics map[string]*UnitMetrics
	mu          sync.RWMutex
}

// UnitMetrics holds outcome counters for a specific managed unit
type UnitMetrics struct {
	Invocations  int64     `json:"invocations"`
	Failures     int64     `json:"failures"`
	Unavailable  int64     `json:"unavailable"`
	TotalLatency int64     `json:"total_latency_ms"`
	LastRequest  time.Time `json:"last_request"`
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		unitMetrics: make(map[string]*UnitMetrics),
	}
}

// IncrementAdmitted counts an exchange admitted downstream immediately
func (m *Metrics) IncrementAdmitted() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.admitted, 1)
}

// IncrementQueued counts an exchange parked at the admission ceiling
func (m *Metrics) IncrementQueued() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.queued, 1)
}

// IncrementDispatched counts a queued exchange resumed by the
// dispatcher
func (m *Metrics) IncrementDispatched() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.dispatched, 1)
}

// IncrementCompleted counts a completed exchange
func (m *Metrics) IncrementCompleted() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.completed, 1)
}

// IncrementThrottled counts a rate-limited exchange
func (m *Metrics) IncrementThrottled() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.throttled, 1)
}

func (m *Metrics) unitEntry(unitName string) *UnitMetrics {
	if m.unitMetrics[unitName] == nil {
		m.unitMetrics[unitName] = &UnitMetrics{}
	}
	return m.unitMetrics[unitName]
}

// RecordInvocation records a unit invocation and its latency
func (m *Metrics) RecordInvocation(unitName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.unitEntry(unitName)
	entry.Invocations++
	entry.TotalLatency += duration.Milliseconds()
	entry.LastRequest = time.Now()
}

// RecordFailure records an unclassified invocation failure
func (m *Metrics) RecordFailure(unitName string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unitEntry(unitName).Failures++
}

// RecordUnavailable records a request refused because the unit was
// unavailable
func (m *Metrics) RecordUnavailable(unitName string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unitEntry(unitName).Unavailable++
}

// GetStats returns current statistics
func (m *Metrics) GetStats() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}

	stats := map[string]interface{}{
		"admitted":   atomic.LoadInt64(&m.admitted),
		"queued":     atomic.LoadInt64(&m.queued),
		"dispatched": atomic.LoadInt64(&m.dispatched),
		"completed":  atomic.LoadInt64(&m.completed),
		"throttled":  atomic.LoadInt64(&m.throttled),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	units := make(map[string]UnitMetrics, len(m.unitMetrics))
	for name, entry := range m.unitMetrics {
		units[name] = *entry
	}
	stats["units"] = units

	return stats
}
