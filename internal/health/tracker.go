// Package health maintains per-endpoint health records and derived status.
package health

import (
	"sort"
	"sync"
	"time"
)

// Status is the derived four-level endpoint classification
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
	StatusFailed   Status = "FAILED"
)

// Severity orders statuses for comparison, higher is worse
func (s Status) Severity() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusCritical:
		return 2
	case StatusFailed:
		return 3
	default:
		return 0
	}
}

// Error-rate bands, lower bound inclusive
const (
	degradedThreshold = 0.05
	criticalThreshold = 0.20
	failedThreshold   = 0.50
)

func statusFor(errorRate float64, total int64) Status {
	if total == 0 {
		return StatusHealthy
	}
	switch {
	case errorRate >= failedThreshold:
		return StatusFailed
	case errorRate >= criticalThreshold:
		return StatusCritical
	case errorRate >= degradedThreshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// EndpointHealth is the rolling health record for one (source, endpoint) pair
type EndpointHealth struct {
	Source              string        `json:"source"`
	Endpoint            string        `json:"endpoint"`
	TotalRequests       int64         `json:"total_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	ErrorRate           float64       `json:"error_rate"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
	LastSuccess         time.Time     `json:"last_success"`
	LastFailure         time.Time     `json:"last_failure"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	UptimePercent       float64       `json:"uptime_percent"`
	Status              Status        `json:"status"`
}

// Tracker owns all EndpointHealth records. All mutation goes through
// Record so counter updates for one key never interleave.
type Tracker struct {
	mu       sync.RWMutex
	records  map[string]*EndpointHealth
	onUpdate func(EndpointHealth)
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*EndpointHealth)}
}

// OnUpdate sets a hook invoked with a snapshot after every record,
// used for persistence and dashboard pushes
func (t *Tracker) OnUpdate(fn func(EndpointHealth)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

func key(source, endpoint string) string {
	return source + "|" + endpoint
}

// Record registers one observation and returns the updated snapshot.
// Status is always recomputed here, never set directly.
func (t *Tracker) Record(source, endpoint string, success bool, responseTime time.Duration) EndpointHealth {
	t.mu.Lock()

	h, ok := t.records[key(source, endpoint)]
	if !ok {
		h = &EndpointHealth{Source: source, Endpoint: endpoint, Status: StatusHealthy}
		t.records[key(source, endpoint)] = h
	}

	h.TotalRequests++
	now := time.Now().UTC()

	if success {
		h.ConsecutiveFailures = 0
		h.LastSuccess = now
	} else {
		h.FailedRequests++
		h.ConsecutiveFailures++
		h.LastFailure = now
	}

	// Incremental mean, not a fixed window
	h.AvgResponseTime += (responseTime - h.AvgResponseTime) / time.Duration(h.TotalRequests)

	h.ErrorRate = float64(h.FailedRequests) / float64(h.TotalRequests)
	h.UptimePercent = 100 * (1 - h.ErrorRate)
	h.Status = statusFor(h.ErrorRate, h.TotalRequests)

	snapshot := *h
	hook := t.onUpdate
	t.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return snapshot
}

// Get returns the current snapshot for one pair
func (t *Tracker) Get(source, endpoint string) (EndpointHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.records[key(source, endpoint)]
	if !ok {
		return EndpointHealth{}, false
	}
	return *h, true
}

// GetAll returns all records ordered by descending error rate,
// worst first, so operators see the most urgent rows on top
func (t *Tracker) GetAll() []EndpointHealth {
	t.mu.RLock()
	out := make([]EndpointHealth, 0, len(t.records))
	for _, h := range t.records {
		out = append(out, *h)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ErrorRate != out[j].ErrorRate {
			return out[i].ErrorRate > out[j].ErrorRate
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

// Load seeds the tracker from persisted rows at startup
func (t *Tracker) Load(rows []EndpointHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range rows {
		h := rows[i]
		h.Status = statusFor(h.ErrorRate, h.TotalRequests)
		t.records[key(h.Source, h.Endpoint)] = &h
	}
}
