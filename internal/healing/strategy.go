// Package healing holds the strategy catalog and the coordinator that
// works through ranked remediations when an endpoint fails.
package healing

import (
	"context"
	"sync"
	"time"

	"datafeed-sentinel/internal/classify"
)

// RetryFunc re-issues the original fetch with (possibly adjusted) params
type RetryFunc func(ctx context.Context, params map[string]interface{}) ([]byte, error)

// Result is the outcome of one healing attempt
type Result struct {
	Success      bool          `json:"success"`
	StrategyUsed string        `json:"strategy_used,omitempty"`
	Duration     time.Duration `json:"duration"`
	UsedFallback bool          `json:"used_fallback"`
	Data         []byte        `json:"-"`
	Message      string        `json:"message,omitempty"`
}

// AttemptFunc runs one remediation. It must be idempotent: returning a
// failed result must leave the world unchanged so the coordinator can
// proceed to the next candidate.
type AttemptFunc func(ctx context.Context, ev *classify.ErrorEvent, retry RetryFunc, params map[string]interface{}) Result

// Strategy is a named remediation with its error-kind affinity, an
// optional source restriction and learned outcome counters.
type Strategy struct {
	Name        string
	Description string
	Kinds       []classify.ErrorKind
	Source      string // empty applies to all sources
	Priority    int    // lower tries first
	Attempt     AttemptFunc

	mu           sync.Mutex
	successCount int64
	failureCount int64
	totalFixTime time.Duration
	regOrder     int
}

// Applicable reports whether the strategy can plausibly fix the event
func (s *Strategy) Applicable(ev *classify.ErrorEvent) bool {
	if s.Source != "" && s.Source != ev.Source {
		return false
	}
	for _, k := range s.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

// SuccessRate returns the learned success rate, 0 when untried
func (s *Strategy) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRateLocked()
}

func (s *Strategy) successRateLocked() float64 {
	total := s.successCount + s.failureCount
	if total == 0 {
		return 0
	}
	return float64(s.successCount) / float64(total)
}

func (s *Strategy) recordSuccess(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
	s.totalFixTime += d
}

func (s *Strategy) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
}

// Stats is a read-only snapshot of a strategy's learned state
type Stats struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Source       string        `json:"source,omitempty"`
	Priority     int           `json:"priority"`
	SuccessCount int64         `json:"success_count"`
	FailureCount int64         `json:"failure_count"`
	SuccessRate  float64       `json:"success_rate"`
	AvgFixTime   time.Duration `json:"avg_fix_time"`
}

// Snapshot returns the strategy's current stats
func (s *Strategy) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Name:         s.Name,
		Description:  s.Description,
		Source:       s.Source,
		Priority:     s.Priority,
		SuccessCount: s.successCount,
		FailureCount: s.failureCount,
		SuccessRate:  s.successRateLocked(),
	}
	if s.successCount > 0 {
		st.AvgFixTime = s.totalFixTime / time.Duration(s.successCount)
	}
	return st
}

// SetCounts restores persisted counters at startup
func (s *Strategy) SetCounts(success, failure int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount = success
	s.failureCount = failure
}
