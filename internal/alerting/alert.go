// Package alerting maps health and healing outcomes to alert levels and
// fans them out to notification channels. It only speaks up when
// autonomous healing has failed.
package alerting

import (
	"time"

	"datafeed-sentinel/internal/health"
)

// Level represents alert severity for routing to channels
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// rank orders levels for channel minimum-level routing
func (l Level) rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelError:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether the level meets a channel's minimum
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}

// Alert is one operator-facing incident record. Resolved alerts are kept,
// not deleted.
type Alert struct {
	ID                 string        `json:"id"`
	Timestamp          time.Time     `json:"timestamp"`
	Level              Level         `json:"level"`
	Title              string        `json:"title"`
	Message            string        `json:"message"`
	Source             string        `json:"source"`
	Endpoint           string        `json:"endpoint"`
	HealthStatus       health.Status `json:"health_status"`
	HealingAttempted   bool          `json:"healing_attempted"`
	HealingSucceeded   bool          `json:"healing_succeeded"`
	RecommendedActions []string      `json:"recommended_actions,omitempty"`
	AutoResolve        bool          `json:"auto_resolve"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
}

// Resolved reports whether the alert has been cleared
func (a *Alert) Resolved() bool {
	return a.ResolvedAt != nil
}

// dedupKey identifies "the same alert" for duplicate suppression
func (a *Alert) dedupKey() string {
	return a.Source + "|" + a.Endpoint + "|" + a.Title
}
