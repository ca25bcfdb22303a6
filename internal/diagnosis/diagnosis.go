// Package diagnosis infers root-cause labels and severities from error
// events and the endpoint's health history.
package diagnosis

import (
	"time"

	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/health"
)

// Severity levels for a diagnosis report
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Pattern labels
const (
	PatternRateLimitSpike      = "rate_limit_spike"
	PatternTimeoutSlowResponse = "timeout_slow_response"
	PatternTimeoutNetworkIssue = "timeout_network_issue"
	PatternAuthKeyExpired      = "auth_key_expired"
	PatternUpstreamServerDown  = "upstream_server_down"
	PatternUnknown             = "unknown_pattern"
)

// slowResponseSplit separates "the upstream answered slowly" from "the
// connection itself stalled" for timeout events
const slowResponseSplit = 5 * time.Second

// Report is the ephemeral diagnosis of one error
type Report struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	Endpoint        string    `json:"endpoint"`
	Pattern         string    `json:"pattern"`
	RootCause       string    `json:"root_cause"`
	RecommendedFixes []string `json:"recommended_fixes"`
	Severity        string    `json:"severity"`
}

// Diagnose builds a report from the error and the endpoint's current health
func Diagnose(ev *classify.ErrorEvent, h health.EndpointHealth) Report {
	pattern := patternFor(ev)
	return Report{
		Timestamp:        time.Now().UTC(),
		Source:           ev.Source,
		Endpoint:         ev.Endpoint,
		Pattern:          pattern,
		RootCause:        rootCauseFor(pattern),
		RecommendedFixes: fixesFor(pattern),
		Severity:         severityFor(h.Status),
	}
}

func patternFor(ev *classify.ErrorEvent) string {
	switch ev.Kind {
	case classify.KindRateLimit, classify.KindQuotaExceeded:
		return PatternRateLimitSpike
	case classify.KindTimeout:
		if ev.ResponseTime > slowResponseSplit {
			return PatternTimeoutSlowResponse
		}
		return PatternTimeoutNetworkIssue
	case classify.KindAuthError:
		return PatternAuthKeyExpired
	case classify.KindServerError:
		return PatternUpstreamServerDown
	default:
		return PatternUnknown
	}
}

func rootCauseFor(pattern string) string {
	switch pattern {
	case PatternRateLimitSpike:
		return "request volume exceeded the provider's rate or quota limits"
	case PatternTimeoutSlowResponse:
		return "the provider is responding but too slowly, likely overloaded"
	case PatternTimeoutNetworkIssue:
		return "the connection to the provider is stalling before any response"
	case PatternAuthKeyExpired:
		return "the API credential was rejected, likely expired or revoked"
	case PatternUpstreamServerDown:
		return "the provider's servers are returning internal errors"
	default:
		return "no recognized failure pattern for this error"
	}
}

// fixesFor biases, but never overrides, the coordinator's learned ranking
func fixesFor(pattern string) []string {
	switch pattern {
	case PatternRateLimitSpike:
		return []string{"cached_data", "backoff_retry", "rotate_credential", "provider_fallback"}
	case PatternTimeoutSlowResponse:
		return []string{"reduce_request_size", "backoff_retry", "cached_data"}
	case PatternTimeoutNetworkIssue:
		return []string{"backoff_retry", "cached_data", "provider_fallback"}
	case PatternAuthKeyExpired:
		return []string{"rotate_credential", "provider_fallback"}
	case PatternUpstreamServerDown:
		return []string{"cached_data", "backoff_retry", "provider_fallback"}
	default:
		return []string{"backoff_retry"}
	}
}

func severityFor(s health.Status) string {
	switch s {
	case health.StatusFailed:
		return SeverityCritical
	case health.StatusCritical:
		return SeverityHigh
	case health.StatusDegraded:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
