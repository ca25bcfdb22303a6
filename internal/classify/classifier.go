// Package classify turns raw request outcomes into typed error events.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorKind categorizes a failed data-source interaction
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindRateLimit     ErrorKind = "rate_limit"
	KindAuthError     ErrorKind = "auth_error"
	KindServerError   ErrorKind = "server_error"
	KindInvalidData   ErrorKind = "invalid_data"
	KindNetworkError  ErrorKind = "network_error"
	KindParsingError  ErrorKind = "parsing_error"
	KindMissingData   ErrorKind = "missing_data"
	KindStaleData     ErrorKind = "stale_data"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
)

// ErrorEvent is the immutable record of one failed interaction.
// Only the healing outcome fields are filled in after creation.
type ErrorEvent struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Source       string        `json:"source"`
	Endpoint     string        `json:"endpoint"`
	Kind         ErrorKind     `json:"kind"`
	Message      string        `json:"message"`
	ResponseTime time.Duration `json:"response_time"`
	StatusCode   int           `json:"status_code,omitempty"`
	RetryCount   int           `json:"retry_count"`
	AutoHealed   bool          `json:"auto_healed"`
	HealedBy     string        `json:"healed_by,omitempty"`
}

// Outcome is the raw result of one request attempt
type Outcome struct {
	Err        error
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// ValidationError lets per-source validators refine the error kind
// for payloads that parsed but are semantically unusable.
type ValidationError struct {
	Kind    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validator checks a syntactically valid payload for semantic problems,
// e.g. empty observation sets or quota messages embedded in the body.
type Validator func(body []byte) error

// Classifier maps raw outcomes to error events
type Classifier struct {
	mu               sync.RWMutex
	latencyThreshold time.Duration
	validators       map[string]Validator
}

// DefaultLatencyThreshold marks a response as a timeout even on HTTP 200
const DefaultLatencyThreshold = 10 * time.Second

// NewClassifier creates a classifier with the given slow-response threshold.
// A zero threshold falls back to the default.
func NewClassifier(latencyThreshold time.Duration) *Classifier {
	if latencyThreshold <= 0 {
		latencyThreshold = DefaultLatencyThreshold
	}
	return &Classifier{
		latencyThreshold: latencyThreshold,
		validators:       make(map[string]Validator),
	}
}

// RegisterValidator installs a semantic payload validator for one
// endpoint of a source. Endpoints of the same source often carry
// different required fields, so validators never apply source-wide.
func (c *Classifier) RegisterValidator(source, endpoint string, v Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators[validatorKey(source, endpoint)] = v
}

func validatorKey(source, endpoint string) string {
	return source + "|" + endpoint
}

// Classify inspects one request outcome and returns an ErrorEvent,
// or nil when the outcome is healthy. Exactly one kind is emitted per
// attempt, in priority order: transport error, HTTP status, latency,
// payload validation.
func (c *Classifier) Classify(source, endpoint string, out Outcome) *ErrorEvent {
	if out.Err != nil {
		kind := KindNetworkError
		if isTimeoutErr(out.Err) {
			kind = KindTimeout
		}
		return c.newEvent(source, endpoint, kind, out.Err.Error(), out)
	}

	if out.StatusCode >= 400 {
		return c.newEvent(source, endpoint, kindForStatus(out.StatusCode),
			fmt.Sprintf("HTTP %d from %s/%s", out.StatusCode, source, endpoint), out)
	}

	if out.Elapsed > c.latencyThreshold {
		return c.newEvent(source, endpoint, KindTimeout,
			fmt.Sprintf("response took %s, threshold %s", out.Elapsed, c.latencyThreshold), out)
	}

	c.mu.RLock()
	validator := c.validators[validatorKey(source, endpoint)]
	c.mu.RUnlock()

	if validator != nil {
		if err := validator(out.Body); err != nil {
			kind := KindInvalidData
			var verr *ValidationError
			if errors.As(err, &verr) && verr.Kind != "" {
				kind = verr.Kind
			}
			return c.newEvent(source, endpoint, kind, err.Error(), out)
		}
	}

	return nil
}

func (c *Classifier) newEvent(source, endpoint string, kind ErrorKind, msg string, out Outcome) *ErrorEvent {
	ev := NewEvent(source, endpoint, kind, msg)
	ev.ResponseTime = out.Elapsed
	ev.StatusCode = out.StatusCode
	return ev
}

// NewEvent builds an error event for failures detected outside the
// response rules, such as a panicking check function.
func NewEvent(source, endpoint string, kind ErrorKind, msg string) *ErrorEvent {
	return &ErrorEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
		Kind:      kind,
		Message:   msg,
	}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindAuthError
	case status >= 500:
		return KindServerError
	default:
		return KindNetworkError
	}
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
