package healing

import (
	"context"
	"fmt"
	"time"

	"datafeed-sentinel/internal/cache"
	"datafeed-sentinel/internal/classify"
)

// Priorities for the general-purpose strategies. Cached data goes first:
// it is instant and side-effect free, retries and request shrinking cost
// upstream calls.
const (
	PriorityCachedData = 10
	PriorityBackoff    = 20
	PriorityReduceSize = 30
)

// NewCachedDataStrategy returns last-known-good cached data when it is
// still inside the freshness window. Applies to every source.
func NewCachedDataStrategy(store *cache.Emergency, freshness time.Duration) *Strategy {
	if freshness <= 0 {
		freshness = time.Hour
	}
	return &Strategy{
		Name:        "cached_data",
		Description: "serve last-known-good payload from the emergency cache",
		Kinds: []classify.ErrorKind{
			classify.KindTimeout, classify.KindRateLimit, classify.KindServerError,
			classify.KindNetworkError, classify.KindQuotaExceeded, classify.KindAuthError,
		},
		Priority: PriorityCachedData,
		Attempt: func(ctx context.Context, ev *classify.ErrorEvent, _ RetryFunc, _ map[string]interface{}) Result {
			entry, ok := store.Get(ctx, ev.Source, ev.Endpoint)
			if !ok || !entry.Fresh(freshness) {
				return Result{Message: "no fresh cached payload"}
			}
			return Result{Success: true, Data: entry.Payload, Message: "served from emergency cache"}
		},
	}
}

// NewBackoffRetryStrategy retries the original fetch with exponential
// backoff, delay doubling from baseDelay, bounded by maxAttempts.
func NewBackoffRetryStrategy(maxAttempts int, baseDelay time.Duration) *Strategy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Strategy{
		Name:        "backoff_retry",
		Description: "retry the original request with exponential backoff",
		Kinds: []classify.ErrorKind{
			classify.KindTimeout, classify.KindRateLimit, classify.KindServerError,
			classify.KindNetworkError,
		},
		Priority: PriorityBackoff,
		Attempt: func(ctx context.Context, ev *classify.ErrorEvent, retry RetryFunc, params map[string]interface{}) Result {
			delay := baseDelay
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				select {
				case <-ctx.Done():
					return Result{Message: "healing budget exhausted during backoff"}
				case <-time.After(delay):
				}

				data, err := retry(ctx, params)
				if err == nil {
					return Result{Success: true, Data: data,
						Message: fmt.Sprintf("retry succeeded on attempt %d", attempt)}
				}
				ev.RetryCount++
				delay *= 2
			}
			return Result{Message: fmt.Sprintf("still failing after %d retries", maxAttempts)}
		},
	}
}

// NewReduceRequestSizeStrategy halves the request's limit parameter and
// retries, for endpoints that time out on oversized responses.
func NewReduceRequestSizeStrategy() *Strategy {
	return &Strategy{
		Name:        "reduce_request_size",
		Description: "halve the limit parameter and retry",
		Kinds: []classify.ErrorKind{
			classify.KindTimeout, classify.KindServerError,
		},
		Priority: PriorityReduceSize,
		Attempt: func(ctx context.Context, ev *classify.ErrorEvent, retry RetryFunc, params map[string]interface{}) Result {
			limit, ok := intParam(params, "limit")
			if !ok || limit <= 1 {
				return Result{Message: "no limit parameter to reduce"}
			}

			reduced := make(map[string]interface{}, len(params))
			for k, v := range params {
				reduced[k] = v
			}
			reduced["limit"] = limit / 2

			data, err := retry(ctx, reduced)
			if err != nil {
				return Result{Message: fmt.Sprintf("reduced request still failing: %v", err)}
			}
			return Result{Success: true, Data: data,
				Message: fmt.Sprintf("succeeded with limit %d", limit/2)}
		},
	}
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
