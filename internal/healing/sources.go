package healing

import (
	"context"
	"fmt"

	"datafeed-sentinel/internal/classify"
)

// Source-specific strategies sit behind the general set so cheap generic
// fixes run before anything that touches credentials or other vendors.
const (
	PriorityRotateCredential = 40
	PriorityAlternateSeries  = 45
	PriorityProviderFallback = 50
)

// CredentialRotator advances a source to its next credential. Implemented
// by the vault-backed store.
type CredentialRotator interface {
	Rotate(ctx context.Context, source string) error
}

// FallbackFetcher fetches an equivalent payload from a different provider
type FallbackFetcher func(ctx context.Context, endpoint string, params map[string]interface{}) ([]byte, error)

// NewRotateCredentialStrategy swaps in the next API key for a source and
// retries. Restricted to auth and rate-limit failures, where a fresh or
// less-used key can plausibly help.
func NewRotateCredentialStrategy(source string, rotator CredentialRotator) *Strategy {
	return &Strategy{
		Name:        fmt.Sprintf("rotate_credential_%s", source),
		Description: "rotate to the next API credential and retry",
		Kinds:       []classify.ErrorKind{classify.KindAuthError, classify.KindRateLimit},
		Source:      source,
		Priority:    PriorityRotateCredential,
		Attempt: func(ctx context.Context, ev *classify.ErrorEvent, retry RetryFunc, params map[string]interface{}) Result {
			if err := rotator.Rotate(ctx, ev.Source); err != nil {
				return Result{Message: fmt.Sprintf("credential rotation failed: %v", err)}
			}
			data, err := retry(ctx, params)
			if err != nil {
				return Result{Message: fmt.Sprintf("still failing after rotation: %v", err)}
			}
			return Result{Success: true, Data: data, Message: "recovered with rotated credential"}
		},
	}
}

// NewAlternateSeriesStrategy substitutes an equivalent series or
// instrument identifier when the requested one returns no usable data.
func NewAlternateSeriesStrategy(source string, alternates map[string]string) *Strategy {
	return &Strategy{
		Name:        fmt.Sprintf("alternate_series_%s", source),
		Description: "switch to an equivalent series or instrument",
		Kinds:       []classify.ErrorKind{classify.KindInvalidData, classify.KindMissingData},
		Source:      source,
		Priority:    PriorityAlternateSeries,
		Attempt: func(ctx context.Context, ev *classify.ErrorEvent, retry RetryFunc, params map[string]interface{}) Result {
			series, _ := params["series"].(string)
			alt, ok := alternates[series]
			if !ok {
				return Result{Message: fmt.Sprintf("no alternate for series %q", series)}
			}

			swapped := make(map[string]interface{}, len(params))
			for k, v := range params {
				swapped[k] = v
			}
			swapped["series"] = alt

			data, err := retry(ctx, swapped)
			if err != nil {
				return Result{Message: fmt.Sprintf("alternate series %q also failing: %v", alt, err)}
			}
			return Result{Success: true, Data: data,
				Message: fmt.Sprintf("recovered via alternate series %q", alt)}
		},
	}
}

// NewProviderFallbackStrategy fetches the same data from a different
// vendor entirely. Last resort for exhausted quotas and dead credentials.
func NewProviderFallbackStrategy(source string, fallback FallbackFetcher) *Strategy {
	return &Strategy{
		Name:        fmt.Sprintf("provider_fallback_%s", source),
		Description: "fetch equivalent data from an alternate provider",
		Kinds: []classify.ErrorKind{
			classify.KindRateLimit, classify.KindAuthError, classify.KindQuotaExceeded,
		},
		Source:   source,
		Priority: PriorityProviderFallback,
		Attempt: func(ctx context.Context, ev *classify.ErrorEvent, _ RetryFunc, params map[string]interface{}) Result {
			data, err := fallback(ctx, ev.Endpoint, params)
			if err != nil {
				return Result{Message: fmt.Sprintf("fallback provider failing: %v", err)}
			}
			return Result{Success: true, Data: data, UsedFallback: true,
				Message: "recovered via fallback provider"}
		},
	}
}
