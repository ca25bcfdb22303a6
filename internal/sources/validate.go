package sources

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datafeed-sentinel/internal/classify"
)

// NewJSONValidator rejects payloads that are not parseable JSON or that
// lack any of the required top-level fields.
func NewJSONValidator(requiredFields ...string) classify.Validator {
	return func(body []byte) error {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			return &classify.ValidationError{
				Kind:    classify.KindParsingError,
				Message: fmt.Sprintf("payload is not valid JSON: %v", err),
			}
		}
		for _, field := range requiredFields {
			raw, ok := doc[field]
			if !ok || string(raw) == "null" {
				return &classify.ValidationError{
					Kind:    classify.KindMissingData,
					Message: fmt.Sprintf("required field %q absent from payload", field),
				}
			}
		}
		return nil
	}
}

// NewFreshnessValidator flags payloads whose timestamp field is older
// than maxAge. The field must hold an RFC 3339 time or unix seconds.
func NewFreshnessValidator(field string, maxAge time.Duration) classify.Validator {
	return func(body []byte) error {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			return &classify.ValidationError{
				Kind:    classify.KindParsingError,
				Message: fmt.Sprintf("payload is not valid JSON: %v", err),
			}
		}
		raw, ok := doc[field]
		if !ok {
			return &classify.ValidationError{
				Kind:    classify.KindMissingData,
				Message: fmt.Sprintf("timestamp field %q absent from payload", field),
			}
		}

		ts, err := parseTimestamp(raw)
		if err != nil {
			return &classify.ValidationError{
				Kind:    classify.KindParsingError,
				Message: fmt.Sprintf("timestamp field %q unreadable: %v", field, err),
			}
		}
		if age := time.Since(ts); age > maxAge {
			return &classify.ValidationError{
				Kind:    classify.KindStaleData,
				Message: fmt.Sprintf("data is %s old, freshness limit %s", age.Round(time.Second), maxAge),
			}
		}
		return nil
	}
}

// NewQuotaMessageValidator catches providers that report quota exhaustion
// inside an HTTP 200 body instead of a 429 status.
func NewQuotaMessageValidator(markers ...string) classify.Validator {
	if len(markers) == 0 {
		markers = []string{"quota exceeded", "usage limit", "api limit reached"}
	}
	return func(body []byte) error {
		lower := strings.ToLower(string(body))
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				return &classify.ValidationError{
					Kind:    classify.KindQuotaExceeded,
					Message: fmt.Sprintf("provider reported %q in response body", marker),
				}
			}
		}
		return nil
	}
}

// Chain runs validators in order and returns the first failure
func Chain(validators ...classify.Validator) classify.Validator {
	return func(body []byte) error {
		for _, v := range validators {
			if err := v(body); err != nil {
				return err
			}
		}
		return nil
	}
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.Parse(time.RFC3339, s)
	}
	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("neither RFC 3339 string nor unix seconds: %s", raw)
}
