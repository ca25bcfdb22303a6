package classify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

// TestTransportErrors tests rule 1: transport exceptions classify by category
func TestTransportErrors(t *testing.T) {
	c := NewClassifier(0)

	ev := c.Classify("alpha", "quotes", Outcome{Err: context.DeadlineExceeded})
	if ev == nil || ev.Kind != KindTimeout {
		t.Fatalf("deadline exceeded should classify as timeout, got %+v", ev)
	}

	ev = c.Classify("alpha", "quotes", Outcome{Err: fakeTimeoutErr{}})
	if ev == nil || ev.Kind != KindTimeout {
		t.Fatalf("net timeout should classify as timeout, got %+v", ev)
	}

	ev = c.Classify("alpha", "quotes", Outcome{Err: errors.New("connection refused")})
	if ev == nil || ev.Kind != KindNetworkError {
		t.Fatalf("connection error should classify as network_error, got %+v", ev)
	}
}

// TestStatusCodes tests rule 2: HTTP status mapping
func TestStatusCodes(t *testing.T) {
	c := NewClassifier(0)

	cases := map[int]ErrorKind{
		429: KindRateLimit,
		401: KindAuthError,
		403: KindAuthError,
		500: KindServerError,
		503: KindServerError,
		404: KindNetworkError,
		422: KindNetworkError,
	}

	for status, want := range cases {
		ev := c.Classify("alpha", "quotes", Outcome{StatusCode: status})
		if ev == nil || ev.Kind != want {
			t.Errorf("status %d: want %s, got %+v", status, want, ev)
		}
	}

	if ev := c.Classify("alpha", "quotes", Outcome{StatusCode: 200}); ev != nil {
		t.Errorf("status 200 should not produce an event, got %+v", ev)
	}
}

// TestSlowResponse tests rule 3: latency above threshold is a timeout even on 200
func TestSlowResponse(t *testing.T) {
	c := NewClassifier(2 * time.Second)

	ev := c.Classify("alpha", "quotes", Outcome{StatusCode: 200, Elapsed: 3 * time.Second})
	if ev == nil || ev.Kind != KindTimeout {
		t.Fatalf("slow 200 should classify as timeout, got %+v", ev)
	}

	if ev := c.Classify("alpha", "quotes", Outcome{StatusCode: 200, Elapsed: time.Second}); ev != nil {
		t.Fatalf("fast 200 should be healthy, got %+v", ev)
	}
}

// TestTransportErrorWinsOverStatus ensures priority order holds
func TestTransportErrorWinsOverStatus(t *testing.T) {
	c := NewClassifier(0)

	ev := c.Classify("alpha", "quotes", Outcome{Err: errors.New("reset"), StatusCode: 500})
	if ev.Kind != KindNetworkError {
		t.Fatalf("transport error should take priority over status, got %s", ev.Kind)
	}
}

// TestValidators tests rule 4: semantic validation with refined kinds
func TestValidators(t *testing.T) {
	c := NewClassifier(0)
	c.RegisterValidator("fred", "series", func(body []byte) error {
		if len(body) == 0 {
			return &ValidationError{Kind: KindMissingData, Message: "no observations returned"}
		}
		if string(body) == "quota" {
			return &ValidationError{Kind: KindQuotaExceeded, Message: "quota message present in body"}
		}
		if string(body) == "bad" {
			return errors.New("missing required field")
		}
		return nil
	})

	ev := c.Classify("fred", "series", Outcome{StatusCode: 200})
	if ev == nil || ev.Kind != KindMissingData {
		t.Fatalf("empty body should be missing_data, got %+v", ev)
	}

	ev = c.Classify("fred", "series", Outcome{StatusCode: 200, Body: []byte("quota")})
	if ev == nil || ev.Kind != KindQuotaExceeded {
		t.Fatalf("quota body should be quota_exceeded, got %+v", ev)
	}

	// Plain validation errors default to invalid_data
	ev = c.Classify("fred", "series", Outcome{StatusCode: 200, Body: []byte("bad")})
	if ev == nil || ev.Kind != KindInvalidData {
		t.Fatalf("plain validation error should be invalid_data, got %+v", ev)
	}

	if ev := c.Classify("fred", "series", Outcome{StatusCode: 200, Body: []byte("ok")}); ev != nil {
		t.Fatalf("valid body should be healthy, got %+v", ev)
	}

	// Sources without a validator skip rule 4
	if ev := c.Classify("alpha", "series", Outcome{StatusCode: 200}); ev != nil {
		t.Fatalf("source without validator should pass, got %+v", ev)
	}

	// Other endpoints of the same source are not covered by this validator
	if ev := c.Classify("fred", "releases", Outcome{StatusCode: 200}); ev != nil {
		t.Fatalf("endpoint without validator should pass, got %+v", ev)
	}
}

// TestValidatorsPerEndpoint checks that endpoints of the same source keep
// their own validation rules instead of sharing one
func TestValidatorsPerEndpoint(t *testing.T) {
	c := NewClassifier(0)
	c.RegisterValidator("fred", "obs", func(body []byte) error {
		if string(body) != "observations" {
			return &ValidationError{Kind: KindMissingData, Message: "required field \"observations\" absent from payload"}
		}
		return nil
	})
	c.RegisterValidator("fred", "rates", func(body []byte) error {
		if string(body) != "rates" {
			return &ValidationError{Kind: KindMissingData, Message: "required field \"rates\" absent from payload"}
		}
		return nil
	})

	if ev := c.Classify("fred", "obs", Outcome{StatusCode: 200, Body: []byte("observations")}); ev != nil {
		t.Fatalf("healthy obs payload should pass its own validator, got %+v", ev)
	}
	if ev := c.Classify("fred", "rates", Outcome{StatusCode: 200, Body: []byte("rates")}); ev != nil {
		t.Fatalf("healthy rates payload should pass its own validator, got %+v", ev)
	}

	ev := c.Classify("fred", "obs", Outcome{StatusCode: 200, Body: []byte("rates")})
	if ev == nil || ev.Kind != KindMissingData {
		t.Fatalf("obs payload missing observations should fail its validator, got %+v", ev)
	}
}

// TestEventFields checks the constructed event carries the observed data
func TestEventFields(t *testing.T) {
	c := NewClassifier(0)

	ev := c.Classify("alpha", "quotes", Outcome{StatusCode: 429, Elapsed: 120 * time.Millisecond})
	if ev.ID == "" {
		t.Error("event should get an ID")
	}
	if ev.Source != "alpha" || ev.Endpoint != "quotes" {
		t.Errorf("unexpected source/endpoint: %s/%s", ev.Source, ev.Endpoint)
	}
	if ev.StatusCode != 429 || ev.ResponseTime != 120*time.Millisecond {
		t.Errorf("unexpected status/latency: %d/%s", ev.StatusCode, ev.ResponseTime)
	}
	if ev.AutoHealed || ev.HealedBy != "" {
		t.Error("healing outcome should be empty at creation")
	}
}
