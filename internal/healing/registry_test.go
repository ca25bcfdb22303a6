package healing

import (
	"context"
	"testing"

	"datafeed-sentinel/internal/classify"
)

func noopAttempt(ok bool) AttemptFunc {
	return func(context.Context, *classify.ErrorEvent, RetryFunc, map[string]interface{}) Result {
		return Result{Success: ok}
	}
}

func rateLimitEvent(source string) *classify.ErrorEvent {
	return &classify.ErrorEvent{Source: source, Endpoint: "quotes", Kind: classify.KindRateLimit}
}

// TestCandidateFiltering checks kind affinity and source restriction
func TestCandidateFiltering(t *testing.T) {
	r := NewRegistry()
	r.Register(&Strategy{Name: "general", Kinds: []classify.ErrorKind{classify.KindRateLimit}, Attempt: noopAttempt(true)})
	r.Register(&Strategy{Name: "wrong_kind", Kinds: []classify.ErrorKind{classify.KindAuthError}, Attempt: noopAttempt(true)})
	r.Register(&Strategy{Name: "alpha_only", Source: "alpha", Kinds: []classify.ErrorKind{classify.KindRateLimit}, Attempt: noopAttempt(true)})
	r.Register(&Strategy{Name: "beta_only", Source: "beta", Kinds: []classify.ErrorKind{classify.KindRateLimit}, Attempt: noopAttempt(true)})

	got := r.Candidates(rateLimitEvent("alpha"))
	names := map[string]bool{}
	for _, s := range got {
		names[s.Name] = true
	}

	if !names["general"] || !names["alpha_only"] {
		t.Errorf("expected general and alpha_only, got %v", names)
	}
	if names["wrong_kind"] {
		t.Error("strategy with mismatched kind must never be selected")
	}
	if names["beta_only"] {
		t.Error("source-restricted strategy must never match another source")
	}
}

// TestCandidateOrdering checks priority > success rate > registration order
func TestCandidateOrdering(t *testing.T) {
	r := NewRegistry()
	kinds := []classify.ErrorKind{classify.KindRateLimit}

	low := &Strategy{Name: "low_priority", Priority: 5, Kinds: kinds, Attempt: noopAttempt(true)}
	lucky := &Strategy{Name: "lucky", Priority: 10, Kinds: kinds, Attempt: noopAttempt(true)}
	unlucky := &Strategy{Name: "unlucky", Priority: 10, Kinds: kinds, Attempt: noopAttempt(true)}
	r.Register(low)
	r.Register(unlucky)
	r.Register(lucky)

	lucky.SetCounts(9, 1)
	unlucky.SetCounts(1, 9)

	got := r.Candidates(rateLimitEvent("alpha"))
	if got[0].Name != "low_priority" {
		t.Errorf("priority must be the primary key, got %s first", got[0].Name)
	}
	if got[1].Name != "lucky" || got[2].Name != "unlucky" {
		t.Errorf("same priority must order by success rate, got %s, %s", got[1].Name, got[2].Name)
	}
}

// TestTieBreakStable checks equal priority and rate order by registration
func TestTieBreakStable(t *testing.T) {
	r := NewRegistry()
	kinds := []classify.ErrorKind{classify.KindRateLimit}
	r.Register(&Strategy{Name: "first", Priority: 10, Kinds: kinds, Attempt: noopAttempt(true)})
	r.Register(&Strategy{Name: "second", Priority: 10, Kinds: kinds, Attempt: noopAttempt(true)})
	r.Register(&Strategy{Name: "third", Priority: 10, Kinds: kinds, Attempt: noopAttempt(true)})

	for i := 0; i < 10; i++ {
		got := r.Candidates(rateLimitEvent("alpha"))
		if got[0].Name != "first" || got[1].Name != "second" || got[2].Name != "third" {
			t.Fatalf("ordering not stable on run %d: %s, %s, %s", i, got[0].Name, got[1].Name, got[2].Name)
		}
	}
}

// TestSuccessRateMonotonic checks N consecutive successes strictly
// increase the learned rate once a failure exists
func TestSuccessRateMonotonic(t *testing.T) {
	s := &Strategy{Name: "s", Kinds: []classify.ErrorKind{classify.KindRateLimit}, Attempt: noopAttempt(true)}
	s.SetCounts(0, 1)

	prev := s.SuccessRate()
	for i := 0; i < 5; i++ {
		s.recordSuccess(0)
		rate := s.SuccessRate()
		if rate <= prev {
			t.Fatalf("rate did not strictly increase: %f -> %f", prev, rate)
		}
		prev = rate
	}
}

// TestRestoreCounts checks persisted counters survive a restart
func TestRestoreCounts(t *testing.T) {
	r := NewRegistry()
	r.Register(&Strategy{Name: "s", Kinds: []classify.ErrorKind{classify.KindRateLimit}, Attempt: noopAttempt(true)})

	r.RestoreCounts([]Stats{
		{Name: "s", SuccessCount: 7, FailureCount: 3},
		{Name: "missing", SuccessCount: 99},
	})

	s, _ := r.Get("s")
	if rate := s.SuccessRate(); rate != 0.7 {
		t.Errorf("restored rate = %f, want 0.7", rate)
	}
}
