package health

import (
	"sync"
	"testing"
	"time"
)

// TestCounterInvariant checks failed <= total and consistent error rate
// across arbitrary observation sequences
func TestCounterInvariant(t *testing.T) {
	tr := NewTracker()

	pattern := []bool{true, false, false, true, false, true, true, false}
	for _, success := range pattern {
		h := tr.Record("alpha", "quotes", success, 50*time.Millisecond)
		if h.FailedRequests > h.TotalRequests {
			t.Fatalf("failed %d > total %d", h.FailedRequests, h.TotalRequests)
		}
		want := float64(h.FailedRequests) / float64(h.TotalRequests)
		if h.ErrorRate != want {
			t.Fatalf("error rate %f, want %f", h.ErrorRate, want)
		}
	}
}

// TestStatusBands checks the 5/20/50 percent thresholds, lower bound inclusive
func TestStatusBands(t *testing.T) {
	cases := []struct {
		successes int
		failures  int
		want      Status
	}{
		{100, 0, StatusHealthy},
		{99, 1, StatusHealthy},  // 1%
		{19, 1, StatusDegraded}, // exactly 5%
		{9, 1, StatusDegraded},  // 10%
		{4, 1, StatusCritical},  // exactly 20%
		{2, 1, StatusCritical},  // 33%
		{1, 1, StatusFailed},    // exactly 50%
		{0, 5, StatusFailed},    // 100%
	}

	for _, tc := range cases {
		tr := NewTracker()
		for i := 0; i < tc.successes; i++ {
			tr.Record("s", "e", true, time.Millisecond)
		}
		var h EndpointHealth
		for i := 0; i < tc.failures; i++ {
			h = tr.Record("s", "e", false, time.Millisecond)
		}
		if tc.failures == 0 {
			h, _ = tr.Get("s", "e")
		}
		if h.Status != tc.want {
			t.Errorf("%d ok / %d fail: got %s, want %s (rate %f)",
				tc.successes, tc.failures, h.Status, tc.want, h.ErrorRate)
		}
	}
}

// TestStatusMonotonic checks increasing error rate never lowers severity
func TestStatusMonotonic(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 20; i++ {
		tr.Record("s", "e", true, time.Millisecond)
	}

	prev := 0
	for i := 0; i < 40; i++ {
		h := tr.Record("s", "e", false, time.Millisecond)
		if h.Status.Severity() < prev {
			t.Fatalf("severity decreased from %d to %d at failure %d", prev, h.Status.Severity(), i)
		}
		prev = h.Status.Severity()
	}
}

// TestConsecutiveFailureStreak checks the streak resets on success
func TestConsecutiveFailureStreak(t *testing.T) {
	tr := NewTracker()

	tr.Record("s", "e", false, time.Millisecond)
	h := tr.Record("s", "e", false, time.Millisecond)
	if h.ConsecutiveFailures != 2 {
		t.Fatalf("streak = %d, want 2", h.ConsecutiveFailures)
	}

	h = tr.Record("s", "e", true, time.Millisecond)
	if h.ConsecutiveFailures != 0 {
		t.Fatalf("streak should reset on success, got %d", h.ConsecutiveFailures)
	}
}

// TestIncrementalMean checks the rolling average latency
func TestIncrementalMean(t *testing.T) {
	tr := NewTracker()

	tr.Record("s", "e", true, 100*time.Millisecond)
	tr.Record("s", "e", true, 200*time.Millisecond)
	h := tr.Record("s", "e", true, 300*time.Millisecond)

	if h.AvgResponseTime != 200*time.Millisecond {
		t.Fatalf("avg = %s, want 200ms", h.AvgResponseTime)
	}
}

// TestGetAllWorstFirst checks descending error rate ordering
func TestGetAllWorstFirst(t *testing.T) {
	tr := NewTracker()

	tr.Record("good", "e", true, time.Millisecond)
	tr.Record("bad", "e", false, time.Millisecond)
	tr.Record("mixed", "e", true, time.Millisecond)
	tr.Record("mixed", "e", false, time.Millisecond)

	all := tr.GetAll()
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	if all[0].Source != "bad" || all[1].Source != "mixed" || all[2].Source != "good" {
		t.Errorf("wrong order: %s, %s, %s", all[0].Source, all[1].Source, all[2].Source)
	}
}

// TestConcurrentRecords hammers one key from many goroutines and checks
// the counters stay consistent
func TestConcurrentRecords(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record("s", "e", !fail, time.Millisecond)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	h, _ := tr.Get("s", "e")
	if h.TotalRequests != 1000 {
		t.Fatalf("total = %d, want 1000", h.TotalRequests)
	}
	if h.FailedRequests != 500 {
		t.Fatalf("failed = %d, want 500", h.FailedRequests)
	}
	if h.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", h.Status)
	}
}

// TestLoadSeedsRecords checks startup restore recomputes status
func TestLoadSeedsRecords(t *testing.T) {
	tr := NewTracker()
	tr.Load([]EndpointHealth{
		{Source: "s", Endpoint: "e", TotalRequests: 10, FailedRequests: 6, ErrorRate: 0.6},
	})

	h, ok := tr.Get("s", "e")
	if !ok {
		t.Fatal("loaded record not found")
	}
	if h.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", h.Status)
	}
}
