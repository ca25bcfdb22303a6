package healing

import (
	"sort"
	"sync"

	"datafeed-sentinel/internal/classify"
)

// Registry is the catalog of healing strategies, built once at startup.
// Only strategy counters mutate after registration.
type Registry struct {
	mu         sync.RWMutex
	strategies []*Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a strategy. Registration order is the final tie-break
// for candidate ordering, so selection stays deterministic.
func (r *Registry) Register(s *Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.regOrder = len(r.strategies)
	r.strategies = append(r.strategies, s)
}

// Candidates returns the strategies applicable to the event, sorted by
// priority ascending, then learned success rate descending, then
// registration order. Priority is the primary key so hand-authored
// ordering always wins over a thin learned-rate edge.
func (r *Registry) Candidates(ev *classify.ErrorEvent) []*Strategy {
	r.mu.RLock()
	var out []*Strategy
	for _, s := range r.strategies {
		if s.Applicable(ev) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		ri, rj := out[i].SuccessRate(), out[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return out[i].regOrder < out[j].regOrder
	})
	return out
}

// Get looks up a strategy by name
func (r *Registry) Get(name string) (*Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// AllStats returns a snapshot of every registered strategy
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s.Snapshot())
	}
	return out
}

// RestoreCounts seeds strategy counters from persisted stats, matching
// by name. Unknown names are ignored.
func (r *Registry) RestoreCounts(stats []Stats) {
	for _, st := range stats {
		if s, ok := r.Get(st.Name); ok {
			s.SetCounts(st.SuccessCount, st.FailureCount)
		}
	}
}
