// Package learning recomputes strategy success rates and failure
// predictions from accumulated healing history. Knowledge is split into
// a slow-moving outer layer shared across sources and a fast-moving
// inner layer per source.
package learning

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
)

// SourceKnowledge is the fast-moving inner layer for one source
type SourceKnowledge struct {
	PatternCounts map[string]int      `json:"pattern_counts"`
	FixSequences  map[string][]string `json:"fix_sequences"`
}

// Knowledge is the serializable two-layer snapshot persisted across
// restarts. Outer maps strategy name to global success rate.
type Knowledge struct {
	Outer     map[string]float64          `json:"outer"`
	Inner     map[string]*SourceKnowledge `json:"inner"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

type historyEntry struct {
	source   string
	pattern  string
	strategy string
	success  bool
}

// Learner accumulates healing outcomes and periodically folds them into
// the knowledge base.
type Learner struct {
	registry *healing.Registry
	tracker  *health.Tracker
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	kb      Knowledge
	history []historyEntry

	// TuneThresholds, when set, runs after each recompute with the fresh
	// knowledge so deployments can adjust detection thresholds. Unused by
	// default.
	TuneThresholds func(Knowledge)
}

// NewLearner creates a learner over the registry and tracker
func NewLearner(registry *healing.Registry, tracker *health.Tracker, interval time.Duration, log zerolog.Logger) *Learner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Learner{
		registry: registry,
		tracker:  tracker,
		interval: interval,
		log:      log.With().Str("component", "learning").Logger(),
		kb: Knowledge{
			Outer: make(map[string]float64),
			Inner: make(map[string]*SourceKnowledge),
		},
	}
}

// RecordOutcome appends one healing outcome to the pending history.
// Called by the monitor after each healing pass, carrying the pattern
// the diagnosis assigned to the incident.
func (l *Learner) RecordOutcome(ev *classify.ErrorEvent, pattern string, res healing.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, historyEntry{
		source:   ev.Source,
		pattern:  pattern,
		strategy: res.StrategyUsed,
		success:  res.Success,
	})
}

// Run recomputes knowledge on the configured cadence until ctx ends
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Recompute()
		}
	}
}

// Recompute folds the pending history into both knowledge layers
func (l *Learner) Recompute() Knowledge {
	stats := l.registry.AllStats()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, st := range stats {
		l.kb.Outer[st.Name] = st.SuccessRate
	}

	for _, h := range l.history {
		sk, ok := l.kb.Inner[h.source]
		if !ok {
			sk = &SourceKnowledge{
				PatternCounts: make(map[string]int),
				FixSequences:  make(map[string][]string),
			}
			l.kb.Inner[h.source] = sk
		}
		sk.PatternCounts[h.pattern]++
		if h.success && h.strategy != "" {
			sk.FixSequences[h.pattern] = appendUnique(sk.FixSequences[h.pattern], h.strategy)
		}
	}

	processed := len(l.history)
	l.history = l.history[:0]
	l.kb.UpdatedAt = time.Now().UTC()

	if processed > 0 {
		l.log.Info().Int("outcomes", processed).Msg("knowledge base recomputed")
	}

	snapshot := l.snapshotLocked()
	if l.TuneThresholds != nil {
		l.TuneThresholds(snapshot)
	}
	return snapshot
}

// PredictFailureProbability scores how likely an endpoint is to fail
// next, 0 to 1, for proactive alerting. Weighted blend of the failure
// streak, the error rate and the time since the last success.
func (l *Learner) PredictFailureProbability(source, endpoint string) float64 {
	h, ok := l.tracker.Get(source, endpoint)
	if !ok {
		return 0
	}

	streak := math.Min(float64(h.ConsecutiveFailures)/10, 1)
	rate := math.Min(h.ErrorRate*2, 1)

	staleness := 1.0
	if !h.LastSuccess.IsZero() {
		staleness = math.Min(time.Since(h.LastSuccess).Seconds()/3600, 1)
	}

	return 0.4*streak + 0.4*rate + 0.2*staleness
}

// Snapshot exports the knowledge base for persistence
func (l *Learner) Snapshot() Knowledge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Learner) snapshotLocked() Knowledge {
	out := Knowledge{
		Outer:     make(map[string]float64, len(l.kb.Outer)),
		Inner:     make(map[string]*SourceKnowledge, len(l.kb.Inner)),
		UpdatedAt: l.kb.UpdatedAt,
	}
	for k, v := range l.kb.Outer {
		out.Outer[k] = v
	}
	for src, sk := range l.kb.Inner {
		cp := &SourceKnowledge{
			PatternCounts: make(map[string]int, len(sk.PatternCounts)),
			FixSequences:  make(map[string][]string, len(sk.FixSequences)),
		}
		for p, n := range sk.PatternCounts {
			cp.PatternCounts[p] = n
		}
		for p, seq := range sk.FixSequences {
			cp.FixSequences[p] = append([]string(nil), seq...)
		}
		out.Inner[src] = cp
	}
	return out
}

// Restore loads a persisted knowledge snapshot at startup
func (l *Learner) Restore(kb Knowledge) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kb.Outer != nil {
		l.kb.Outer = kb.Outer
	}
	if kb.Inner != nil {
		l.kb.Inner = kb.Inner
	}
	l.kb.UpdatedAt = kb.UpdatedAt
}

func appendUnique(seq []string, s string) []string {
	for _, v := range seq {
		if v == s {
			return seq
		}
	}
	return append(seq, s)
}
