package healing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/classify"
)

// Coordinator selects applicable strategies for a classified error and
// tries them in ranked order, feeding outcomes back into the registry.
type Coordinator struct {
	registry *Registry
	budget   time.Duration
	log      zerolog.Logger
}

// DefaultBudget bounds one endpoint's whole healing pass so exhausted
// strategies escalate to alerting instead of retrying forever
const DefaultBudget = 2 * time.Minute

// NewCoordinator creates a coordinator over the given registry
func NewCoordinator(registry *Registry, budget time.Duration, log zerolog.Logger) *Coordinator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Coordinator{
		registry: registry,
		budget:   budget,
		log:      log.With().Str("component", "healing").Logger(),
	}
}

// Heal works through the ranked candidates for the event. The first
// successful strategy wins; its name is attached to the event. When every
// candidate fails, all tried strategies get a failure mark and the
// returned result carries no data.
func (c *Coordinator) Heal(ctx context.Context, ev *classify.ErrorEvent, retry RetryFunc, params map[string]interface{}) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	candidates := c.registry.Candidates(ev)
	if len(candidates) == 0 {
		c.log.Warn().Str("source", ev.Source).Str("endpoint", ev.Endpoint).
			Str("kind", string(ev.Kind)).Msg("no healing strategy applies")
		return Result{Duration: time.Since(start), Message: "no applicable strategy"}
	}

	var tried []*Strategy
	for _, s := range candidates {
		if ctx.Err() != nil {
			break
		}
		tried = append(tried, s)

		c.log.Debug().Str("strategy", s.Name).Str("source", ev.Source).
			Str("endpoint", ev.Endpoint).Msg("attempting healing strategy")

		res := s.Attempt(ctx, ev, retry, params)
		if res.Success {
			res.StrategyUsed = s.Name
			res.Duration = time.Since(start)
			s.recordSuccess(res.Duration)

			ev.AutoHealed = true
			ev.HealedBy = s.Name

			c.log.Info().Str("strategy", s.Name).Str("source", ev.Source).
				Str("endpoint", ev.Endpoint).Dur("took", res.Duration).
				Msg("healing succeeded")
			return res
		}
	}

	for _, s := range tried {
		s.recordFailure()
	}

	c.log.Warn().Str("source", ev.Source).Str("endpoint", ev.Endpoint).
		Str("kind", string(ev.Kind)).Int("strategies_tried", len(tried)).
		Msg("all healing strategies exhausted")

	return Result{Duration: time.Since(start), Message: "all strategies exhausted"}
}
