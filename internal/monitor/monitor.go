// Package monitor owns the concurrent polling of all registered
// endpoints and drives the classify, record, heal, alert pipeline.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/alerting"
	"datafeed-sentinel/internal/cache"
	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/diagnosis"
	"datafeed-sentinel/internal/events"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
	"datafeed-sentinel/internal/learning"
	"datafeed-sentinel/internal/metrics"
)

// CheckFunc issues one check against a data source, returning the parsed
// body, the transport status code (0 when not applicable) and any error.
type CheckFunc func(ctx context.Context, params map[string]interface{}) (body []byte, status int, err error)

// Target is one monitored (source, endpoint) pair
type Target struct {
	Source   string
	Endpoint string
	Check    CheckFunc
	Params   map[string]interface{}
	Interval time.Duration
	Timeout  time.Duration

	mu     sync.Mutex
	paused bool
}

// Pause stops the target's checks without removing it
func (t *Target) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume restarts a paused target
func (t *Target) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Paused reports whether the target is paused
func (t *Target) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// EventSink persists error events for audit and learning. Implemented by
// the database repository.
type EventSink interface {
	SaveErrorEvent(ctx context.Context, ev *classify.ErrorEvent) error
}

// Monitor runs one poller goroutine per target. A slow or failing target
// never delays another target's checks.
type Monitor struct {
	classifier  *classify.Classifier
	tracker     *health.Tracker
	coordinator *healing.Coordinator
	alerts      *alerting.Manager
	learner     *learning.Learner
	store       *cache.Emergency
	bus         *events.Bus
	metrics     *metrics.Metrics
	sink        EventSink
	log         zerolog.Logger

	mu      sync.Mutex
	targets map[string]*Target

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config wires the monitor's collaborators
type Config struct {
	Classifier  *classify.Classifier
	Tracker     *health.Tracker
	Coordinator *healing.Coordinator
	Alerts      *alerting.Manager
	Learner     *learning.Learner
	Cache       *cache.Emergency
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Sink        EventSink
	Logger      zerolog.Logger
}

// New creates a monitor. The open-alerts gauge tracks the alert
// manager's open set through its change callback so resolutions are
// reflected too, not just new alerts.
func New(cfg Config) *Monitor {
	if cfg.Metrics != nil && cfg.Alerts != nil {
		gauge := cfg.Metrics.OpenAlerts
		cfg.Alerts.OnOpenChange = func(open int) {
			gauge.Set(float64(open))
		}
	}
	return &Monitor{
		classifier:  cfg.Classifier,
		tracker:     cfg.Tracker,
		coordinator: cfg.Coordinator,
		alerts:      cfg.Alerts,
		learner:     cfg.Learner,
		store:       cfg.Cache,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		sink:        cfg.Sink,
		log:         cfg.Logger.With().Str("component", "monitor").Logger(),
		targets:     make(map[string]*Target),
		stop:        make(chan struct{}),
	}
}

// AddTarget registers a monitoring target. Defaults: 60s interval, 10s
// timeout.
func (m *Monitor) AddTarget(t *Target) {
	if t.Interval <= 0 {
		t.Interval = time.Minute
	}
	if t.Timeout <= 0 {
		t.Timeout = 10 * time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.Source+"|"+t.Endpoint] = t
}

// GetTarget looks up a registered target
func (m *Monitor) GetTarget(source, endpoint string) (*Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[source+"|"+endpoint]
	return t, ok
}

// Start launches one poller per registered target
func (m *Monitor) Start() {
	m.mu.Lock()
	targets := make([]*Target, 0, len(m.targets))
	for _, t := range m.targets {
		targets = append(targets, t)
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.wg.Add(1)
		go m.runTarget(t)
	}
	m.log.Info().Int("targets", len(targets)).Msg("monitoring started")
}

// Stop halts all pollers and waits for in-flight checks
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
	m.log.Info().Msg("monitoring stopped")
}

func (m *Monitor) runTarget(t *Target) {
	defer m.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	m.CheckOnce(t)

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !t.Paused() {
				m.CheckOnce(t)
			}
		}
	}
}

// CheckOnce runs a single detect-and-heal cycle for one target. Every
// failure, including a panicking check function, is contained here so one
// endpoint can never crash the loop. A panic is treated like any other
// failed check and flows through the same healing pipeline.
func (m *Monitor) CheckOnce(t *Target) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("source", t.Source).
				Str("endpoint", t.Endpoint).Msg("check panicked")
			ev := classify.NewEvent(t.Source, t.Endpoint, classify.KindNetworkError,
				fmt.Sprintf("check panicked: %v", r))
			h := m.tracker.Record(t.Source, t.Endpoint, false, 0)
			m.observe(t, false, 0, h)
			m.bus.PublishHealthUpdate(h)
			m.handleFailure(t, ev, h)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()

	start := time.Now()
	body, status, err := t.Check(ctx, t.Params)
	elapsed := time.Since(start)

	ev := m.classifier.Classify(t.Source, t.Endpoint, classify.Outcome{
		Err:        err,
		StatusCode: status,
		Body:       body,
		Elapsed:    elapsed,
	})

	success := ev == nil
	h := m.tracker.Record(t.Source, t.Endpoint, success, elapsed)
	m.observe(t, success, elapsed, h)
	m.bus.PublishHealthUpdate(h)

	if success {
		m.store.Store(ctx, t.Source, t.Endpoint, body)
		m.alerts.ResolveFor(t.Source, t.Endpoint)
		return
	}

	m.handleFailure(t, ev, h)
}

// handleFailure drives one failed check through persistence, diagnosis,
// healing and alerting
func (m *Monitor) handleFailure(t *Target, ev *classify.ErrorEvent, h health.EndpointHealth) {
	m.log.Warn().Str("source", t.Source).Str("endpoint", t.Endpoint).
		Str("kind", string(ev.Kind)).Str("status", string(h.Status)).
		Msg("endpoint check failed")

	if m.metrics != nil {
		m.metrics.ErrorsTotal.WithLabelValues(t.Source, string(ev.Kind)).Inc()
	}
	m.saveEvent(ev)

	report := diagnosis.Diagnose(ev, h)
	m.bus.Publish(events.Event{
		Type: events.EventHealingStarted,
		Data: map[string]interface{}{"source": t.Source, "endpoint": t.Endpoint, "kind": string(ev.Kind)},
	})

	// Healing gets its own context: the check's deadline is usually
	// already spent by the time we get here.
	res := m.coordinator.Heal(context.Background(), ev, m.retryFunc(t), t.Params)
	m.learner.RecordOutcome(ev, report.Pattern, res)

	// The coordinator attached the healing outcome to the event; save
	// again so the audit trail records who healed it
	m.saveEvent(ev)

	outcome := events.EventHealingFailed
	if res.Success {
		outcome = events.EventHealingSucceeded
		if len(res.Data) > 0 {
			m.store.Store(context.Background(), t.Source, t.Endpoint, res.Data)
		}
	}
	m.bus.Publish(events.Event{
		Type: outcome,
		Data: map[string]interface{}{"source": t.Source, "endpoint": t.Endpoint, "strategy": res.StrategyUsed},
	})
	if m.metrics != nil {
		label := "failed"
		if res.Success {
			label = "succeeded"
		}
		m.metrics.HealingAttempts.WithLabelValues(t.Source, label).Inc()
	}

	// Health may have shifted while healing retried the fetch
	if latest, ok := m.tracker.Get(t.Source, t.Endpoint); ok {
		h = latest
	}

	alert := m.alerts.CreateAlert(ev, h, &res, report)
	m.alerts.Dispatch(alert)
}

func (m *Monitor) saveEvent(ev *classify.ErrorEvent) {
	if m.sink == nil {
		return
	}
	if err := m.sink.SaveErrorEvent(context.Background(), ev); err != nil {
		m.log.Error().Err(err).Msg("failed to persist error event")
	}
}

// retryFunc adapts the target's check into the healing retry shape. A
// check that panics again during healing surfaces as a retry error so
// the strategy moves on instead of unwinding the poller.
func (m *Monitor) retryFunc(t *Target) healing.RetryFunc {
	return func(ctx context.Context, params map[string]interface{}) (data []byte, err error) {
		defer func() {
			if r := recover(); r != nil {
				data, err = nil, fmt.Errorf("check panicked: %v", r)
			}
		}()

		start := time.Now()
		body, status, err := t.Check(ctx, params)
		elapsed := time.Since(start)
		if err != nil {
			return nil, err
		}
		if ev := m.classifier.Classify(t.Source, t.Endpoint, classify.Outcome{
			StatusCode: status, Body: body, Elapsed: elapsed,
		}); ev != nil {
			return nil, fmt.Errorf("retry still unhealthy: %s", ev.Message)
		}
		return body, nil
	}
}

func (m *Monitor) observe(t *Target, success bool, elapsed time.Duration, h health.EndpointHealth) {
	if m.metrics == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.metrics.ChecksTotal.WithLabelValues(t.Source, t.Endpoint, result).Inc()
	m.metrics.CheckDuration.WithLabelValues(t.Source, t.Endpoint).Observe(elapsed.Seconds())
	m.metrics.EndpointErrorRate.WithLabelValues(t.Source, t.Endpoint).Set(h.ErrorRate)
}
