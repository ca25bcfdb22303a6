package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/diagnosis"
	"datafeed-sentinel/internal/events"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
)

// Store persists alerts. Implemented by the database repository.
type Store interface {
	SaveAlert(ctx context.Context, alert *Alert) error
	MarkAlertResolved(ctx context.Context, id string, at time.Time) error
}

// Manager creates, dispatches, suppresses and resolves alerts
type Manager struct {
	channels     []Channel
	bus          *events.Bus
	store        Store
	log          zerolog.Logger
	suppressFor  time.Duration
	resolveDelay time.Duration

	mu       sync.Mutex
	open     map[string]*Alert    // dedup key -> open alert
	lastSent map[string]time.Time // channel|dedup key -> last dispatch

	// OnOpenChange, when set, receives the open-alert count after every
	// dispatch and resolution. Set before the first alert is raised.
	OnOpenChange func(open int)
}

// Defaults for duplicate suppression and auto-resolve
const (
	DefaultSuppressWindow = time.Hour
	DefaultResolveDelay   = 5 * time.Second
)

// NewManager creates an alert manager. Store may be nil for deployments
// without persistence.
func NewManager(bus *events.Bus, store Store, suppressFor, resolveDelay time.Duration, log zerolog.Logger) *Manager {
	if suppressFor <= 0 {
		suppressFor = DefaultSuppressWindow
	}
	if resolveDelay <= 0 {
		resolveDelay = DefaultResolveDelay
	}
	return &Manager{
		bus:          bus,
		store:        store,
		log:          log.With().Str("component", "alerting").Logger(),
		suppressFor:  suppressFor,
		resolveDelay: resolveDelay,
		open:         make(map[string]*Alert),
		lastSent:     make(map[string]time.Time),
	}
}

// AddChannel registers a notification channel
func (m *Manager) AddChannel(c Channel) {
	m.channels = append(m.channels, c)
}

// CreateAlert builds an alert from an error, the endpoint's health and the
// healing outcome. Successful healing yields an info-level, auto-resolving
// alert: the incident is recorded but no human is notified.
func (m *Manager) CreateAlert(ev *classify.ErrorEvent, h health.EndpointHealth, res *healing.Result, report diagnosis.Report) *Alert {
	healed := res != nil && res.Success

	a := &Alert{
		ID:               uuid.New().String(),
		Timestamp:        time.Now().UTC(),
		Level:            levelFor(h.Status, healed),
		Source:           ev.Source,
		Endpoint:         ev.Endpoint,
		HealthStatus:     h.Status,
		HealingAttempted: res != nil,
		HealingSucceeded: healed,
		AutoResolve:      healed,
	}

	if healed {
		a.Title = fmt.Sprintf("%s/%s recovered automatically", ev.Source, ev.Endpoint)
		a.Message = fmt.Sprintf("%s healed by %s: %s", ev.Kind, res.StrategyUsed, ev.Message)
	} else {
		a.Title = fmt.Sprintf("%s on %s/%s", ev.Kind, ev.Source, ev.Endpoint)
		a.Message = fmt.Sprintf("%s. %s", ev.Message, report.RootCause)
		a.RecommendedActions = report.RecommendedFixes
	}

	return a
}

func levelFor(status health.Status, healed bool) Level {
	if healed {
		return LevelInfo
	}
	switch status {
	case health.StatusFailed:
		return LevelCritical
	case health.StatusCritical:
		return LevelError
	case health.StatusDegraded:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Dispatch routes the alert to every channel whose minimum level it
// meets, suppressing per-channel duplicates inside the suppress window.
// Auto-resolving alerts are cleared shortly after.
func (m *Manager) Dispatch(a *Alert) {
	m.mu.Lock()
	m.open[a.dedupKey()] = a
	n := len(m.open)
	m.mu.Unlock()
	m.notifyOpen(n)

	if m.store != nil {
		if err := m.store.SaveAlert(context.Background(), a); err != nil {
			m.log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert")
		}
	}

	for _, ch := range m.channels {
		if !a.Level.AtLeast(ch.MinLevel()) {
			continue
		}
		if m.suppressed(ch.Name(), a) {
			m.log.Debug().Str("channel", ch.Name()).Str("alert_id", a.ID).
				Msg("duplicate alert suppressed")
			continue
		}
		if err := ch.Send(a); err != nil {
			m.log.Error().Err(err).Str("channel", ch.Name()).
				Str("alert_id", a.ID).Msg("alert channel send failed")
		}
	}

	m.log.Info().Str("alert_id", a.ID).Str("level", string(a.Level)).
		Str("source", a.Source).Str("endpoint", a.Endpoint).Msg("alert dispatched")

	if a.AutoResolve {
		time.AfterFunc(m.resolveDelay, func() {
			m.resolve(a)
		})
	}
}

// suppressed records the send time and reports whether an identical alert
// already went to this channel inside the window
func (m *Manager) suppressed(channel string, a *Alert) bool {
	key := channel + "|" + a.dedupKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastSent[key]; ok && time.Since(last) < m.suppressFor {
		return true
	}
	m.lastSent[key] = time.Now()
	return false
}

// ResolveFor clears any open alert for an endpoint that returned to
// healthy, notifying the dashboard that the incident closed
func (m *Manager) ResolveFor(source, endpoint string) {
	m.mu.Lock()
	var toResolve []*Alert
	for _, a := range m.open {
		if a.Source == source && a.Endpoint == endpoint && !a.Resolved() {
			toResolve = append(toResolve, a)
		}
	}
	m.mu.Unlock()

	for _, a := range toResolve {
		m.resolve(a)
	}
}

func (m *Manager) resolve(a *Alert) {
	now := time.Now().UTC()

	m.mu.Lock()
	if a.Resolved() {
		m.mu.Unlock()
		return
	}
	a.ResolvedAt = &now
	delete(m.open, a.dedupKey())
	n := len(m.open)
	m.mu.Unlock()
	m.notifyOpen(n)

	if m.store != nil {
		if err := m.store.MarkAlertResolved(context.Background(), a.ID, now); err != nil {
			m.log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert resolution")
		}
	}

	m.bus.PublishAlertResolved(a.ID)
	m.log.Info().Str("alert_id", a.ID).Msg("alert resolved")
}

func (m *Manager) notifyOpen(n int) {
	if m.OnOpenChange != nil {
		m.OnOpenChange(n)
	}
}

// Open returns the currently open alerts, newest first
func (m *Manager) Open() []Alert {
	m.mu.Lock()
	out := make([]Alert, 0, len(m.open))
	for _, a := range m.open {
		out = append(out, *a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
