package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/diagnosis"
	"datafeed-sentinel/internal/events"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
)

type fakeChannel struct {
	name string
	min  Level

	mu   sync.Mutex
	sent []*Alert
}

func (f *fakeChannel) Name() string    { return f.name }
func (f *fakeChannel) MinLevel() Level { return f.min }
func (f *fakeChannel) Send(a *Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestManager(suppress, resolveDelay time.Duration) (*Manager, *fakeChannel, *fakeChannel, *fakeChannel) {
	m := NewManager(events.NewBus(), nil, suppress, resolveDelay, zerolog.Nop())
	dash := &fakeChannel{name: "dashboard", min: LevelInfo}
	mail := &fakeChannel{name: "email", min: LevelError}
	sms := &fakeChannel{name: "sms", min: LevelCritical}
	m.AddChannel(dash)
	m.AddChannel(mail)
	m.AddChannel(sms)
	return m, dash, mail, sms
}

func failedEvent() *classify.ErrorEvent {
	return &classify.ErrorEvent{Source: "alpha", Endpoint: "quotes",
		Kind: classify.KindRateLimit, Message: "HTTP 429"}
}

// TestLevelMapping checks (health status, healing outcome) to alert level
func TestLevelMapping(t *testing.T) {
	m, _, _, _ := newTestManager(time.Hour, time.Hour)
	ev := failedEvent()
	report := diagnosis.Report{RootCause: "x", RecommendedFixes: []string{"backoff_retry"}}

	healed := &healing.Result{Success: true, StrategyUsed: "cached_data"}
	a := m.CreateAlert(ev, health.EndpointHealth{Status: health.StatusFailed}, healed, report)
	if a.Level != LevelInfo || !a.AutoResolve {
		t.Errorf("healed alert should be info and auto-resolving, got %s/%v", a.Level, a.AutoResolve)
	}

	failedHealing := &healing.Result{Success: false}
	cases := map[health.Status]Level{
		health.StatusFailed:   LevelCritical,
		health.StatusCritical: LevelError,
		health.StatusDegraded: LevelWarning,
		health.StatusHealthy:  LevelInfo,
	}
	for status, want := range cases {
		a := m.CreateAlert(ev, health.EndpointHealth{Status: status}, failedHealing, report)
		if a.Level != want {
			t.Errorf("status %s: got %s, want %s", status, a.Level, want)
		}
	}
}

// TestChannelRouting checks dashboard always, email for error+, sms critical only
func TestChannelRouting(t *testing.T) {
	report := diagnosis.Report{RecommendedFixes: []string{"backoff_retry"}}

	cases := []struct {
		status            health.Status
		dash, mail, sms   int
	}{
		{health.StatusDegraded, 1, 0, 0},
		{health.StatusCritical, 1, 1, 0},
		{health.StatusFailed, 1, 1, 1},
	}

	for _, tc := range cases {
		m, dash, mail, sms := newTestManager(time.Hour, time.Hour)
		a := m.CreateAlert(failedEvent(), health.EndpointHealth{Status: tc.status}, &healing.Result{}, report)
		m.Dispatch(a)

		if dash.count() != tc.dash || mail.count() != tc.mail || sms.count() != tc.sms {
			t.Errorf("status %s: dash=%d mail=%d sms=%d, want %d/%d/%d",
				tc.status, dash.count(), mail.count(), sms.count(), tc.dash, tc.mail, tc.sms)
		}
	}
}

// TestDuplicateSuppression checks identical alerts rate-limit per channel
func TestDuplicateSuppression(t *testing.T) {
	m, dash, _, _ := newTestManager(time.Hour, time.Hour)
	report := diagnosis.Report{}

	for i := 0; i < 5; i++ {
		a := m.CreateAlert(failedEvent(), health.EndpointHealth{Status: health.StatusDegraded}, nil, report)
		m.Dispatch(a)
	}

	if dash.count() != 1 {
		t.Errorf("identical alerts sent %d times, want 1", dash.count())
	}

	// A different endpoint is not a duplicate
	other := &classify.ErrorEvent{Source: "alpha", Endpoint: "candles", Kind: classify.KindRateLimit}
	a := m.CreateAlert(other, health.EndpointHealth{Status: health.StatusDegraded}, nil, report)
	m.Dispatch(a)
	if dash.count() != 2 {
		t.Errorf("distinct alert should not be suppressed, sent %d", dash.count())
	}
}

// TestAutoResolve checks a healed alert clears within the configured delay
func TestAutoResolve(t *testing.T) {
	bus := events.NewBus()
	resolved := make(chan events.Event, 1)
	bus.Subscribe(events.EventAlertResolved, func(e events.Event) { resolved <- e })

	m := NewManager(bus, nil, time.Hour, 20*time.Millisecond, zerolog.Nop())
	m.AddChannel(&fakeChannel{name: "dashboard", min: LevelInfo})

	a := m.CreateAlert(failedEvent(), health.EndpointHealth{Status: health.StatusFailed},
		&healing.Result{Success: true, StrategyUsed: "cached_data"}, diagnosis.Report{})
	m.Dispatch(a)

	select {
	case e := <-resolved:
		if e.Data["alert_id"] != a.ID {
			t.Errorf("resolved wrong alert: %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("auto-resolving alert did not clear")
	}

	if len(m.Open()) != 0 {
		t.Error("resolved alert should leave the open set")
	}
}

// TestResolveFor checks recovery clears open alerts for that endpoint only
func TestResolveFor(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(bus, nil, time.Hour, time.Hour, zerolog.Nop())
	report := diagnosis.Report{}

	a1 := m.CreateAlert(failedEvent(), health.EndpointHealth{Status: health.StatusFailed}, nil, report)
	other := &classify.ErrorEvent{Source: "beta", Endpoint: "quotes", Kind: classify.KindTimeout}
	a2 := m.CreateAlert(other, health.EndpointHealth{Status: health.StatusFailed}, nil, report)
	m.Dispatch(a1)
	m.Dispatch(a2)

	m.ResolveFor("alpha", "quotes")

	open := m.Open()
	if len(open) != 1 || open[0].Source != "beta" {
		t.Errorf("expected only beta alert open, got %+v", open)
	}
}

// TestUnhealedAlertCarriesDiagnosis checks operators never start from zero
func TestUnhealedAlertCarriesDiagnosis(t *testing.T) {
	m, _, _, _ := newTestManager(time.Hour, time.Hour)
	report := diagnosis.Report{
		RootCause:        "request volume exceeded the provider's rate or quota limits",
		RecommendedFixes: []string{"cached_data", "backoff_retry"},
	}

	a := m.CreateAlert(failedEvent(), health.EndpointHealth{Status: health.StatusFailed},
		&healing.Result{Success: false}, report)

	if len(a.RecommendedActions) != 2 {
		t.Errorf("alert should carry recommended actions, got %v", a.RecommendedActions)
	}
	if !a.HealingAttempted || a.HealingSucceeded {
		t.Error("healing flags should show an attempted, failed healing")
	}
}

// TestSMSTextLength checks the SMS body never exceeds one message
func TestSMSTextLength(t *testing.T) {
	a := &Alert{
		Source:   "a-very-long-provider-name-for-testing",
		Endpoint: "an-equally-long-endpoint-name-that-keeps-going-and-going-and-going",
		Title:    "rate_limit on a-very-long-provider-name-for-testing and then some extra words",
	}

	if msg := smsText(a); len(msg) > 160 {
		t.Errorf("sms text is %d chars", len(msg))
	}
}
