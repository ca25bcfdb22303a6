package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"datafeed-sentinel/internal/email"
	"datafeed-sentinel/internal/events"
)

// Channel is one notification destination. The manager routes alerts to
// every channel whose minimum level the alert meets, and rate-limits
// duplicates per channel.
type Channel interface {
	Name() string
	MinLevel() Level
	Send(alert *Alert) error
}

// DashboardChannel pushes every alert onto the event bus, where the
// websocket hub forwards it to connected dashboards
type DashboardChannel struct {
	bus *events.Bus
}

// NewDashboardChannel creates the dashboard channel
func NewDashboardChannel(bus *events.Bus) *DashboardChannel {
	return &DashboardChannel{bus: bus}
}

func (d *DashboardChannel) Name() string    { return "dashboard" }
func (d *DashboardChannel) MinLevel() Level { return LevelInfo }

func (d *DashboardChannel) Send(alert *Alert) error {
	d.bus.PublishAlert(alert)
	return nil
}

// EmailChannel mails error and critical alerts to the operator list
type EmailChannel struct {
	service *email.Service
}

// NewEmailChannel creates the email channel
func NewEmailChannel(service *email.Service) *EmailChannel {
	return &EmailChannel{service: service}
}

func (e *EmailChannel) Name() string    { return "email" }
func (e *EmailChannel) MinLevel() Level { return LevelError }

func (e *EmailChannel) Send(alert *Alert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Level)), alert.Title)
	return e.service.Send(subject, alertEmailBody(alert))
}

func alertEmailBody(a *Alert) string {
	healing := "not attempted"
	if a.HealingAttempted {
		healing = "attempted, failed"
		if a.HealingSucceeded {
			healing = "attempted, succeeded"
		}
	}

	var actions strings.Builder
	for _, action := range a.RecommendedActions {
		actions.WriteString("<li>" + action + "</li>")
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #DC2626; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { background-color: #f9fafb; padding: 30px; border-radius: 0 0 5px 5px; }
        .row { margin: 8px 0; }
        .label { font-weight: bold; }
        .footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
        </div>
        <div class="content">
            <p>%s</p>
            <div class="row"><span class="label">Source:</span> %s</div>
            <div class="row"><span class="label">Endpoint:</span> %s</div>
            <div class="row"><span class="label">Health status:</span> %s</div>
            <div class="row"><span class="label">Automatic healing:</span> %s</div>
            <p class="label">Recommended actions:</p>
            <ul>%s</ul>
        </div>
        <div class="footer">
            <p>Datafeed Sentinel &mdash; raised at %s</p>
        </div>
    </div>
</body>
</html>
`, a.Title, a.Message, a.Source, a.Endpoint, a.HealthStatus, healing,
		actions.String(), a.Timestamp.Format(time.RFC3339))
}

// SMSChannel posts critical alerts to an SMS gateway webhook
type SMSChannel struct {
	gatewayURL string
	apiKey     string
	recipients []string
	client     *http.Client
}

// SMSConfig holds SMS gateway configuration
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Recipients []string
}

// NewSMSChannel creates the SMS channel
func NewSMSChannel(cfg SMSConfig) *SMSChannel {
	return &SMSChannel{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		recipients: cfg.Recipients,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SMSChannel) Name() string    { return "sms" }
func (s *SMSChannel) MinLevel() Level { return LevelCritical }

func (s *SMSChannel) Send(alert *Alert) error {
	payload := map[string]interface{}{
		"api_key": s.apiKey,
		"to":      s.recipients,
		"message": smsText(alert),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	resp, err := s.client.Post(s.gatewayURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// smsText keeps the message inside a single 160-character SMS
func smsText(a *Alert) string {
	msg := fmt.Sprintf("CRITICAL %s/%s: %s", a.Source, a.Endpoint, a.Title)
	if len(msg) > 160 {
		msg = msg[:157] + "..."
	}
	return msg
}
