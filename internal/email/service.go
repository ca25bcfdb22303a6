// Package email sends alert notifications over SMTP.
package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	To       []string
}

// Service handles email sending operations
type Service struct {
	config SMTPConfig
	log    zerolog.Logger
}

// NewService creates a new email service
func NewService(cfg SMTPConfig, log zerolog.Logger) *Service {
	if cfg.FromName == "" {
		cfg.FromName = "Datafeed Sentinel"
	}
	return &Service{
		config: cfg,
		log:    log.With().Str("component", "email").Logger(),
	}
}

// IsConfigured reports whether the service has enough settings to send
func (s *Service) IsConfigured() bool {
	c := s.config
	return c.Host != "" && c.Port != "" && c.From != "" && len(c.To) > 0
}

// Send sends an HTML email to the configured recipients
func (s *Service) Send(subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}

	from := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	message := []byte(
		"From: " + from + "\r\n" +
			"To: " + strings.Join(s.config.To, ", ") + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body + "\r\n",
	)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := s.config.Host + ":" + s.config.Port
	s.log.Debug().Str("host", s.config.Host).Str("port", s.config.Port).Msg("sending alert email")

	var err error
	// Port 465 speaks TLS from the first byte, 587/25 use STARTTLS or plain
	if s.config.Port == "465" {
		err = s.sendTLS(addr, auth, message)
	} else {
		err = smtp.SendMail(addr, auth, s.config.From, s.config.To, message)
	}

	if err != nil {
		s.log.Error().Err(err).Msg("email send failed")
		return fmt.Errorf("SMTP error: %w", err)
	}
	return nil
}

func (s *Service) sendTLS(addr string, auth smtp.Auth, msg []byte) error {
	host := strings.Split(addr, ":")[0]

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range s.config.To {
		if err = client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to add recipient: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}
