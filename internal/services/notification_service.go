package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/config"
	"github.com/docflowhq/docflow/pkg/logger"
)

// NotificationChannel represents different notification channels
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSlack NotificationChannel = "slack"
)

// TemplateStore resolves template keys to message templates.
type TemplateStore interface {
	Get(key string) (*MessageTemplate, error)
}

// MessageTemplate is one named subject/body pair with placeholders.
type MessageTemplate struct {
	Key     string
	Subject string
	Body    string
}

// NotificationService renders templated messages and dispatches them
// over the configured channels. It implements engine.NotificationAdapter:
// a missing template or absent channel is a configuration error
// (engine.ErrNotificationConfig), a delivery failure is not.
type NotificationService struct {
	config      *config.NotificationConfig
	logger      *logger.Logger
	templates   TemplateStore
	renderer    *TemplateRenderer
	emailClient *EmailClient
	slackClient *SlackClient
}

// EmailClient handles email sending
type EmailClient struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
}

// SlackClient handles Slack webhook notifications
type SlackClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotificationService creates a new notification service.
func NewNotificationService(cfg *config.NotificationConfig, templates TemplateStore, log *logger.Logger) *NotificationService {
	svc := &NotificationService{
		config:    cfg,
		logger:    log,
		templates: templates,
		renderer:  NewTemplateRenderer(),
	}

	if cfg.Email.Enabled {
		svc.emailClient = &EmailClient{
			smtpHost: cfg.Email.SMTPHost,
			smtpPort: cfg.Email.SMTPPort,
			username: cfg.Email.SMTPUser,
			password: cfg.Email.SMTPPassword,
			from:     cfg.Email.FromAddress,
		}
	}

	if cfg.Slack.Enabled {
		svc.slackClient = &SlackClient{
			webhookURL: cfg.Slack.WebhookURL,
			httpClient: &http.Client{Timeout: 10 * time.Second},
		}
	}

	return svc
}

// Render resolves the template key and substitutes variables into its
// subject and body.
func (s *NotificationService) Render(templateKey string, variables map[string]interface{}) (*models.RenderedMessage, error) {
	tmpl, err := s.templates.Get(templateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: template %q: %v", engine.ErrNotificationConfig, templateKey, err)
	}

	return &models.RenderedMessage{
		TemplateKey: templateKey,
		Subject:     s.renderer.Render(tmpl.Subject, variables),
		Body:        s.renderer.Render(tmpl.Body, variables),
	}, nil
}

// Send dispatches the message to every recipient over the enabled
// channels. With no channel enabled it reports a configuration error;
// partial delivery failures are collected into one delivery error.
func (s *NotificationService) Send(ctx context.Context, recipients []models.Recipient, message *models.RenderedMessage) error {
	if s.emailClient == nil && s.slackClient == nil {
		return fmt.Errorf("%w: no notification channel enabled", engine.ErrNotificationConfig)
	}

	var deliveryErrors []error

	if s.emailClient != nil {
		for _, recipient := range recipients {
			if recipient.Email == "" {
				s.logger.Warnf("recipient %s has no email address, skipping", recipient.ID)
				continue
			}
			if err := s.sendEmail(recipient.Email, message); err != nil {
				s.logger.Errorf("failed to email %s: %v", recipient.Email, err)
				deliveryErrors = append(deliveryErrors, err)
			}
		}
	}

	if s.slackClient != nil {
		if err := s.sendSlack(ctx, recipients, message); err != nil {
			s.logger.Errorf("failed to send Slack message: %v", err)
			deliveryErrors = append(deliveryErrors, err)
		}
	}

	if len(deliveryErrors) > 0 {
		return fmt.Errorf("notification delivery errors: %v", deliveryErrors)
	}

	s.logger.Debugf("notification %q delivered to %d recipients", message.TemplateKey, len(recipients))
	return nil
}

// sendEmail sends one message over SMTP.
func (s *NotificationService) sendEmail(to string, message *models.RenderedMessage) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.emailClient.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", message.Subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(message.Body)

	auth := smtp.PlainAuth("", s.emailClient.username, s.emailClient.password, s.emailClient.smtpHost)
	addr := fmt.Sprintf("%s:%d", s.emailClient.smtpHost, s.emailClient.smtpPort)

	if err := smtp.SendMail(addr, auth, s.emailClient.from, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// sendSlack posts one attachment to the configured webhook.
func (s *NotificationService) sendSlack(ctx context.Context, recipients []models.Recipient, message *models.RenderedMessage) error {
	names := make([]string, 0, len(recipients))
	for _, r := range recipients {
		names = append(names, r.Name)
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"title":  message.Subject,
				"text":   message.Body,
				"footer": fmt.Sprintf("docflow · %v", names),
				"ts":     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.slackClient.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.slackClient.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}
	return nil
}
