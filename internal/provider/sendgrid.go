package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-outbox/internal/template"
)

const (
	sendgridProviderName    = "SENDGRID"
	DefaultSendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

	defaultSendGridTimeout = 10 * time.Second
)

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

// SendGridConfig carries the credentials and sender identity for the SendGrid
// mail API. Missing credentials surface as send failures, not startup errors,
// so a misconfigured process still records its jobs.
type SendGridConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	Endpoint    string
}

// SendGridProvider posts rendered messages to the SendGrid v3 mail/send API.
type SendGridProvider struct {
	client *resty.Client
	cfg    SendGridConfig
}

func NewSendGridProvider(cfg SendGridConfig) *SendGridProvider {
	client := resty.New()
	client.SetTimeout(defaultSendGridTimeout)
	client.SetRetryCount(0)

	return NewSendGridProviderWithClient(cfg, client)
}

func NewSendGridProviderWithClient(cfg SendGridConfig, client *resty.Client) *SendGridProvider {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendGridTimeout)
	}
	client.SetRetryCount(0)

	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.FromAddress = strings.TrimSpace(cfg.FromAddress)
	if strings.TrimSpace(cfg.FromName) == "" {
		cfg.FromName = "Helpdesk"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultSendGridEndpoint
	}

	return &SendGridProvider{client: client, cfg: cfg}
}

func (p *SendGridProvider) Name() string {
	return sendgridProviderName
}

func (p *SendGridProvider) Send(ctx context.Context, msg template.Message) (string, error) {
	if p.cfg.APIKey == "" {
		return "", &SendError{Provider: p.Name(), Message: "api key is missing"}
	}
	if p.cfg.FromAddress == "" {
		return "", &SendError{Provider: p.Name(), Message: "from address is missing"}
	}

	reqBody := sendgridRequest{
		Personalizations: []sendgridPersonalization{
			{To: []sendgridAddress{{Email: msg.To}}},
		},
		From:    sendgridAddress{Email: p.cfg.FromAddress, Name: p.cfg.FromName},
		Subject: msg.Subject,
		Content: []sendgridContent{
			{Type: "text/plain", Value: msg.TextBody},
			{Type: "text/html", Value: msg.HTMLBody},
		},
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(p.cfg.APIKey).
		SetBody(reqBody).
		Post(p.cfg.Endpoint)
	if err != nil {
		return "", &SendError{
			Provider: p.Name(),
			Message:  "request failed",
			Cause:    err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return "", &SendError{
			Provider:   p.Name(),
			StatusCode: statusCode,
			Message:    sendgridErrorMessage(statusCode, strings.TrimSpace(response.String())),
		}
	}

	providerMessageID := strings.TrimSpace(response.Header().Get("X-Message-Id"))
	if providerMessageID == "" {
		providerMessageID = fmt.Sprintf("sendgrid-%s", uuid.NewString())
	}
	return providerMessageID, nil
}

func sendgridErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("sendgrid returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
