package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-outbox/internal/template"
	"go.uber.org/zap"
)

const consoleProviderName = "CONSOLE"

// ConsoleProvider "delivers" by writing the message to the log. It is the
// default provider for local development and always succeeds.
type ConsoleProvider struct {
	logger *zap.Logger
}

func NewConsoleProvider(logger *zap.Logger) *ConsoleProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleProvider{logger: logger}
}

func (p *ConsoleProvider) Name() string {
	return consoleProviderName
}

func (p *ConsoleProvider) Send(_ context.Context, msg template.Message) (string, error) {
	providerMessageID := fmt.Sprintf("console-%s", uuid.NewString())

	p.logger.Info("email sent",
		zap.String("provider", p.Name()),
		zap.String("messageId", providerMessageID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.TextBody),
	)

	return providerMessageID, nil
}
