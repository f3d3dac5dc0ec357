package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RedisURL         string `env:"REDIS_URL"`
	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	AppBaseURL       string `env:"APP_BASE_URL,default=http://localhost:5173"`
	EmailProvider    string `env:"EMAIL_PROVIDER,default=console"`
	SendGridAPIKey   string `env:"SENDGRID_API_KEY"`
	SendGridEndpoint string `env:"SENDGRID_ENDPOINT"`
	EmailFromAddress string `env:"EMAIL_FROM_ADDRESS,default=helpdesk@example.com"`
	EmailFromName    string `env:"EMAIL_FROM_NAME,default=Helpdesk"`
	WorkerBatchSize  int    `env:"WORKER_BATCH_SIZE,default=50"`
	MaxAttempts      int    `env:"MAX_ATTEMPTS,default=5"`
	WorkerIntervalMS int    `env:"WORKER_INTERVAL_MS,default=15000"`
	RateLimitPerSec  int    `env:"RATE_LIMIT_PER_SEC,default=0"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	switch cfg.EmailProvider {
	case "console", "sendgrid":
	default:
		return nil, fmt.Errorf("unsupported EMAIL_PROVIDER %q, want console or sendgrid", cfg.EmailProvider)
	}

	if cfg.EmailProvider == "sendgrid" && cfg.SendGridAPIKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
	}

	return &cfg, nil
}
