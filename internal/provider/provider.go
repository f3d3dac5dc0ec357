package provider

import (
	"context"

	"github.com/kursadbilgin/notify-outbox/internal/template"
)

// Provider is the outbound mail delivery port. Exactly one provider is active
// per process, selected from configuration at startup.
type Provider interface {
	// Name identifies the provider in delivery log rows, e.g. CONSOLE.
	Name() string
	// Send delivers a rendered message and returns the provider-assigned
	// message id. Any transport, auth or validation problem is returned as
	// a *SendError.
	Send(ctx context.Context, msg template.Message) (string, error)
}
