package provider

import (
	"fmt"
	"strings"
)

// SendError describes a failed delivery attempt. The dispatch engine applies
// the same retry schedule to every failure, so no transient/permanent split
// is carried here; the status code and message exist for the delivery log.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("%s send error", strings.ToLower(e.Provider)))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
