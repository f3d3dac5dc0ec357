package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a notification job.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSent       JobStatus = "SENT"
	StatusRetrying   JobStatus = "RETRYING"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusRetrying, StatusFailed:
		return true
	}
	return false
}

// IsDispatchable reports whether a job in this status may be picked up for a
// send attempt. PROCESSING, SENT and FAILED jobs are never re-dispatched.
func (s JobStatus) IsDispatchable() bool {
	return s == StatusPending || s == StatusRetrying
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// EventType represents the business event that triggered a notification.
type EventType string

const (
	EventUserRegistered                 EventType = "USER_REGISTERED"
	EventTicketCreated                  EventType = "TICKET_CREATED"
	EventTicketReplied                  EventType = "TICKET_REPLIED"
	EventTicketClosed                   EventType = "TICKET_CLOSED"
	EventTicketUrgentSupervisorRequired EventType = "TICKET_URGENT_SUPERVISOR_REQUIRED"
)

func (e EventType) String() string { return string(e) }

func (e EventType) IsValid() bool {
	switch e {
	case EventUserRegistered, EventTicketCreated, EventTicketReplied,
		EventTicketClosed, EventTicketUrgentSupervisorRequired:
		return true
	}
	return false
}

func ParseEventTypeFromString(s string) (EventType, error) {
	et := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !et.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return et, nil
}

const (
	// DefaultMaxAttempts caps the retry series of a job.
	DefaultMaxAttempts = 5
	// DefaultLocale is the fixed rendering locale.
	DefaultLocale = "zh-TW"
)

// RetryDelay returns the fixed backoff delay applied after the given attempt
// number. The table is a lookup, not a computation, so retry timing stays
// reproducible: 1 -> 1m, 2 -> 5m, 3 -> 15m, 4 -> 60m, 5+ -> 360m.
func RetryDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 1 * time.Minute
	case attempt == 2:
		return 5 * time.Minute
	case attempt == 3:
		return 15 * time.Minute
	case attempt == 4:
		return 60 * time.Minute
	default:
		return 360 * time.Minute
	}
}

// NotificationJob is one durable intent-to-send, tracked through its retry
// lifecycle. The row is the single source of truth for retry state; jobs are
// never deleted during normal operation.
type NotificationJob struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	EventType         EventType `gorm:"type:varchar(80);not null"`
	RecipientID       *string   `gorm:"type:varchar(80)"`
	RecipientAddress  string    `gorm:"type:varchar(320);not null"`
	TemplateKey       string    `gorm:"type:varchar(120);not null"`
	Locale            string    `gorm:"type:varchar(20);not null"`
	PayloadJSON       string    `gorm:"type:text;not null"`
	DedupeKey         *string   `gorm:"type:varchar(200)"`
	Status            JobStatus `gorm:"type:varchar(20);not null"`
	Attempts          int       `gorm:"not null;default:0"`
	MaxAttempts       int       `gorm:"not null;default:5"`
	NextRetryAt       *time.Time
	LastError         *string `gorm:"type:text"`
	ProviderMessageID *string `gorm:"type:varchar(200)"`
	TraceID           *string `gorm:"type:varchar(80)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time
}

func (j *NotificationJob) Validate() error {
	if strings.TrimSpace(j.RecipientAddress) == "" {
		return fmt.Errorf("%w: recipient address is required", ErrValidation)
	}
	if strings.TrimSpace(j.TemplateKey) == "" {
		return fmt.Errorf("%w: template key is required", ErrValidation)
	}
	if !j.EventType.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, j.EventType)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, j.Status)
	}
	return nil
}

// MarkProcessing moves the job into PROCESSING and clears the last error.
// Timestamps are assigned here explicitly; no persistence hook touches them.
func (j *NotificationJob) MarkProcessing(now time.Time) {
	j.Status = StatusProcessing
	j.LastError = nil
	j.UpdatedAt = now
}

// MarkSent records a successful delivery. SENT is terminal.
func (j *NotificationJob) MarkSent(providerMessageID string, now time.Time) {
	j.Status = StatusSent
	j.ProviderMessageID = &providerMessageID
	j.SentAt = &now
	j.LastError = nil
	j.UpdatedAt = now
}

// MarkFailedAttempt consumes one attempt. The job goes to FAILED once the cap
// is reached, otherwise to RETRYING with the next eligibility time taken from
// the fixed backoff table.
func (j *NotificationJob) MarkFailedAttempt(errMsg string, now time.Time) {
	j.Attempts++
	j.LastError = &errMsg
	j.UpdatedAt = now

	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.NextRetryAt = nil
		return
	}

	j.Status = StatusRetrying
	next := now.Add(RetryDelay(j.Attempts))
	j.NextRetryAt = &next
}
