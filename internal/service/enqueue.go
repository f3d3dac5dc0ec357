package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"github.com/kursadbilgin/notify-outbox/internal/observability"
	"github.com/kursadbilgin/notify-outbox/internal/repository"
	"github.com/kursadbilgin/notify-outbox/internal/template"
	"go.uber.org/zap"
)

// TicketPriorityUrgent triggers the supervisor fan-out on ticket creation.
const TicketPriorityUrgent = "URGENT"

// Recipient is the resolved destination of a notification, handed over by the
// business-event caller. Member lookup itself is a collaborator concern.
type Recipient struct {
	ID      string
	Name    string
	Address string
}

// Ticket carries the ticket fields the notification payloads need.
type Ticket struct {
	ID        string
	Subject   string
	Status    string
	Priority  string
	GroupName string
}

// EnqueueParams is the generic enqueue request.
type EnqueueParams struct {
	EventType        domain.EventType
	RecipientID      *string
	RecipientAddress string
	TemplateKey      string
	Locale           string
	Payload          map[string]any
	DedupeKey        *string
}

// EnqueueService persists notification jobs. Enqueue is best-effort fan-out:
// invalid or duplicate requests are dropped without surfacing an error, so a
// notification can never fail the business transaction that triggered it.
type EnqueueService struct {
	jobs        repository.JobRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	appURL      string
	maxAttempts int
	now         func() time.Time
}

func NewEnqueueService(jobs repository.JobRepository, appURL string, logger *zap.Logger) (*EnqueueService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EnqueueService{
		jobs:        jobs,
		logger:      logger,
		appURL:      strings.TrimSpace(appURL),
		maxAttempts: domain.DefaultMaxAttempts,
		now:         time.Now,
	}, nil
}

// SetMaxAttempts overrides the per-job attempt cap for newly enqueued jobs.
func (s *EnqueueService) SetMaxAttempts(n int) {
	if s == nil || n < 1 {
		return
	}
	s.maxAttempts = n
}

func (s *EnqueueService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue persists one PENDING job. A blank recipient address or a dedupe-key
// collision drops the request silently; the returned job is nil in that case.
func (s *EnqueueService) Enqueue(ctx context.Context, params EnqueueParams) (*domain.NotificationJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	address := strings.ToLower(strings.TrimSpace(params.RecipientAddress))
	if address == "" {
		s.logger.Debug("enqueue dropped: blank recipient address",
			zap.String("eventType", params.EventType.String()),
		)
		return nil, nil
	}

	payloadJSON, err := json.Marshal(orderedPayload(params.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize notification payload: %w", err)
	}

	locale := strings.TrimSpace(params.Locale)
	if locale == "" {
		locale = domain.DefaultLocale
	}

	var traceID *string
	if id, ok := observability.TraceIDFromContext(ctx); ok {
		traceID = &id
	}

	now := s.now().UTC()
	job := &domain.NotificationJob{
		ID:               uuid.NewString(),
		EventType:        params.EventType,
		RecipientID:      normalizeOptionalString(params.RecipientID),
		RecipientAddress: address,
		TemplateKey:      strings.TrimSpace(params.TemplateKey),
		Locale:           locale,
		PayloadJSON:      string(payloadJSON),
		DedupeKey:        normalizeOptionalString(params.DedupeKey),
		Status:           domain.StatusPending,
		Attempts:         0,
		MaxAttempts:      s.maxAttempts,
		TraceID:          traceID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		// A dedupe-key collision means the notification is already queued;
		// the unique violation is the expected signal, not an error.
		if job.DedupeKey != nil && repository.IsUniqueViolation(err) {
			s.logger.Debug("enqueue dropped: dedupe key already exists",
				zap.String("eventType", params.EventType.String()),
				zap.String("dedupeKey", *job.DedupeKey),
			)
			return nil, nil
		}
		return nil, err
	}

	s.metrics.IncJobEnqueued(job.EventType.String())
	observability.WithContextLogger(s.logger, ctx).Info("notification job enqueued",
		zap.String("jobId", job.ID),
		zap.String("eventType", job.EventType.String()),
		zap.String("templateKey", job.TemplateKey),
	)

	return job, nil
}

// EnqueueUserRegistered queues the registration welcome mail.
func (s *EnqueueService) EnqueueUserRegistered(ctx context.Context, user Recipient) error {
	dedupeKey := fmt.Sprintf("user_registered:%s", user.ID)
	_, err := s.Enqueue(ctx, EnqueueParams{
		EventType:        domain.EventUserRegistered,
		RecipientID:      optionalString(user.ID),
		RecipientAddress: user.Address,
		TemplateKey:      template.KeyUserRegistered,
		Payload:          s.payloadForUser(user),
		DedupeKey:        &dedupeKey,
	})
	return err
}

// EnqueueTicketCreated notifies the creator and, for urgent tickets, fans out
// to the group supervisor. The supervisor is skipped when it is the creator.
func (s *EnqueueService) EnqueueTicketCreated(ctx context.Context, ticket Ticket, creator Recipient, supervisor *Recipient) error {
	dedupeKey := fmt.Sprintf("ticket_created:%s:%s", ticket.ID, creator.ID)
	if _, err := s.Enqueue(ctx, EnqueueParams{
		EventType:        domain.EventTicketCreated,
		RecipientID:      optionalString(creator.ID),
		RecipientAddress: creator.Address,
		TemplateKey:      template.KeyTicketCreated,
		Payload:          s.payloadForTicket(ticket, creator, "工單已建立"),
		DedupeKey:        &dedupeKey,
	}); err != nil {
		return err
	}

	if ticket.Priority != TicketPriorityUrgent || supervisor == nil || supervisor.ID == creator.ID {
		return nil
	}

	supervisorKey := fmt.Sprintf("ticket_urgent_supervisor_required:%s:%s", ticket.ID, supervisor.ID)
	_, err := s.Enqueue(ctx, EnqueueParams{
		EventType:        domain.EventTicketUrgentSupervisorRequired,
		RecipientID:      optionalString(supervisor.ID),
		RecipientAddress: supervisor.Address,
		TemplateKey:      template.KeyTicketUrgentSupervisorRequired,
		Payload:          s.payloadForTicket(ticket, *supervisor, "急件待主管確認"),
		DedupeKey:        &supervisorKey,
	})
	return err
}

// EnqueueTicketReplied notifies the ticket owner unless the owner replied to
// their own ticket.
func (s *EnqueueService) EnqueueTicketReplied(ctx context.Context, ticket Ticket, owner *Recipient, replierID string) error {
	if owner == nil || owner.ID == replierID {
		return nil
	}

	_, err := s.Enqueue(ctx, EnqueueParams{
		EventType:        domain.EventTicketReplied,
		RecipientID:      optionalString(owner.ID),
		RecipientAddress: owner.Address,
		TemplateKey:      template.KeyTicketReplied,
		Payload:          s.payloadForTicket(ticket, *owner, "工單有新回覆"),
	})
	return err
}

// EnqueueTicketClosed notifies the ticket owner unless the owner closed the
// ticket themselves.
func (s *EnqueueService) EnqueueTicketClosed(ctx context.Context, ticket Ticket, owner *Recipient, actorID string) error {
	if owner == nil || owner.ID == actorID {
		return nil
	}

	_, err := s.Enqueue(ctx, EnqueueParams{
		EventType:        domain.EventTicketClosed,
		RecipientID:      optionalString(owner.ID),
		RecipientAddress: owner.Address,
		TemplateKey:      template.KeyTicketClosed,
		Payload:          s.payloadForTicket(ticket, *owner, "工單已完成"),
	})
	return err
}

func (s *EnqueueService) payloadForUser(user Recipient) map[string]any {
	return map[string]any{
		"recipientName": user.Name,
		"actionLabel":   "您的帳號已註冊成功",
		"ticketId":      "-",
		"subject":       "Welcome",
		"ticketUrl":     s.appURL,
	}
}

func (s *EnqueueService) payloadForTicket(ticket Ticket, recipient Recipient, actionLabel string) map[string]any {
	return map[string]any{
		"recipientName": recipient.Name,
		"actionLabel":   actionLabel,
		"ticketId":      ticket.ID,
		"subject":       ticket.Subject,
		"status":        ticket.Status,
		"priority":      ticket.Priority,
		"groupName":     ticket.GroupName,
		"ticketUrl":     fmt.Sprintf("%s/#ticket-%s", s.appURL, ticket.ID),
	}
}

// orderedPayload keeps JSON serialization stable for nil payloads.
func orderedPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
