package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"github.com/kursadbilgin/notify-outbox/internal/observability"
	"github.com/kursadbilgin/notify-outbox/internal/service"
	"github.com/kursadbilgin/notify-outbox/internal/template"
)

const traceIDHeader = "X-Trace-Id"

type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, params service.EnqueueParams) (*domain.NotificationJob, error)
}

type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
}

type DeliveryLogReader interface {
	GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryLog, error)
	GetByTraceID(ctx context.Context, traceID string) ([]domain.DeliveryLog, error)
}

type NotificationHandler struct {
	enqueuer NotificationEnqueuer
	jobs     JobReader
	logs     DeliveryLogReader
}

func NewNotificationHandler(enqueuer NotificationEnqueuer, jobs JobReader, logs DeliveryLogReader) (*NotificationHandler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job reader is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery log reader is required")
	}
	return &NotificationHandler{enqueuer: enqueuer, jobs: jobs, logs: logs}, nil
}

func RegisterNotificationRoutes(router fiber.Router, enqueuer NotificationEnqueuer, jobs JobReader, logs DeliveryLogReader) error {
	h, err := NewNotificationHandler(enqueuer, jobs, logs)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/deliveries", h.GetNotificationDeliveries)
	v1.Get("/delivery-logs", h.ListDeliveryLogs)

	return nil
}

type createNotificationRequest struct {
	EventType        string         `json:"eventType"`
	RecipientID      *string        `json:"recipientId,omitempty"`
	RecipientAddress string         `json:"recipientAddress"`
	TemplateKey      string         `json:"templateKey,omitempty"`
	Locale           string         `json:"locale,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	DedupeKey        *string        `json:"dedupeKey,omitempty"`
}

type notificationResponse struct {
	ID                string     `json:"id"`
	EventType         string     `json:"eventType"`
	RecipientID       *string    `json:"recipientId,omitempty"`
	RecipientAddress  string     `json:"recipientAddress"`
	TemplateKey       string     `json:"templateKey"`
	Locale            string     `json:"locale"`
	DedupeKey         *string    `json:"dedupeKey,omitempty"`
	Status            string     `json:"status"`
	Attempts          int        `json:"attempts"`
	MaxAttempts       int        `json:"maxAttempts"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	TraceID           *string    `json:"traceId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
}

type deliveryLogResponse struct {
	ID                string    `json:"id"`
	JobID             string    `json:"jobId"`
	EventType         string    `json:"eventType"`
	RecipientAddress  string    `json:"recipientAddress"`
	TemplateKey       string    `json:"templateKey"`
	Provider          string    `json:"provider"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Success           bool      `json:"success"`
	ErrorCode         *string   `json:"errorCode,omitempty"`
	ErrorMessage      *string   `json:"errorMessage,omitempty"`
	TraceID           *string   `json:"traceId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CreateNotification accepts a notification for asynchronous delivery. The
// response is 202 even when the request is dropped as a duplicate: the caller
// only learns that the notification is (already) queued.
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	eventType, err := domain.ParseEventTypeFromString(req.EventType)
	if err != nil {
		return toHTTPError(err)
	}

	templateKey := strings.TrimSpace(req.TemplateKey)
	if templateKey == "" {
		templateKey = defaultTemplateKey(eventType)
	}

	job, err := h.enqueuer.Enqueue(requestContext(c), service.EnqueueParams{
		EventType:        eventType,
		RecipientID:      req.RecipientID,
		RecipientAddress: req.RecipientAddress,
		TemplateKey:      templateKey,
		Locale:           req.Locale,
		Payload:          req.Payload,
		DedupeKey:        req.DedupeKey,
	})
	if err != nil {
		return toHTTPError(err)
	}

	if job == nil {
		// Dropped: blank recipient or already queued under the dedupe key.
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(job))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.jobs.GetByID(requestContext(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(job))
}

func (h *NotificationHandler) GetNotificationDeliveries(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	ctx := requestContext(c)

	// 404 for an unknown job, an empty list for a known one without attempts.
	if _, err := h.jobs.GetByID(ctx, id); err != nil {
		return toHTTPError(err)
	}

	entries, err := h.logs.GetByJobID(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": toDeliveryLogResponses(entries),
	})
}

func (h *NotificationHandler) ListDeliveryLogs(c *fiber.Ctx) error {
	traceID := strings.TrimSpace(c.Query("traceId"))
	if traceID == "" {
		return toHTTPError(fmt.Errorf("%w: traceId query parameter is required", domain.ErrValidation))
	}

	entries, err := h.logs.GetByTraceID(requestContext(c), traceID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": toDeliveryLogResponses(entries),
	})
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if traceID := strings.TrimSpace(c.Get(traceIDHeader)); traceID != "" {
		ctx = observability.WithTraceID(ctx, traceID)
	}
	return ctx
}

func defaultTemplateKey(eventType domain.EventType) string {
	switch eventType {
	case domain.EventUserRegistered:
		return template.KeyUserRegistered
	case domain.EventTicketCreated:
		return template.KeyTicketCreated
	case domain.EventTicketReplied:
		return template.KeyTicketReplied
	case domain.EventTicketClosed:
		return template.KeyTicketClosed
	case domain.EventTicketUrgentSupervisorRequired:
		return template.KeyTicketUrgentSupervisorRequired
	default:
		return ""
	}
}

func toNotificationResponse(job *domain.NotificationJob) notificationResponse {
	return notificationResponse{
		ID:                job.ID,
		EventType:         job.EventType.String(),
		RecipientID:       job.RecipientID,
		RecipientAddress:  job.RecipientAddress,
		TemplateKey:       job.TemplateKey,
		Locale:            job.Locale,
		DedupeKey:         job.DedupeKey,
		Status:            job.Status.String(),
		Attempts:          job.Attempts,
		MaxAttempts:       job.MaxAttempts,
		NextRetryAt:       job.NextRetryAt,
		LastError:         job.LastError,
		ProviderMessageID: job.ProviderMessageID,
		TraceID:           job.TraceID,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
		SentAt:            job.SentAt,
	}
}

func toDeliveryLogResponses(entries []domain.DeliveryLog) []deliveryLogResponse {
	responses := make([]deliveryLogResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, deliveryLogResponse{
			ID:                entry.ID,
			JobID:             entry.JobID,
			EventType:         entry.EventType.String(),
			RecipientAddress:  entry.RecipientAddress,
			TemplateKey:       entry.TemplateKey,
			Provider:          entry.Provider,
			ProviderMessageID: entry.ProviderMessageID,
			Success:           entry.Success,
			ErrorCode:         entry.ErrorCode,
			ErrorMessage:      entry.ErrorMessage,
			TraceID:           entry.TraceID,
			CreatedAt:         entry.CreatedAt,
		})
	}
	return responses
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}
