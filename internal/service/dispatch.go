package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"github.com/kursadbilgin/notify-outbox/internal/observability"
	"github.com/kursadbilgin/notify-outbox/internal/provider"
	"github.com/kursadbilgin/notify-outbox/internal/ratelimit"
	"github.com/kursadbilgin/notify-outbox/internal/repository"
	"github.com/kursadbilgin/notify-outbox/internal/template"
	"go.uber.org/zap"
)

const (
	defaultBatchSize = 50

	errorCodeSendFailed = "SEND_FAILED"
)

// DispatchService drives the job state machine: it claims dispatchable jobs,
// renders and sends them, applies the outcome, and appends exactly one
// delivery log row per completed attempt.
type DispatchService struct {
	jobs     repository.JobRepository
	logs     repository.DeliveryLogRepository
	renderer *template.Renderer
	provider provider.Provider
	limiter  ratelimit.RateLimiter
	logger   *zap.Logger
	metrics  *observability.Metrics

	batchSize int
	now       func() time.Time
}

func NewDispatchService(
	jobs repository.JobRepository,
	logs repository.DeliveryLogRepository,
	renderer *template.Renderer,
	p provider.Provider,
	batchSize int,
	logger *zap.Logger,
) (*DispatchService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		jobs:      jobs,
		logs:      logs,
		renderer:  renderer,
		provider:  p,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetRateLimiter installs an optional shared send rate limiter.
func (s *DispatchService) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if s == nil {
		return
	}
	s.limiter = limiter
}

// DispatchBatch pulls one bounded batch of dispatchable jobs, oldest first,
// and processes them sequentially. A failure on one job does not stop the
// rest of the batch.
func (s *DispatchService) DispatchBatch(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	jobs, err := s.jobs.FindDispatchable(ctx, s.now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch dispatchable jobs: %w", err)
	}

	s.metrics.ObserveDispatchBatchSize(len(jobs))

	for i := range jobs {
		if err := s.DispatchSingleJob(ctx, jobs[i].ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to dispatch job",
				zap.String("jobId", jobs[i].ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// DispatchSingleJob performs one send attempt for the given job. A missing
// job or a job outside PENDING/RETRYING is a no-op, which makes concurrent
// workers racing on the same row safe: only the claim that commits first
// proceeds to the send.
func (s *DispatchService) DispatchSingleJob(ctx context.Context, jobID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, s.provider.Name()); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	job, err := s.jobs.ClaimForProcessing(ctx, jobID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim job for processing: %w", err)
	}
	if job == nil {
		return nil
	}

	providerMessageID, sendErr := s.renderAndSend(ctx, job)
	if sendErr != nil {
		return s.applyFailure(ctx, job, sendErr)
	}
	return s.applySuccess(ctx, job, providerMessageID)
}

// renderAndSend parses the stored payload, renders the message, and calls the
// provider. A payload that does not parse is a send failure like any other:
// it consumes a retry attempt even though it will fail the same way again.
func (s *DispatchService) renderAndSend(ctx context.Context, job *domain.NotificationJob) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("failed to parse job payload: %w", err)
	}

	msg := s.renderer.Render(job.TemplateKey, payload, job.RecipientAddress)

	sendStart := s.now()
	providerMessageID, err := s.provider.Send(ctx, msg)
	s.metrics.ObserveSendDuration(s.provider.Name(), s.now().Sub(sendStart))
	if err != nil {
		return "", err
	}

	return providerMessageID, nil
}

func (s *DispatchService) applySuccess(ctx context.Context, job *domain.NotificationJob, providerMessageID string) error {
	job.MarkSent(providerMessageID, s.now().UTC())
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job as sent: %w", err)
	}

	if err := s.appendDeliveryLog(ctx, job, &providerMessageID, true, nil); err != nil {
		return err
	}

	s.metrics.IncJobSent(s.provider.Name())
	s.logger.Info("notification sent",
		zap.String("jobId", job.ID),
		zap.String("provider", s.provider.Name()),
		zap.String("providerMessageId", providerMessageID),
	)
	return nil
}

func (s *DispatchService) applyFailure(ctx context.Context, job *domain.NotificationJob, sendErr error) error {
	job.MarkFailedAttempt(sendErr.Error(), s.now().UTC())
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if err := s.appendDeliveryLog(ctx, job, nil, false, sendErr); err != nil {
		return err
	}

	if job.Status == domain.StatusFailed {
		s.metrics.IncJobFailed(s.provider.Name())
		s.logger.Warn("notification permanently failed",
			zap.String("jobId", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(sendErr),
		)
		return nil
	}

	s.metrics.IncRetryScheduled(s.provider.Name())
	s.logger.Info("notification retry scheduled",
		zap.String("jobId", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Timep("nextRetryAt", job.NextRetryAt),
		zap.Error(sendErr),
	)
	return nil
}

func (s *DispatchService) appendDeliveryLog(
	ctx context.Context,
	job *domain.NotificationJob,
	providerMessageID *string,
	success bool,
	sendErr error,
) error {
	entry := &domain.DeliveryLog{
		ID:                uuid.NewString(),
		JobID:             job.ID,
		EventType:         job.EventType,
		RecipientAddress:  job.RecipientAddress,
		TemplateKey:       job.TemplateKey,
		Provider:          s.provider.Name(),
		ProviderMessageID: providerMessageID,
		Success:           success,
		TraceID:           job.TraceID,
		CreatedAt:         s.now().UTC(),
	}

	if sendErr != nil {
		code := errorCodeSendFailed
		msg := sendErr.Error()
		entry.ErrorCode = &code
		entry.ErrorMessage = &msg
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}
