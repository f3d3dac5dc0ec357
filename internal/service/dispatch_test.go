package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"github.com/kursadbilgin/notify-outbox/internal/template"
	"go.uber.org/zap"
)

func newTestDispatchService(
	t *testing.T,
	repo *memJobRepo,
	logs *fakeDeliveryLogRepo,
	p *fakeProvider,
	batchSize int,
) *DispatchService {
	t.Helper()

	svc, err := NewDispatchService(
		repo,
		logs,
		template.NewRenderer(testAppURL),
		p,
		batchSize,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewDispatchService() error = %v", err)
	}
	return svc
}

func seedJob(t *testing.T, repo *memJobRepo, id string, createdAt time.Time) *domain.NotificationJob {
	t.Helper()

	job := &domain.NotificationJob{
		ID:               id,
		EventType:        domain.EventTicketCreated,
		RecipientAddress: "user@example.com",
		TemplateKey:      template.KeyTicketCreated,
		Locale:           domain.DefaultLocale,
		PayloadJSON:      `{"ticketId":"7","subject":"Printer"}`,
		Status:           domain.StatusPending,
		MaxAttempts:      domain.DefaultMaxAttempts,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job %s: %v", id, err)
	}
	return job
}

func TestDispatchSingleJobSuccess(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	var gotMessage template.Message
	p := &fakeProvider{
		name: "CONSOLE",
		sendFn: func(ctx context.Context, msg template.Message) (string, error) {
			gotMessage = msg
			return "console-123", nil
		},
	}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	seedJob(t, repo, "j1", now.Add(-time.Minute))

	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("DispatchSingleJob() error = %v", err)
	}

	job, err := repo.GetByID(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if job.Status != domain.StatusSent {
		t.Fatalf("status = %s, want SENT", job.Status)
	}
	if job.ProviderMessageID == nil || *job.ProviderMessageID != "console-123" {
		t.Fatalf("providerMessageId = %v, want console-123", job.ProviderMessageID)
	}
	if job.SentAt == nil {
		t.Fatal("sentAt should be set on SENT")
	}
	if job.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0 for first-try success", job.Attempts)
	}

	if gotMessage.To != "user@example.com" {
		t.Fatalf("message to = %q", gotMessage.To)
	}
	if !strings.Contains(gotMessage.Subject, "#7") {
		t.Fatalf("message subject = %q, want rendered ticket id", gotMessage.Subject)
	}

	entries := logs.all()
	if len(entries) != 1 {
		t.Fatalf("delivery log entries = %d, want 1", len(entries))
	}
	if !entries[0].Success {
		t.Fatal("delivery log entry should be success")
	}
	if entries[0].ProviderMessageID == nil || *entries[0].ProviderMessageID != "console-123" {
		t.Fatalf("delivery log providerMessageId = %v", entries[0].ProviderMessageID)
	}
	if entries[0].Provider != "CONSOLE" {
		t.Fatalf("delivery log provider = %q, want CONSOLE", entries[0].Provider)
	}
}

func TestDispatchSingleJobMissingJobIsNoOp(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	svc := newTestDispatchService(t, repo, logs, &fakeProvider{}, 50)

	if err := svc.DispatchSingleJob(context.Background(), "missing"); err != nil {
		t.Fatalf("DispatchSingleJob() error = %v, want nil no-op", err)
	}
	if len(logs.all()) != 0 {
		t.Fatalf("delivery log entries = %d, want 0 for no-op", len(logs.all()))
	}
}

func TestDispatchSingleJobNonDispatchableStatusIsNoOp(t *testing.T) {
	t.Parallel()

	statuses := []domain.JobStatus{domain.StatusProcessing, domain.StatusSent, domain.StatusFailed}

	for _, status := range statuses {
		status := status
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			repo := newMemJobRepo()
			logs := &fakeDeliveryLogRepo{}
			sendCalls := 0
			p := &fakeProvider{
				sendFn: func(ctx context.Context, msg template.Message) (string, error) {
					sendCalls++
					return "id", nil
				},
			}
			svc := newTestDispatchService(t, repo, logs, p, 50)

			job := seedJob(t, repo, "j1", time.Now())
			job.Status = status
			if err := repo.Update(context.Background(), job); err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
				t.Fatalf("DispatchSingleJob() error = %v", err)
			}
			if sendCalls != 0 {
				t.Fatalf("send calls = %d, want 0", sendCalls)
			}
			if len(logs.all()) != 0 {
				t.Fatalf("delivery log entries = %d, want 0", len(logs.all()))
			}
		})
	}
}

func TestDispatchSingleJobFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg template.Message) (string, error) {
			return "", errors.New("connection refused")
		},
	}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	seedJob(t, repo, "j1", now.Add(-time.Minute))

	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("DispatchSingleJob() error = %v", err)
	}

	job, _ := repo.GetByID(context.Background(), "j1")
	if job.Status != domain.StatusRetrying {
		t.Fatalf("status = %s, want RETRYING", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
	if job.LastError == nil || !strings.Contains(*job.LastError, "connection refused") {
		t.Fatalf("lastError = %v", job.LastError)
	}
	wantRetryAt := now.UTC().Add(1 * time.Minute)
	if job.NextRetryAt == nil || !job.NextRetryAt.Equal(wantRetryAt) {
		t.Fatalf("nextRetryAt = %v, want %s", job.NextRetryAt, wantRetryAt)
	}

	entries := logs.all()
	if len(entries) != 1 {
		t.Fatalf("delivery log entries = %d, want 1", len(entries))
	}
	if entries[0].Success {
		t.Fatal("delivery log entry should be failure")
	}
	if entries[0].ErrorCode == nil || *entries[0].ErrorCode != "SEND_FAILED" {
		t.Fatalf("errorCode = %v, want SEND_FAILED", entries[0].ErrorCode)
	}
	if entries[0].ProviderMessageID != nil {
		t.Fatalf("providerMessageId = %v, want nil on failure", entries[0].ProviderMessageID)
	}
}

func TestDispatchMalformedPayloadConsumesAttempt(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	sendCalls := 0
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg template.Message) (string, error) {
			sendCalls++
			return "id", nil
		},
	}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	job := seedJob(t, repo, "j1", now.Add(-time.Minute))
	job.PayloadJSON = `{not json`
	job.Status = domain.StatusPending
	if err := repo.Update(context.Background(), job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("DispatchSingleJob() error = %v", err)
	}

	got, _ := repo.GetByID(context.Background(), "j1")
	if got.Status != domain.StatusRetrying {
		t.Fatalf("status = %s, want RETRYING (parse failure burns an attempt)", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if sendCalls != 0 {
		t.Fatalf("send calls = %d, want 0 when payload cannot be parsed", sendCalls)
	}

	entries := logs.all()
	if len(entries) != 1 || entries[0].Success {
		t.Fatalf("entries = %+v, want one failure entry", entries)
	}
}

func TestDispatchFiveFailuresEndsFailed(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg template.Message) (string, error) {
			return "", errors.New("smtp unavailable")
		},
	}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	seedJob(t, repo, "j1", now.Add(-time.Minute))

	wantDelays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		60 * time.Minute,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		// Advance past the scheduled retry so the job is claimable again.
		job, _ := repo.GetByID(context.Background(), "j1")
		if job.NextRetryAt != nil {
			now = job.NextRetryAt.Add(time.Second)
		}

		if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
			t.Fatalf("attempt %d: DispatchSingleJob() error = %v", attempt, err)
		}

		job, _ = repo.GetByID(context.Background(), "j1")
		if job.Attempts != attempt {
			t.Fatalf("attempts = %d, want %d", job.Attempts, attempt)
		}

		if attempt < 5 {
			if job.Status != domain.StatusRetrying {
				t.Fatalf("attempt %d: status = %s, want RETRYING", attempt, job.Status)
			}
			wantRetryAt := svc.now().UTC().Add(wantDelays[attempt-1])
			if job.NextRetryAt == nil || !job.NextRetryAt.Equal(wantRetryAt) {
				t.Fatalf("attempt %d: nextRetryAt = %v, want %s", attempt, job.NextRetryAt, wantRetryAt)
			}
		}
	}

	job, _ := repo.GetByID(context.Background(), "j1")
	if job.Status != domain.StatusFailed {
		t.Fatalf("final status = %s, want FAILED", job.Status)
	}
	if job.Attempts != 5 {
		t.Fatalf("final attempts = %d, want 5", job.Attempts)
	}
	if job.NextRetryAt != nil {
		t.Fatalf("final nextRetryAt = %v, want nil", job.NextRetryAt)
	}

	entries := logs.all()
	if len(entries) != 5 {
		t.Fatalf("delivery log entries = %d, want 5", len(entries))
	}
	for i, entry := range entries {
		if entry.Success {
			t.Fatalf("entry %d should be a failure", i)
		}
	}

	// An exhausted job is no longer dispatchable.
	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("DispatchSingleJob() on FAILED job error = %v", err)
	}
	if len(logs.all()) != 5 {
		t.Fatalf("delivery log entries after extra dispatch = %d, want 5", len(logs.all()))
	}
}

func TestDispatchFailThenSucceedEndsSent(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	var calls atomic.Int32
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg template.Message) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("temporary outage")
			}
			return "provider-ok", nil
		},
	}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	seedJob(t, repo, "j1", now.Add(-time.Minute))

	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("first DispatchSingleJob() error = %v", err)
	}

	job, _ := repo.GetByID(context.Background(), "j1")
	now = job.NextRetryAt.Add(time.Second)

	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("second DispatchSingleJob() error = %v", err)
	}

	job, _ = repo.GetByID(context.Background(), "j1")
	if job.Status != domain.StatusSent {
		t.Fatalf("status = %s, want SENT", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
	if job.ProviderMessageID == nil || *job.ProviderMessageID != "provider-ok" {
		t.Fatalf("providerMessageId = %v, want provider-ok", job.ProviderMessageID)
	}
	if job.LastError != nil {
		t.Fatalf("lastError = %v, want nil after success", *job.LastError)
	}

	entries := logs.all()
	if len(entries) != 2 {
		t.Fatalf("delivery log entries = %d, want 2", len(entries))
	}
	if entries[0].Success || !entries[1].Success {
		t.Fatalf("entries success = (%v, %v), want (false, true)", entries[0].Success, entries[1].Success)
	}
}

func TestDispatchBatchProcessesOldestFifty(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	p := &fakeProvider{}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	base := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return base.Add(200 * time.Minute) }

	for i := 0; i < 120; i++ {
		seedJob(t, repo, fmt.Sprintf("j%03d", i), base.Add(time.Duration(i)*time.Minute))
	}

	if err := svc.DispatchBatch(context.Background()); err != nil {
		t.Fatalf("DispatchBatch() error = %v", err)
	}

	sent := 0
	for i := 0; i < 120; i++ {
		job, _ := repo.GetByID(context.Background(), fmt.Sprintf("j%03d", i))
		if job.Status == domain.StatusSent {
			sent++
			if i >= 50 {
				t.Fatalf("job j%03d processed, want only the 50 oldest", i)
			}
		}
	}
	if sent != 50 {
		t.Fatalf("sent count = %d, want 50", sent)
	}
	if len(logs.all()) != 50 {
		t.Fatalf("delivery log entries = %d, want 50", len(logs.all()))
	}
}

func TestDispatchBatchSkipsNotYetDueRetries(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	p := &fakeProvider{}

	svc := newTestDispatchService(t, repo, logs, p, 50)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	job := seedJob(t, repo, "j1", now.Add(-time.Hour))
	job.Status = domain.StatusRetrying
	future := now.Add(10 * time.Minute)
	job.NextRetryAt = &future
	if err := repo.Update(context.Background(), job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := svc.DispatchBatch(context.Background()); err != nil {
		t.Fatalf("DispatchBatch() error = %v", err)
	}
	if len(logs.all()) != 0 {
		t.Fatalf("delivery log entries = %d, want 0 for not-yet-due retry", len(logs.all()))
	}
}

func TestDispatchSingleJobWaitsOnRateLimiter(t *testing.T) {
	t.Parallel()

	repo := newMemJobRepo()
	logs := &fakeDeliveryLogRepo{}
	p := &fakeProvider{name: "SENDGRID"}

	svc := newTestDispatchService(t, repo, logs, p, 50)

	var gotProvider string
	svc.SetRateLimiter(&fakeRateLimiter{
		waitFn: func(ctx context.Context, provider string) error {
			gotProvider = provider
			return nil
		},
	})

	seedJob(t, repo, "j1", time.Now().Add(-time.Minute))

	if err := svc.DispatchSingleJob(context.Background(), "j1"); err != nil {
		t.Fatalf("DispatchSingleJob() error = %v", err)
	}
	if gotProvider != "SENDGRID" {
		t.Fatalf("rate limiter provider = %q, want SENDGRID", gotProvider)
	}
}
