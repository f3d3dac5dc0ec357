package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"github.com/kursadbilgin/notify-outbox/internal/template"
)

type fakeJobRepo struct {
	createFn             func(ctx context.Context, job *domain.NotificationJob) error
	getByIDFn            func(ctx context.Context, id string) (*domain.NotificationJob, error)
	getByDedupeKeyFn     func(ctx context.Context, dedupeKey string) (*domain.NotificationJob, error)
	findDispatchableFn   func(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error)
	claimForProcessingFn func(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error)
	updateFn             func(ctx context.Context, job *domain.NotificationJob) error
}

func (f *fakeJobRepo) Create(ctx context.Context, job *domain.NotificationJob) error {
	if f.createFn != nil {
		return f.createFn(ctx, job)
	}
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.NotificationJob, error) {
	if f.getByDedupeKeyFn != nil {
		return f.getByDedupeKeyFn(ctx, dedupeKey)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) FindDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	if f.findDispatchableFn != nil {
		return f.findDispatchableFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeJobRepo) ClaimForProcessing(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error) {
	if f.claimForProcessingFn != nil {
		return f.claimForProcessingFn(ctx, id, now)
	}
	return nil, nil
}

func (f *fakeJobRepo) Update(ctx context.Context, job *domain.NotificationJob) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, job)
	}
	return nil
}

// memJobRepo is an in-memory store honoring the repository contract, used by
// the end-to-end dispatch scenarios.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.NotificationJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.NotificationJob)}
}

func (m *memJobRepo) Create(_ context.Context, job *domain.NotificationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.DedupeKey != nil {
		for _, existing := range m.jobs {
			if existing.DedupeKey != nil && *existing.DedupeKey == *job.DedupeKey {
				return errors.New(`duplicate key value violates unique constraint "idx_notification_jobs_dedupe_key"`)
			}
		}
	}

	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobRepo) GetByID(_ context.Context, id string) (*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobRepo) GetByDedupeKey(_ context.Context, dedupeKey string) (*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.DedupeKey != nil && *job.DedupeKey == dedupeKey {
			copied := *job
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) FindDispatchable(_ context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make([]domain.NotificationJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		if !job.Status.IsDispatchable() {
			continue
		}
		if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, *job)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (m *memJobRepo) ClaimForProcessing(_ context.Context, id string, now time.Time) (*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	if !job.Status.IsDispatchable() {
		return nil, nil
	}

	job.MarkProcessing(now)
	copied := *job
	return &copied, nil
}

func (m *memJobRepo) Update(_ context.Context, job *domain.NotificationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type fakeDeliveryLogRepo struct {
	mu      sync.Mutex
	entries []domain.DeliveryLog

	createFn func(ctx context.Context, entry *domain.DeliveryLog) error
}

func (f *fakeDeliveryLogRepo) Create(ctx context.Context, entry *domain.DeliveryLog) error {
	if f.createFn != nil {
		return f.createFn(ctx, entry)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeDeliveryLogRepo) GetByJobID(_ context.Context, jobID string) ([]domain.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := make([]domain.DeliveryLog, 0, len(f.entries))
	for _, entry := range f.entries {
		if entry.JobID == jobID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (f *fakeDeliveryLogRepo) GetByTraceID(_ context.Context, traceID string) ([]domain.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := make([]domain.DeliveryLog, 0, len(f.entries))
	for _, entry := range f.entries {
		if entry.TraceID != nil && *entry.TraceID == traceID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (f *fakeDeliveryLogRepo) all() []domain.DeliveryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DeliveryLog(nil), f.entries...)
}

type fakeProvider struct {
	name   string
	sendFn func(ctx context.Context, msg template.Message) (string, error)
}

func (f *fakeProvider) Name() string {
	if f.name == "" {
		return "FAKE"
	}
	return f.name
}

func (f *fakeProvider) Send(ctx context.Context, msg template.Message) (string, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return "fake-msg-id", nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, provider string) error
}

func (f *fakeRateLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, provider string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, provider)
	}
	return nil
}
