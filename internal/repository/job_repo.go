package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobRepository interface {
	Create(ctx context.Context, job *domain.NotificationJob) error
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.NotificationJob, error)
	// FindDispatchable returns jobs eligible for a send attempt, oldest
	// first, limited to the given count.
	FindDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error)
	// ClaimForProcessing atomically moves a dispatchable job to PROCESSING
	// and returns it. It returns (nil, nil) when the job is missing or not
	// in a dispatchable status, which makes concurrent claims a safe no-op.
	ClaimForProcessing(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error)
	Update(ctx context.Context, job *domain.NotificationJob) error
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, job *domain.NotificationJob) error {
	model := jobModelFromDomain(job)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if job != nil {
		*job = *jobModelToDomain(model)
	}
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.NotificationJob, error) {
	var model JobModel
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ?", dedupeKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) FindDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.StatusPending, domain.StatusRetrying}).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.NotificationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

func (r *GormJobRepo) ClaimForProcessing(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error) {
	var claimed *domain.NotificationJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if !model.Status.IsDispatchable() {
			return nil
		}

		job := jobModelToDomain(&model)
		job.MarkProcessing(now)

		if err := tx.Model(&JobModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     job.Status,
				"last_error": nil,
				"updated_at": job.UpdatedAt,
			}).Error; err != nil {
			return err
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *GormJobRepo) Update(ctx context.Context, job *domain.NotificationJob) error {
	model := jobModelFromDomain(job)
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"status":              model.Status,
			"attempts":            model.Attempts,
			"next_retry_at":       model.NextRetryAt,
			"last_error":          model.LastError,
			"provider_message_id": model.ProviderMessageID,
			"sent_at":             model.SentAt,
			"updated_at":          model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IsUniqueViolation reports whether an error from Create is the storage-level
// unique constraint violation used for dedupe-key idempotency. Callers map it
// to a no-op on purpose: a colliding enqueue means the notification already
// exists.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
