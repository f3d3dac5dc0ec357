package repository

import (
	"context"

	"github.com/kursadbilgin/notify-outbox/internal/domain"
	"gorm.io/gorm"
)

// DeliveryLogRepository is the append-only sink for attempt outcomes.
type DeliveryLogRepository interface {
	Create(ctx context.Context, entry *domain.DeliveryLog) error
	GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryLog, error)
	GetByTraceID(ctx context.Context, traceID string) ([]domain.DeliveryLog, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, entry *domain.DeliveryLog) error {
	model := deliveryLogModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *deliveryLogModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryLogRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		entries = append(entries, *deliveryLogModelToDomain(&models[i]))
	}

	return entries, nil
}

func (r *GormDeliveryLogRepo) GetByTraceID(ctx context.Context, traceID string) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		entries = append(entries, *deliveryLogModelToDomain(&models[i]))
	}

	return entries, nil
}
