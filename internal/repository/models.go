package repository

import (
	"time"

	"github.com/kursadbilgin/notify-outbox/internal/domain"
)

// JobModel is the persistence model for the notification_jobs table.
type JobModel struct {
	ID                string           `gorm:"type:uuid;primaryKey"`
	EventType         domain.EventType `gorm:"type:varchar(80);not null"`
	RecipientID       *string          `gorm:"type:varchar(80)"`
	RecipientAddress  string           `gorm:"type:varchar(320);not null"`
	TemplateKey       string           `gorm:"type:varchar(120);not null"`
	Locale            string           `gorm:"type:varchar(20);not null"`
	PayloadJSON       string           `gorm:"column:payload_json;type:text;not null"`
	DedupeKey         *string          `gorm:"type:varchar(200)"`
	Status            domain.JobStatus `gorm:"type:varchar(20);not null"`
	Attempts          int              `gorm:"not null;default:0"`
	MaxAttempts       int              `gorm:"not null;default:5"`
	NextRetryAt       *time.Time
	LastError         *string `gorm:"type:text"`
	ProviderMessageID *string `gorm:"type:varchar(200)"`
	TraceID           *string `gorm:"type:varchar(80)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time
}

func (JobModel) TableName() string {
	return "notification_jobs"
}

// DeliveryLogModel is the persistence model for delivery_logs.
type DeliveryLogModel struct {
	ID                string           `gorm:"type:uuid;primaryKey"`
	JobID             string           `gorm:"type:uuid;not null"`
	EventType         domain.EventType `gorm:"type:varchar(80);not null"`
	RecipientAddress  string           `gorm:"type:varchar(320);not null"`
	TemplateKey       string           `gorm:"type:varchar(120);not null"`
	Provider          string           `gorm:"type:varchar(40);not null"`
	ProviderMessageID *string          `gorm:"type:varchar(200)"`
	Success           bool             `gorm:"not null"`
	ErrorCode         *string          `gorm:"type:varchar(80)"`
	ErrorMessage      *string          `gorm:"type:text"`
	TraceID           *string          `gorm:"type:varchar(80)"`
	CreatedAt         time.Time
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

func jobModelFromDomain(j *domain.NotificationJob) *JobModel {
	if j == nil {
		return nil
	}

	return &JobModel{
		ID:                j.ID,
		EventType:         j.EventType,
		RecipientID:       j.RecipientID,
		RecipientAddress:  j.RecipientAddress,
		TemplateKey:       j.TemplateKey,
		Locale:            j.Locale,
		PayloadJSON:       j.PayloadJSON,
		DedupeKey:         j.DedupeKey,
		Status:            j.Status,
		Attempts:          j.Attempts,
		MaxAttempts:       j.MaxAttempts,
		NextRetryAt:       j.NextRetryAt,
		LastError:         j.LastError,
		ProviderMessageID: j.ProviderMessageID,
		TraceID:           j.TraceID,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		SentAt:            j.SentAt,
	}
}

func jobModelToDomain(m *JobModel) *domain.NotificationJob {
	if m == nil {
		return nil
	}

	return &domain.NotificationJob{
		ID:                m.ID,
		EventType:         m.EventType,
		RecipientID:       m.RecipientID,
		RecipientAddress:  m.RecipientAddress,
		TemplateKey:       m.TemplateKey,
		Locale:            m.Locale,
		PayloadJSON:       m.PayloadJSON,
		DedupeKey:         m.DedupeKey,
		Status:            m.Status,
		Attempts:          m.Attempts,
		MaxAttempts:       m.MaxAttempts,
		NextRetryAt:       m.NextRetryAt,
		LastError:         m.LastError,
		ProviderMessageID: m.ProviderMessageID,
		TraceID:           m.TraceID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		SentAt:            m.SentAt,
	}
}

func deliveryLogModelFromDomain(l *domain.DeliveryLog) *DeliveryLogModel {
	if l == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:                l.ID,
		JobID:             l.JobID,
		EventType:         l.EventType,
		RecipientAddress:  l.RecipientAddress,
		TemplateKey:       l.TemplateKey,
		Provider:          l.Provider,
		ProviderMessageID: l.ProviderMessageID,
		Success:           l.Success,
		ErrorCode:         l.ErrorCode,
		ErrorMessage:      l.ErrorMessage,
		TraceID:           l.TraceID,
		CreatedAt:         l.CreatedAt,
	}
}

func deliveryLogModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:                m.ID,
		JobID:             m.JobID,
		EventType:         m.EventType,
		RecipientAddress:  m.RecipientAddress,
		TemplateKey:       m.TemplateKey,
		Provider:          m.Provider,
		ProviderMessageID: m.ProviderMessageID,
		Success:           m.Success,
		ErrorCode:         m.ErrorCode,
		ErrorMessage:      m.ErrorMessage,
		TraceID:           m.TraceID,
		CreatedAt:         m.CreatedAt,
	}
}
