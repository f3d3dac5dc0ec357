package domain

import "time"

// DeliveryLog is the append-only audit record of one send attempt outcome.
// Exactly one row is written per attempt, success or failure; rows are never
// updated or deleted by the engine.
type DeliveryLog struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	JobID             string    `gorm:"type:uuid;not null"`
	EventType         EventType `gorm:"type:varchar(80);not null"`
	RecipientAddress  string    `gorm:"type:varchar(320);not null"`
	TemplateKey       string    `gorm:"type:varchar(120);not null"`
	Provider          string    `gorm:"type:varchar(40);not null"`
	ProviderMessageID *string   `gorm:"type:varchar(200)"`
	Success           bool      `gorm:"not null"`
	ErrorCode         *string   `gorm:"type:varchar(80)"`
	ErrorMessage      *string   `gorm:"type:text"`
	TraceID           *string   `gorm:"type:varchar(80)"`
	CreatedAt         time.Time
}
