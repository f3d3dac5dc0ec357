package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-outbox/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createNotificationJobsTable(),
		createDeliveryLogsTable(),
	})

	return m.Migrate()
}

func createNotificationJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_jobs_dedupe_key ON notification_jobs (dedupe_key) WHERE dedupe_key IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_notification_jobs_status_retry ON notification_jobs (status, next_retry_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_jobs_created_at ON notification_jobs (created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobModel{})
		},
	}
}

func createDeliveryLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryLogModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_job_id ON delivery_logs (job_id)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_trace_id ON delivery_logs (trace_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryLogModel{})
		},
	}
}
