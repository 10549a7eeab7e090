package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The unread dedup index backs the notification dispatcher's invariant: at
// most one unread record per (recipient, sender, type, post) tuple. GORM tags
// cannot express a partial index, so it lives here as a named migration.
const migrationAddUnreadDedupIndex = "2026-07-14_add_notifications_unread_dedup_index"

const unreadDedupIndexSQL = "CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_unread_dedup " +
	"ON notifications (recipient_id, sender_id, type, post_id) WHERE is_read = 0;"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationAddUnreadDedupIndex, apply: addUnreadDedupIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func addUnreadDedupIndex(db *gorm.DB) error {
	return db.Exec(unreadDedupIndexSQL).Error
}
