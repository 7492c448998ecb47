package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSessionActivity = "2026-08-12_backfill_session_activity"

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
		{name: migrationBackfillSessionActivity, apply: backfillSessionActivity},
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

// backfillSessionActivity seeds last_activity_at for rows created before the
// column existed so idle-session reporting has a baseline.
func backfillSessionActivity(db *gorm.DB) error {
	return db.Model(&board.Session{}).
		Where("last_activity_at IS NULL OR last_activity_at = ?", time.Time{}).
		Update("last_activity_at", gorm.Expr("created_at")).Error
}
