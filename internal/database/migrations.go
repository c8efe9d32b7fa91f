package database

import (
	"context"
	"errors"
	"time"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"github.com/Luknarz/DailyVerse/internal/rotation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSplitDayAssignments = "2025-09-14_split_day_assignments"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSplitDayAssignments, apply: splitDayAssignments},
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
		if err := migration.apply(db, logger); err != nil {
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

// splitDayAssignments rewrites the single-verse-per-day mapping into the
// list-per-day schema.
func splitDayAssignments(db *gorm.DB, logger *zap.Logger) error {
	return db.Transaction(func(tx *gorm.DB) error {
		store, err := kvstore.New(kvstore.Config{Database: tx, Logger: logger})
		if err != nil {
			return err
		}
		migrated, ok, err := rotation.MigrateLegacyAssignments(context.Background(), store)
		if err != nil {
			return err
		}
		if ok && logger != nil {
			logger.Info("legacy day assignments migrated", zap.Int("days", len(migrated)))
		}
		return nil
	})
}
