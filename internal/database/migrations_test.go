package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsSplitsLegacyAssignments(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&kvstore.Entry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := kvstore.New(kvstore.Config{Database: database})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	ctx := context.Background()
	legacy := map[string]int{"2025-03-01": 4, "2025-03-02": 9}
	if err := store.Set(ctx, "rotation.assignments", legacy); err != nil {
		testContext.Fatalf("failed to seed legacy mapping: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var migrated map[string][]int
	found, err := store.Get(ctx, "rotation.assignments.v2", &migrated)
	if err != nil || !found {
		testContext.Fatalf("expected migrated mapping, found=%v err=%v", found, err)
	}
	expected := map[string][]int{"2025-03-01": {4}, "2025-03-02": {9}}
	if diff := cmp.Diff(expected, migrated); diff != "" {
		testContext.Fatalf("unexpected migrated mapping (-want +got):\n%s", diff)
	}
	if found, _ := store.Get(ctx, "rotation.assignments", &legacy); found {
		testContext.Fatalf("expected legacy key to be removed")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationSplitDayAssignments).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "once.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	store, err := kvstore.New(kvstore.Config{Database: database})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	ctx := context.Background()
	if err := store.Set(ctx, "rotation.assignments", map[string]int{"2025-03-01": 1}); err != nil {
		testContext.Fatalf("failed to seed legacy mapping: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	var legacy map[string]int
	if found, _ := store.Get(ctx, "rotation.assignments", &legacy); !found {
		testContext.Fatalf("expected recorded migration to be skipped")
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
