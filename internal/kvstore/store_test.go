package kvstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kv.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := New(Config{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, db
}

func TestSetThenGetRoundTripsValues(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mapping := map[string][]int{"2025-01-01": {4, 2}, "2025-01-02": {7}}
	if err := store.Set(ctx, "rotation.assignments.v2", mapping); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	var seed uint64 = 18446744073709551557
	if err := store.Set(ctx, "rotation.seed", seed); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var loaded map[string][]int
	found, err := store.Get(ctx, "rotation.assignments.v2", &loaded)
	if err != nil || !found {
		t.Fatalf("expected stored mapping, found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(mapping, loaded); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}

	var loadedSeed uint64
	if _, err := store.Get(ctx, "rotation.seed", &loadedSeed); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loadedSeed != seed {
		t.Fatalf("seed lost precision: got %d want %d", loadedSeed, seed)
	}
}

func TestScalarValuesSurviveReopen(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	open := func() (*GormStore, *gorm.DB) {
		db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
		if err != nil {
			t.Fatalf("failed to open sqlite: %v", err)
		}
		if err := db.AutoMigrate(&Entry{}); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
		store, err := New(Config{Database: db})
		if err != nil {
			t.Fatalf("failed to build store: %v", err)
		}
		return store, db
	}

	store, db := open()
	if err := store.Set(ctx, "streak.current", 3); err != nil {
		t.Fatalf("set int failed: %v", err)
	}
	if err := store.Set(ctx, "entitlement.premium", true); err != nil {
		t.Fatalf("set bool failed: %v", err)
	}
	if err := store.Set(ctx, "rotation.seed", uint64(math.MaxUint64)); err != nil {
		t.Fatalf("set uint64 failed: %v", err)
	}
	var storageClasses []string
	if err := db.Raw("SELECT typeof(value) FROM kv_entries ORDER BY entry_key").Scan(&storageClasses).Error; err != nil {
		t.Fatalf("typeof query failed: %v", err)
	}
	if diff := cmp.Diff([]string{"text", "text", "text"}, storageClasses); diff != "" {
		t.Fatalf("values must be stored as text (-want +got):\n%s", diff)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	reopened, _ := open()
	var current int
	if found, err := reopened.Get(ctx, "streak.current", &current); err != nil || !found || current != 3 {
		t.Fatalf("expected int 3, got %d found=%v err=%v", current, found, err)
	}
	var premium bool
	if found, err := reopened.Get(ctx, "entitlement.premium", &premium); err != nil || !found || !premium {
		t.Fatalf("expected bool true, got %v found=%v err=%v", premium, found, err)
	}
	var seed uint64
	if found, err := reopened.Get(ctx, "rotation.seed", &seed); err != nil || !found || seed != math.MaxUint64 {
		t.Fatalf("expected max uint64 seed, got %d found=%v err=%v", seed, found, err)
	}
}

func TestBareDocumentsAreDecodeMismatches(t *testing.T) {
	store, db := newTestStore(t)
	if err := db.Exec("INSERT INTO kv_entries (entry_key, value, updated_at_s) VALUES (?, ?, ?)", "streak.current", `"3"`, 0).Error; err != nil {
		t.Fatalf("failed to seed raw row: %v", err)
	}
	var current int
	found, err := store.Get(context.Background(), "streak.current", &current)
	if !found || !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for a bare document, found=%v err=%v", found, err)
	}
}

func TestSetOverwritesExistingValue(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "streak.current", 1); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "streak.current", 2); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	var count int64
	if err := db.Model(&Entry{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single row, got %d", count)
	}
	var current int
	if _, err := store.Get(ctx, "streak.current", &current); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if current != 2 {
		t.Fatalf("expected overwritten value 2, got %d", current)
	}
}

func TestGetReportsMissingAndMismatchedValues(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var missing int
	found, err := store.Get(ctx, "absent", &missing)
	if err != nil || found {
		t.Fatalf("expected absent key, found=%v err=%v", found, err)
	}

	if err := store.Set(ctx, "rotation.assignments", map[string]int{"2025-01-01": 3}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	var wrongShape map[string][]int
	found, err = store.Get(ctx, "rotation.assignments", &wrongShape)
	if !found {
		t.Fatalf("expected key to be found")
	}
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDeleteAndKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"streak.current", "streak.longest", "streak_other", "favorites.ids"} {
		if err := store.Set(ctx, key, 1); err != nil {
			t.Fatalf("set %s failed: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "streak.")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if diff := cmp.Diff([]string{"streak.current", "streak.longest"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, "streak.current"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, "streak.current"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	var value int
	if found, _ := store.Get(ctx, "streak.current", &value); found {
		t.Fatalf("expected key to be deleted")
	}
}

func TestInvalidKeysAreRejected(t *testing.T) {
	store, _ := newTestStore(t)
	for _, key := range []string{"", "  padded ", string(make([]byte, maxKeyLength+1))} {
		if err := store.Set(context.Background(), key, 1); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
}

func TestNewRequiresDatabase(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without database")
	}
}
