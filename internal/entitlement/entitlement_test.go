package entitlement

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *kvstore.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "entitlement.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&kvstore.Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := kvstore.New(kvstore.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestFreeTierDeniesEveryFeature(t *testing.T) {
	manager, err := NewManager(Config{Store: newTestStore(t)})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	ctx := context.Background()
	for _, feature := range Features {
		allowed, err := manager.CanAccess(ctx, feature)
		if err != nil {
			t.Fatalf("can access failed: %v", err)
		}
		if allowed {
			t.Fatalf("expected %s denied on free tier", feature)
		}
	}
}

func TestPremiumGrantsKnownFeaturesAndPersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	manager, err := NewManager(Config{Store: store})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	if err := manager.SetPremium(ctx, true); err != nil {
		t.Fatalf("set premium failed: %v", err)
	}

	reloaded, err := NewManager(Config{Store: store})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	premium, err := reloaded.IsPremium(ctx)
	if err != nil || !premium {
		t.Fatalf("expected persisted premium flag, got %v (err %v)", premium, err)
	}
	for _, feature := range Features {
		if allowed, _ := reloaded.CanAccess(ctx, feature); !allowed {
			t.Fatalf("expected %s granted to premium", feature)
		}
	}
	if allowed, _ := reloaded.CanAccess(ctx, Feature("teleportation")); allowed {
		t.Fatalf("expected unknown feature denied")
	}

	if err := reloaded.SetPremium(ctx, false); err != nil {
		t.Fatalf("set premium failed: %v", err)
	}
	if premium, _ := reloaded.IsPremium(ctx); premium {
		t.Fatalf("expected premium revoked")
	}
}

func TestUnreadableFlagFallsBackToFree(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, keyPremium, "yes please"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	manager, err := NewManager(Config{Store: store})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	premium, err := manager.IsPremium(ctx)
	if err != nil {
		t.Fatalf("expected fallback without error, got %v", err)
	}
	if premium {
		t.Fatalf("expected free tier fallback")
	}
}

func TestNewManagerRequiresStore(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
}
