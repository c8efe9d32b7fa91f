package favorites

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Luknarz/DailyVerse/internal/entitlement"
	"github.com/Luknarz/DailyVerse/internal/kvstore"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
)

type stubGate struct {
	premium bool
	err     error
}

func (g *stubGate) CanAccess(_ context.Context, _ entitlement.Feature) (bool, error) {
	return g.premium, g.err
}

func newTestStore(t *testing.T) *kvstore.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "favorites.db")), &gorm.Config{})
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

func newTestSet(t *testing.T, store kvstore.Store, gate Gate) *Set {
	t.Helper()
	set, err := New(context.Background(), Config{Store: store, Gate: gate})
	if err != nil {
		t.Fatalf("failed to build favorites: %v", err)
	}
	return set
}

func TestFreeTierLimit(t *testing.T) {
	ctx := context.Background()
	set := newTestSet(t, newTestStore(t), &stubGate{})

	for _, id := range []int{9, 3, 5} {
		added, err := set.Toggle(ctx, id)
		if err != nil || !added {
			t.Fatalf("expected %d added, got %v (err %v)", id, added, err)
		}
	}
	if remaining, _ := set.Remaining(ctx); remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
	if _, err := set.Toggle(ctx, 11); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if set.IsFavorite(11) {
		t.Fatalf("rejected favorite must not be stored")
	}

	added, err := set.Toggle(ctx, 3)
	if err != nil || added {
		t.Fatalf("expected removal to be allowed at the limit, got %v (err %v)", added, err)
	}
	if added, err := set.Toggle(ctx, 11); err != nil || !added {
		t.Fatalf("expected add after removal, got %v (err %v)", added, err)
	}
	if diff := cmp.Diff([]int{5, 9, 11}, set.List()); diff != "" {
		t.Fatalf("favorites mismatch (-want +got):\n%s", diff)
	}
}

func TestPremiumIsUnlimited(t *testing.T) {
	ctx := context.Background()
	set := newTestSet(t, newTestStore(t), &stubGate{premium: true})
	for id := 1; id <= 10; id++ {
		if _, err := set.Toggle(ctx, id); err != nil {
			t.Fatalf("premium toggle failed: %v", err)
		}
	}
	if remaining, _ := set.Remaining(ctx); remaining != Unlimited {
		t.Fatalf("expected unlimited, got %d", remaining)
	}
	if len(set.List()) != 10 {
		t.Fatalf("expected 10 favorites, got %d", len(set.List()))
	}
}

func TestFavoritesPersist(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	set := newTestSet(t, store, &stubGate{})
	if _, err := set.Toggle(ctx, 7); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	reloaded := newTestSet(t, store, &stubGate{})
	if !reloaded.IsFavorite(7) {
		t.Fatalf("expected favorite to persist")
	}
	if remaining, _ := reloaded.Remaining(ctx); remaining != DefaultFreeLimit-1 {
		t.Fatalf("unexpected remaining %d", remaining)
	}
}

func TestGateFailureIsReturned(t *testing.T) {
	gateErr := errors.New("gate offline")
	set := newTestSet(t, newTestStore(t), &stubGate{err: gateErr})
	if _, err := set.Toggle(context.Background(), 1); !errors.Is(err, gateErr) {
		t.Fatalf("expected gate error, got %v", err)
	}
}
