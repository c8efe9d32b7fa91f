package favorites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Luknarz/DailyVerse/internal/entitlement"
	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"go.uber.org/zap"
)

const (
	keyFavorites = "favorites.ids"

	// DefaultFreeLimit is the number of favorites available without premium.
	DefaultFreeLimit = 3

	// Unlimited is returned by Remaining when no cap applies.
	Unlimited = -1
)

// ErrLimitReached is returned when adding a favorite would exceed the free tier cap.
var ErrLimitReached = errors.New("favorites: free tier limit reached")

var (
	errMissingStore = errors.New("favorites: key-value store is required")
	errMissingGate  = errors.New("favorites: entitlement gate is required")
	noOpLogger      = zap.NewNop()
)

// Gate decides whether the unlimited favorites feature is unlocked.
type Gate interface {
	CanAccess(ctx context.Context, feature entitlement.Feature) (bool, error)
}

type Config struct {
	Store     kvstore.Store
	Gate      Gate
	FreeLimit int
	Logger    *zap.Logger
}

// Set is the persisted set of favorite verse ids.
type Set struct {
	mu        sync.Mutex
	store     kvstore.Store
	gate      Gate
	freeLimit int
	logger    *zap.Logger
	ids       map[int]struct{}
}

func New(ctx context.Context, cfg Config) (*Set, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Gate == nil {
		return nil, errMissingGate
	}
	limit := cfg.FreeLimit
	if limit <= 0 {
		limit = DefaultFreeLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	var stored []int
	_, err := cfg.Store.Get(ctx, keyFavorites, &stored)
	if errors.Is(err, kvstore.ErrDecode) {
		logger.Warn("stored favorites unreadable; starting empty", zap.Error(err))
		stored, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("favorites: load: %w", err)
	}
	ids := make(map[int]struct{}, len(stored))
	for _, id := range stored {
		ids[id] = struct{}{}
	}
	return &Set{store: cfg.Store, gate: cfg.Gate, freeLimit: limit, logger: logger, ids: ids}, nil
}

// Toggle removes verseID when it is a favorite and adds it otherwise. It
// reports whether the verse is a favorite afterwards.
func (s *Set) Toggle(ctx context.Context, verseID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[verseID]; ok {
		delete(s.ids, verseID)
		if err := s.saveLocked(ctx); err != nil {
			s.ids[verseID] = struct{}{}
			return true, err
		}
		return false, nil
	}

	unlimited, err := s.gate.CanAccess(ctx, entitlement.FeatureUnlimitedFavorites)
	if err != nil {
		return false, fmt.Errorf("favorites: check entitlement: %w", err)
	}
	if !unlimited && len(s.ids) >= s.freeLimit {
		return false, ErrLimitReached
	}
	s.ids[verseID] = struct{}{}
	if err := s.saveLocked(ctx); err != nil {
		delete(s.ids, verseID)
		return false, err
	}
	return true, nil
}

func (s *Set) IsFavorite(verseID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[verseID]
	return ok
}

// List returns the favorite ids in ascending order.
func (s *Set) List() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Remaining returns how many more favorites can be added, or Unlimited.
func (s *Set) Remaining(ctx context.Context) (int, error) {
	unlimited, err := s.gate.CanAccess(ctx, entitlement.FeatureUnlimitedFavorites)
	if err != nil {
		return 0, fmt.Errorf("favorites: check entitlement: %w", err)
	}
	if unlimited {
		return Unlimited, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.freeLimit-len(s.ids), 0), nil
}

func (s *Set) sortedLocked() []int {
	ids := make([]int, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Set) saveLocked(ctx context.Context) error {
	if err := s.store.Set(ctx, keyFavorites, s.sortedLocked()); err != nil {
		return fmt.Errorf("favorites: persist: %w", err)
	}
	return nil
}
