package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"go.uber.org/zap"
)

const keyPremium = "entitlement.premium"

var (
	errMissingStore = errors.New("entitlement: key-value store is required")
	noOpLogger      = zap.NewNop()
)

// Feature is a capability gated behind the premium entitlement.
type Feature string

const (
	FeatureUnlimitedFavorites   Feature = "unlimited_favorites"
	FeatureThemes               Feature = "themes"
	FeatureReadingHistory       Feature = "reading_history"
	FeatureUnlimitedExtraVerses Feature = "unlimited_extra_verses"
)

// Features lists every gated feature.
var Features = []Feature{
	FeatureUnlimitedFavorites,
	FeatureThemes,
	FeatureReadingHistory,
	FeatureUnlimitedExtraVerses,
}

type Config struct {
	Store  kvstore.Store
	Logger *zap.Logger
}

// Manager holds the persisted premium flag.
type Manager struct {
	mu      sync.Mutex
	store   kvstore.Store
	logger  *zap.Logger
	loaded  bool
	premium bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{store: cfg.Store, logger: logger}, nil
}

func (m *Manager) IsPremium(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return false, err
	}
	return m.premium, nil
}

func (m *Manager) SetPremium(ctx context.Context, premium bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(ctx, keyPremium, premium); err != nil {
		return fmt.Errorf("entitlement: persist premium flag: %w", err)
	}
	m.premium = premium
	m.loaded = true
	m.logger.Info("entitlement updated", zap.Bool("premium", premium))
	return nil
}

// CanAccess reports whether feature is available. Unknown features are denied.
func (m *Manager) CanAccess(ctx context.Context, feature Feature) (bool, error) {
	premium, err := m.IsPremium(ctx)
	if err != nil {
		return false, err
	}
	if !premium {
		return false, nil
	}
	for _, known := range Features {
		if known == feature {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) loadLocked(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	var premium bool
	_, err := m.store.Get(ctx, keyPremium, &premium)
	if errors.Is(err, kvstore.ErrDecode) {
		m.logger.Warn("stored entitlement unreadable; treating as free tier", zap.Error(err))
		premium, err = false, nil
	}
	if err != nil {
		return fmt.Errorf("entitlement: load premium flag: %w", err)
	}
	m.premium = premium
	m.loaded = true
	return nil
}
