package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxKeyLength = 190

var (
	// ErrInvalidKey indicates an empty or oversized key.
	ErrInvalidKey = errors.New("kvstore: invalid key")
	// ErrDecode indicates that a stored value does not decode into the requested type.
	ErrDecode = errors.New("kvstore: decode mismatch")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const envelopeVersion = 1

// Entry is a single persisted key-value pair. Value always holds an envelope
// object, never a bare scalar: SQLite gives JSON columns numeric affinity and
// would store a bare number as INTEGER or REAL.
type Entry struct {
	Key              string         `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value            datatypes.JSON `gorm:"column:value;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

type envelope struct {
	Version int             `json:"v"`
	Value   json.RawMessage `json:"value"`
}

// Store reads and writes JSON-encoded values under string keys.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Config describes the dependencies of a GormStore.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// GormStore persists entries in the kv_entries table.
type GormStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// New constructs a GormStore.
func New(cfg Config) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GormStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get decodes the value stored under key into dest. It reports false when the
// key is absent. A value that cannot be decoded yields ErrDecode.
func (s *GormStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var entry Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Error("kv lookup failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	var stored envelope
	if err := json.Unmarshal(entry.Value, &stored); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrDecode, key, err)
	}
	if stored.Version != envelopeVersion || len(stored.Value) == 0 {
		return true, fmt.Errorf("%w: %s: unsupported envelope version %d", ErrDecode, key, stored.Version)
	}
	if err := json.Unmarshal(stored.Value, dest); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrDecode, key, err)
	}
	return true, nil
}

// Set stores value under key, replacing any previous value.
func (s *GormStore) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	encoded, err = json.Marshal(envelope{Version: envelopeVersion, Value: encoded})
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	entry := Entry{
		Key:              key,
		Value:            datatypes.JSON(encoded),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&entry).Error
	if err != nil {
		s.logger.Error("kv write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Entry{}).Error
}

// Keys lists stored keys starting with prefix in ascending order.
func (s *GormStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("entry_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("entry_key ASC").
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func validateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || trimmed != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
