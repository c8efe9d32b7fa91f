package history

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"github.com/Luknarz/DailyVerse/internal/serviceerr"
	"go.uber.org/zap"
)

const (
	keyEvents = "history.events"

	// DefaultMergeWindow is how long a reading of the same chapter keeps
	// extending the previous event.
	DefaultMergeWindow = 60 * time.Second
)

var (
	errMissingStore      = errors.New("key-value store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBook       = errors.New("book is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError is the coded error returned by every operation of this package.
type ServiceError = serviceerr.Error

const (
	opServiceNew = "history.service.new"
	opRecord     = "history.record"
	opExport     = "history.export"
	opClear      = "history.clear"
)

func newServiceError(operation, reason string, cause error) error {
	return serviceerr.New(operation, reason, cause)
}

// Event is a single reading. Empty Verses means the whole chapter was viewed.
type Event struct {
	ID      string    `json:"id"`
	Date    time.Time `json:"date"`
	Book    string    `json:"book"`
	Chapter int       `json:"chapter"`
	Verses  []int     `json:"verses"`
}

type ServiceConfig struct {
	Store       kvstore.Store
	Clock       func() time.Time
	IDProvider  IDProvider
	MergeWindow time.Duration
	Logger      *zap.Logger
}

type Service struct {
	mu          sync.Mutex
	store       kvstore.Store
	clock       func() time.Time
	idProvider  IDProvider
	mergeWindow time.Duration
	logger      *zap.Logger
	events      []Event
}

func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.MergeWindow
	if window <= 0 {
		window = DefaultMergeWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	service := &Service{
		store:       cfg.Store,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		mergeWindow: window,
		logger:      logger,
	}

	var events []Event
	_, err := cfg.Store.Get(ctx, keyEvents, &events)
	if errors.Is(err, kvstore.ErrDecode) {
		logger.Warn("stored reading history unreadable; starting empty", zap.Error(err))
		events, err = nil, nil
	}
	if err != nil {
		return nil, newServiceError(opServiceNew, "load_failed", err)
	}
	service.events = events
	return service, nil
}

// Record appends a reading event, or merges verses into the last event when it
// is for the same book and chapter and lies within the merge window.
func (s *Service) Record(ctx context.Context, book string, chapter int, verses []int) (Event, error) {
	if book == "" {
		s.logError(opRecord, "missing_book", errMissingBook)
		return Event{}, newServiceError(opRecord, "missing_book", errMissingBook)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	if count := len(s.events); count > 0 {
		last := s.events[count-1]
		if last.Book == book && last.Chapter == chapter && now.Sub(last.Date) < s.mergeWindow {
			merged := last
			merged.Verses = mergeVerses(last.Verses, verses)
			s.events[count-1] = merged
			if err := s.saveLocked(ctx); err != nil {
				s.events[count-1] = last
				s.logError(opRecord, "persist_failed", err, zap.String("event_id", last.ID))
				return Event{}, newServiceError(opRecord, "persist_failed", err)
			}
			return merged, nil
		}
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecord, "id_generation_failed", err)
		return Event{}, newServiceError(opRecord, "id_generation_failed", err)
	}
	event := Event{
		ID:      id,
		Date:    now,
		Book:    book,
		Chapter: chapter,
		Verses:  mergeVerses(nil, verses),
	}
	s.events = append(s.events, event)
	if err := s.saveLocked(ctx); err != nil {
		s.events = s.events[:len(s.events)-1]
		s.logError(opRecord, "persist_failed", err, zap.String("event_id", id))
		return Event{}, newServiceError(opRecord, "persist_failed", err)
	}
	return event, nil
}

// Events returns a copy of the recorded events, oldest first.
func (s *Service) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]Event, len(s.events))
	for index, event := range s.events {
		event.Verses = append([]int{}, event.Verses...)
		events[index] = event
	}
	return events
}

// ExportJSON renders the history as an indented JSON array.
func (s *Service) ExportJSON() ([]byte, error) {
	events := s.Events()
	payload, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		s.logError(opExport, "encode_failed", err)
		return nil, newServiceError(opExport, "encode_failed", err)
	}
	return payload, nil
}

func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(ctx, keyEvents); err != nil {
		s.logError(opClear, "delete_failed", err)
		return newServiceError(opClear, "delete_failed", err)
	}
	s.events = nil
	return nil
}

func (s *Service) saveLocked(ctx context.Context) error {
	return s.store.Set(ctx, keyEvents, s.events)
}

func mergeVerses(existing, added []int) []int {
	seen := make(map[int]struct{}, len(existing)+len(added))
	merged := make([]int, 0, len(existing)+len(added))
	for _, verse := range append(append([]int{}, existing...), added...) {
		if _, ok := seen[verse]; ok {
			continue
		}
		seen[verse] = struct{}{}
		merged = append(merged, verse)
	}
	sort.Ints(merged)
	return merged
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	logger.Error("history service error", attrs...)
}
