package daily

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Luknarz/DailyVerse/internal/calendar"
	"github.com/Luknarz/DailyVerse/internal/content"
	"github.com/Luknarz/DailyVerse/internal/entitlement"
	"github.com/Luknarz/DailyVerse/internal/history"
	"github.com/Luknarz/DailyVerse/internal/reference"
	"github.com/Luknarz/DailyVerse/internal/rotation"
	"github.com/Luknarz/DailyVerse/internal/serviceerr"
	"github.com/Luknarz/DailyVerse/internal/streak"
	"go.uber.org/zap"
)

const (
	// DefaultFreeExtraVerses is the number of extra verses a free user may draw per day.
	DefaultFreeExtraVerses = 1
	// RecentDays is the length of the streak strip returned by Today.
	RecentDays = 14
)

// ErrExtraVerseLimit is returned when a free user has used up the extra verses for the day.
var ErrExtraVerseLimit = errors.New("daily: extra verse limit reached")

var (
	errMissingRotation = errors.New("rotation engine is required")
	errMissingStreak   = errors.New("streak tracker is required")
	errMissingGate     = errors.New("entitlement gate is required")
	errEmptyPool       = errors.New("verse pool is empty")
	noOpLogger         = zap.NewNop()
)

// ServiceError is the coded error returned by every operation of this package.
type ServiceError = serviceerr.Error

const (
	opServiceNew     = "daily.service.new"
	opToday          = "daily.today"
	opExtraVerse     = "daily.extra_verse"
	opMarkRead       = "daily.mark_read"
	opResetStreak    = "daily.reset_streak"
	opResetSequence  = "daily.reset_sequence"
	opRecordReadings = "daily.record_readings"
)

func newServiceError(operation, reason string, cause error) error {
	return serviceerr.New(operation, reason, cause)
}

// Gate decides whether a premium feature is unlocked.
type Gate interface {
	CanAccess(ctx context.Context, feature entitlement.Feature) (bool, error)
}

// HistoryRecorder stores reading events.
type HistoryRecorder interface {
	Record(ctx context.Context, book string, chapter int, verses []int) (history.Event, error)
}

type ServiceConfig struct {
	Rotation        *rotation.Engine
	Streak          *streak.Tracker
	Passages        *content.PassageProvider
	History         HistoryRecorder
	Gate            Gate
	Calendar        calendar.Calendar
	FreeExtraVerses int
	Logger          *zap.Logger
}

// DayView is everything the home screen shows for one day.
type DayView struct {
	Day      calendar.DayKey    `json:"day"`
	Verses   []content.Verse    `json:"verses"`
	Streak   streak.Snapshot    `json:"streak"`
	HasRead  bool               `json:"has_read"`
	Recent   []streak.DayStatus `json:"recent"`
	Passage  *content.Passage   `json:"passage,omitempty"`
	Extras   int                `json:"extras"`
	CanExtra bool               `json:"can_request_extra"`
}

// Service composes rotation, streak and history behind the daily reading policy.
type Service struct {
	mu              sync.Mutex
	rotation        *rotation.Engine
	streak          *streak.Tracker
	passages        *content.PassageProvider
	history         HistoryRecorder
	gate            Gate
	calendar        calendar.Calendar
	freeExtraVerses int
	logger          *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Rotation == nil {
		return nil, newServiceError(opServiceNew, "missing_rotation", errMissingRotation)
	}
	if cfg.Streak == nil {
		return nil, newServiceError(opServiceNew, "missing_streak", errMissingStreak)
	}
	if cfg.Gate == nil {
		return nil, newServiceError(opServiceNew, "missing_gate", errMissingGate)
	}
	freeExtras := cfg.FreeExtraVerses
	if freeExtras <= 0 {
		freeExtras = DefaultFreeExtraVerses
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		rotation:        cfg.Rotation,
		streak:          cfg.Streak,
		passages:        cfg.Passages,
		history:         cfg.History,
		gate:            cfg.Gate,
		calendar:        cfg.Calendar,
		freeExtraVerses: freeExtras,
		logger:          logger,
	}, nil
}

// Today assigns the day's verse if needed and returns the day view.
func (s *Service) Today(ctx context.Context, date time.Time) (DayView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	verses, err := s.rotation.AssignOrGet(ctx, date)
	if err != nil {
		s.logError(opToday, "assign_failed", err, zap.String("day", s.calendar.Key(date).String()))
		return DayView{}, newServiceError(opToday, "assign_failed", err)
	}
	if verses == nil {
		verses = []content.Verse{}
	}

	extras := max(len(s.rotation.Assignments(date))-1, 0)
	canExtra, err := s.extraAllowed(ctx, extras)
	if err != nil {
		s.logError(opToday, "entitlement_failed", err)
		return DayView{}, newServiceError(opToday, "entitlement_failed", err)
	}

	view := DayView{
		Day:      s.calendar.Key(date),
		Verses:   verses,
		Streak:   s.streak.Snapshot(),
		HasRead:  s.streak.HasRead(date),
		Recent:   s.streak.RecentDayStatuses(RecentDays, date),
		Extras:   extras,
		CanExtra: canExtra && len(verses) > 0,
	}
	if passage, ok := s.passages.PassageFor(date); ok {
		view.Passage = &passage
	}
	return view, nil
}

// RequestExtraVerse appends another verse to the day. Free users are capped at
// the configured number of extra verses per day.
func (s *Service) RequestExtraVerse(ctx context.Context, date time.Time) (content.Verse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.calendar.Key(date).String()
	if !s.rotation.HasAssignment(date) {
		if _, err := s.rotation.AssignOrGet(ctx, date); err != nil {
			s.logError(opExtraVerse, "assign_failed", err, zap.String("day", day))
			return content.Verse{}, newServiceError(opExtraVerse, "assign_failed", err)
		}
	}

	extras := max(len(s.rotation.Assignments(date))-1, 0)
	allowed, err := s.extraAllowed(ctx, extras)
	if err != nil {
		s.logError(opExtraVerse, "entitlement_failed", err, zap.String("day", day))
		return content.Verse{}, newServiceError(opExtraVerse, "entitlement_failed", err)
	}
	if !allowed {
		return content.Verse{}, ErrExtraVerseLimit
	}

	verse, ok, err := s.rotation.AppendVerse(ctx, date)
	if err != nil {
		s.logError(opExtraVerse, "append_failed", err, zap.String("day", day))
		return content.Verse{}, newServiceError(opExtraVerse, "append_failed", err)
	}
	if !ok {
		return content.Verse{}, newServiceError(opExtraVerse, "empty_pool", errEmptyPool)
	}
	s.logger.Info("extra verse assigned",
		zap.String("day", day),
		zap.Int("verse_id", verse.ID),
		zap.Int("extras", extras+1))
	return verse, nil
}

// MarkRead records the day as read and logs a reading event for every verse
// assigned to it. Marking a day that is already read changes nothing.
func (s *Service) MarkRead(ctx context.Context, date time.Time) (streak.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alreadyRead := s.streak.HasRead(date)
	snapshot, err := s.streak.MarkRead(ctx, date)
	if err != nil {
		s.logError(opMarkRead, "streak_failed", err, zap.String("day", s.calendar.Key(date).String()))
		return streak.Snapshot{}, newServiceError(opMarkRead, "streak_failed", err)
	}
	if s.history == nil || alreadyRead {
		return snapshot, nil
	}

	for _, id := range s.rotation.Assignments(date) {
		verse, ok := s.rotation.VerseByID(id)
		if !ok {
			continue
		}
		parsed, ok := reference.Parse(verse.Reference)
		if !ok {
			s.logger.Warn("verse reference unparseable; skipping history",
				zap.Int("verse_id", verse.ID),
				zap.String("reference", verse.Reference))
			continue
		}
		if _, err := s.history.Record(ctx, parsed.Book, parsed.Chapter, parsed.Verses); err != nil {
			s.logError(opRecordReadings, "record_failed", err, zap.Int("verse_id", verse.ID))
			return snapshot, newServiceError(opMarkRead, "history_failed", err)
		}
	}
	return snapshot, nil
}

func (s *Service) ResetStreak(ctx context.Context) error {
	if err := s.streak.Reset(ctx); err != nil {
		s.logError(opResetStreak, "reset_failed", err)
		return newServiceError(opResetStreak, "reset_failed", err)
	}
	return nil
}

func (s *Service) ResetSequence(ctx context.Context) error {
	if err := s.rotation.ResetSequence(ctx); err != nil {
		s.logError(opResetSequence, "reset_failed", err)
		return newServiceError(opResetSequence, "reset_failed", err)
	}
	return nil
}

// RecentDayStatuses exposes the streak strip for an arbitrary window.
func (s *Service) RecentDayStatuses(days int, date time.Time) []streak.DayStatus {
	return s.streak.RecentDayStatuses(days, date)
}

// Passage returns the passage for the day of date.
func (s *Service) Passage(date time.Time) (content.Passage, bool) {
	return s.passages.PassageFor(date)
}

// VerseByID looks a verse up in the pool.
func (s *Service) VerseByID(id int) (content.Verse, bool) {
	return s.rotation.VerseByID(id)
}

func (s *Service) extraAllowed(ctx context.Context, extras int) (bool, error) {
	unlimited, err := s.gate.CanAccess(ctx, entitlement.FeatureUnlimitedExtraVerses)
	if err != nil {
		return false, err
	}
	return unlimited || extras < s.freeExtraVerses, nil
}

// ShareText renders verses as plain text, one "text\n— reference" block per
// verse separated by blank lines.
func ShareText(verses []content.Verse) string {
	blocks := make([]string, 0, len(verses))
	for _, verse := range verses {
		blocks = append(blocks, verse.Text+"\n— "+verse.Reference)
	}
	return strings.Join(blocks, "\n\n")
}

// StreakShareText is the caption shared alongside a streak.
func StreakShareText(current int) string {
	if current <= 0 {
		return "Join my Daily Verse Reading journey!"
	}
	return fmt.Sprintf("🔥 %d-day streak!", current)
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
	logger.Error("daily service error", attrs...)
}
