package streak

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Luknarz/DailyVerse/internal/calendar"
	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"go.uber.org/zap"
)

const (
	keyCurrent     = "streak.current"
	keyLongest     = "streak.longest"
	keyLastReadDay = "streak.last_read_day"
	keyReadDays    = "streak.read_days"

	// DefaultRetentionDays bounds the read-day set kept for HasRead and RecentDayStatuses.
	DefaultRetentionDays = 90
)

var (
	errMissingStore = errors.New("streak: key-value store is required")
	noOpLogger      = zap.NewNop()
)

// Milestone is a streak length that unlocks an achievement.
type Milestone int

const (
	MilestoneThreeDays  Milestone = 3
	MilestoneSevenDays  Milestone = 7
	MilestoneThirtyDays Milestone = 30
)

// Milestones lists every milestone in ascending order.
var Milestones = []Milestone{MilestoneThreeDays, MilestoneSevenDays, MilestoneThirtyDays}

// Days returns the threshold.
func (m Milestone) Days() int {
	return int(m)
}

// Label renders the milestone for display, e.g. "7 days".
func (m Milestone) Label() string {
	return fmt.Sprintf("%d days", int(m))
}

// MilestonesFor returns the milestones reached by a streak of length current.
func MilestonesFor(current int) []Milestone {
	reached := make([]Milestone, 0, len(Milestones))
	for _, milestone := range Milestones {
		if current >= milestone.Days() {
			reached = append(reached, milestone)
		}
	}
	return reached
}

// Snapshot is the streak state returned after every update.
type Snapshot struct {
	Current    int         `json:"current"`
	Longest    int         `json:"longest"`
	Milestones []Milestone `json:"milestones"`
}

// DayStatus flags whether a calendar day had a completed reading.
type DayStatus struct {
	Day      calendar.DayKey `json:"day"`
	Date     time.Time       `json:"date"`
	Complete bool            `json:"complete"`
}

// Config describes the dependencies of a Tracker.
type Config struct {
	Store         kvstore.Store
	Calendar      calendar.Calendar
	RetentionDays int
	Logger        *zap.Logger
}

// Tracker maintains the reading streak. Counters are independent integers;
// the read-day set only backs HasRead and RecentDayStatuses and is trimmed to
// the retention window.
type Tracker struct {
	mu            sync.Mutex
	store         kvstore.Store
	calendar      calendar.Calendar
	retentionDays int
	logger        *zap.Logger

	current     int
	longest     int
	lastReadDay string
	readDays    map[string]struct{}
}

// NewTracker loads the persisted streak state.
func NewTracker(ctx context.Context, cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	tracker := &Tracker{
		store:         cfg.Store,
		calendar:      cfg.Calendar,
		retentionDays: retention,
		logger:        logger,
		readDays:      map[string]struct{}{},
	}
	if err := tracker.load(ctx); err != nil {
		return nil, err
	}
	return tracker, nil
}

// MarkRead records a completed reading on the day of date. Marking a day that
// is already recorded returns the current snapshot unchanged.
func (t *Tracker) MarkRead(ctx context.Context, date time.Time) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.calendar.Key(date).String()
	if _, done := t.readDays[key]; done {
		return t.snapshotLocked(), nil
	}

	next := 1
	if t.lastReadDay != "" {
		previous, err := t.calendar.ParseKey(t.lastReadDay)
		if err == nil && t.calendar.DaysBetween(previous, date) == 1 {
			next = t.current + 1
		}
	}
	t.current = next
	if t.current > t.longest {
		t.longest = t.current
	}
	t.lastReadDay = key
	t.readDays[key] = struct{}{}

	cutoff := t.calendar.Key(t.calendar.AddDays(date, -t.retentionDays)).String()
	for day := range t.readDays {
		if day < cutoff {
			delete(t.readDays, day)
		}
	}

	if err := t.save(ctx); err != nil {
		return Snapshot{}, err
	}
	return t.snapshotLocked(), nil
}

// HasRead reports whether the day of date is in the retained read-day set.
func (t *Tracker) HasRead(date time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.readDays[t.calendar.Key(date).String()]
	return ok
}

// RecentDayStatuses returns exactly days entries for the days ending at
// referenceDate, oldest first.
func (t *Tracker) RecentDayStatuses(days int, referenceDate time.Time) []DayStatus {
	if days <= 0 {
		return []DayStatus{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	statuses := make([]DayStatus, 0, days)
	for offset := days - 1; offset >= 0; offset-- {
		date := t.calendar.AddDays(referenceDate, -offset)
		key := t.calendar.Key(date)
		_, complete := t.readDays[key.String()]
		statuses = append(statuses, DayStatus{
			Day:      key,
			Date:     t.calendar.StartOfDay(date),
			Complete: complete,
		})
	}
	return statuses
}

// Snapshot returns the current streak state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// LastReadDay returns the key of the most recently marked day, if any.
func (t *Tracker) LastReadDay() (calendar.DayKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return calendar.DayKey(t.lastReadDay), t.lastReadDay != ""
}

// ReadDays returns the retained read-day keys in ascending order.
func (t *Tracker) ReadDays() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedDaysLocked()
}

// Reset clears both counters, the last read day and the read-day set.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = 0
	t.longest = 0
	t.lastReadDay = ""
	t.readDays = map[string]struct{}{}
	for _, key := range []string{keyCurrent, keyLongest, keyLastReadDay, keyReadDays} {
		if err := t.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("streak: delete %s: %w", key, err)
		}
	}
	t.logger.Info("streak reset")
	return nil
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Current:    t.current,
		Longest:    t.longest,
		Milestones: MilestonesFor(t.current),
	}
}

func (t *Tracker) sortedDaysLocked() []string {
	days := make([]string, 0, len(t.readDays))
	for day := range t.readDays {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

func (t *Tracker) load(ctx context.Context) error {
	if err := t.loadValue(ctx, keyCurrent, &t.current); err != nil {
		return err
	}
	if err := t.loadValue(ctx, keyLongest, &t.longest); err != nil {
		return err
	}
	if err := t.loadValue(ctx, keyLastReadDay, &t.lastReadDay); err != nil {
		return err
	}
	var days []string
	if err := t.loadValue(ctx, keyReadDays, &days); err != nil {
		return err
	}
	for _, day := range days {
		t.readDays[day] = struct{}{}
	}

	if t.current < 0 {
		t.current = 0
	}
	if t.longest < t.current {
		t.longest = t.current
	}
	return nil
}

// loadValue leaves dest at its zero value when the key is absent or unreadable.
func (t *Tracker) loadValue(ctx context.Context, key string, dest any) error {
	_, err := t.store.Get(ctx, key, dest)
	if errors.Is(err, kvstore.ErrDecode) {
		t.logger.Warn("stored streak value unreadable; using default", zap.String("key", key), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("streak: load %s: %w", key, err)
	}
	return nil
}

func (t *Tracker) save(ctx context.Context) error {
	values := []struct {
		key   string
		value any
	}{
		{keyCurrent, t.current},
		{keyLongest, t.longest},
		{keyLastReadDay, t.lastReadDay},
		{keyReadDays, t.sortedDaysLocked()},
	}
	for _, entry := range values {
		if err := t.store.Set(ctx, entry.key, entry.value); err != nil {
			return fmt.Errorf("streak: persist %s: %w", entry.key, err)
		}
	}
	return nil
}
