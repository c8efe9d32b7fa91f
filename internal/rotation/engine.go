// Package rotation assigns verses to calendar days from a per-install shuffled
// sequence of verse ids.
//
// The sequence is generated once from a persisted seed and is stable until
// ResetSequence. A forward-only cursor walks it and wraps to the start when
// exhausted; the same permutation then repeats. Day assignments only ever grow
// by appends.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Luknarz/DailyVerse/internal/calendar"
	"github.com/Luknarz/DailyVerse/internal/content"
	"github.com/Luknarz/DailyVerse/internal/kvstore"
	"go.uber.org/zap"
)

const (
	keySeed              = "rotation.seed"
	keySequence          = "rotation.sequence"
	keyCursor            = "rotation.cursor"
	keyAssignments       = "rotation.assignments.v2"
	keyLegacyAssignments = "rotation.assignments"
)

var (
	errMissingStore = errors.New("rotation: key-value store is required")
	noOpLogger      = zap.NewNop()
)

// Config describes the dependencies of an Engine.
type Config struct {
	Pool       *content.VersePool
	Store      kvstore.Store
	Calendar   calendar.Calendar
	SeedSource SeedSource
	Logger     *zap.Logger
}

// Engine hands out verses in shuffled order and remembers which verses each
// day received.
type Engine struct {
	mu          sync.Mutex
	pool        *content.VersePool
	store       kvstore.Store
	calendar    calendar.Calendar
	seeds       SeedSource
	logger      *zap.Logger
	sequence    []int
	cursor      int
	assignments map[string][]int
}

// NewEngine loads persisted rotation state, creating the seed and sequence on
// first use. An empty pool is logged once; the engine then returns empty
// results for every lookup.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	seeds := cfg.SeedSource
	if seeds == nil {
		seeds = RandomSeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	engine := &Engine{
		pool:     cfg.Pool,
		store:    cfg.Store,
		calendar: cfg.Calendar,
		seeds:    seeds,
		logger:   logger,
	}
	if engine.pool.Len() == 0 {
		logger.Error("verse pool is empty; rotation disabled")
	}
	if err := engine.loadSequence(ctx); err != nil {
		return nil, err
	}

	assignments, err := loadAssignments(ctx, engine.store)
	if errors.Is(err, kvstore.ErrDecode) {
		logger.Warn("stored day assignments unreadable; starting empty", zap.Error(err))
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("rotation: load assignments: %w", err)
	}
	engine.assignments = assignments
	return engine, nil
}

// AssignOrGet returns the verses already assigned to the day of date, or
// assigns the next verse of the sequence and returns it as a one-element list.
func (e *Engine) AssignOrGet(ctx context.Context, date time.Time) ([]content.Verse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := e.calendar.Key(date).String()
	if ids := e.assignments[key]; len(ids) > 0 {
		return e.resolve(ids), nil
	}

	verseID, ok, err := e.nextLocked(ctx)
	if err != nil || !ok {
		return nil, err
	}
	e.assignments[key] = []int{verseID}
	if err := e.saveAssignments(ctx); err != nil {
		delete(e.assignments, key)
		return nil, err
	}
	return e.resolve(e.assignments[key]), nil
}

// AppendVerse draws the next verse of the sequence and appends it to the day's
// assignments. It reports false when the pool is empty.
func (e *Engine) AppendVerse(ctx context.Context, date time.Time) (content.Verse, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	verseID, ok, err := e.nextLocked(ctx)
	if err != nil || !ok {
		return content.Verse{}, false, err
	}
	key := e.calendar.Key(date).String()
	previous, hadPrevious := e.assignments[key]
	e.assignments[key] = append(append([]int(nil), previous...), verseID)
	if err := e.saveAssignments(ctx); err != nil {
		if hadPrevious {
			e.assignments[key] = previous
		} else {
			delete(e.assignments, key)
		}
		return content.Verse{}, false, err
	}
	verse, found := e.pool.ByID(verseID)
	return verse, found, nil
}

// NextFromSequence returns the id under the cursor and advances it, wrapping
// to the start of the same permutation when the end is reached.
func (e *Engine) NextFromSequence(ctx context.Context) (int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextLocked(ctx)
}

// ResetSequence draws a fresh seed and rebuilds the permutation with the
// cursor at zero. Day assignments are kept.
func (e *Engine) ResetSequence(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seed := e.seeds()
	if err := e.store.Set(ctx, keySeed, seed); err != nil {
		return fmt.Errorf("rotation: persist seed: %w", err)
	}
	previousSequence, previousCursor := e.sequence, e.cursor
	e.sequence = Permutation(e.pool.IDs(), seed)
	e.cursor = 0
	if err := e.saveSequence(ctx); err != nil {
		e.sequence, e.cursor = previousSequence, previousCursor
		return err
	}
	e.logger.Info("verse sequence reset", zap.Int("length", len(e.sequence)))
	return nil
}

// HasAssignment reports whether the day of date has at least one verse.
func (e *Engine) HasAssignment(date time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.assignments[e.calendar.Key(date).String()]) > 0
}

// Assignments returns a copy of the verse ids assigned to the day of date.
func (e *Engine) Assignments(date time.Time) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.assignments[e.calendar.Key(date).String()]...)
}

// VerseAtPosition returns the verse at a position of the shuffled sequence.
func (e *Engine) VerseAtPosition(position int) (content.Verse, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if position < 0 || position >= len(e.sequence) {
		return content.Verse{}, false
	}
	return e.pool.ByID(e.sequence[position])
}

// VerseByID looks a verse up in the pool.
func (e *Engine) VerseByID(id int) (content.Verse, bool) {
	return e.pool.ByID(id)
}

// Cursor returns the position of the next verse to hand out.
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Sequence returns a copy of the shuffled id sequence.
func (e *Engine) Sequence() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.sequence...)
}

func (e *Engine) nextLocked(ctx context.Context) (int, bool, error) {
	if len(e.sequence) == 0 {
		return 0, false, nil
	}
	verseID := e.sequence[e.cursor]
	next := e.cursor + 1
	if next >= len(e.sequence) {
		next = 0
	}
	if err := e.store.Set(ctx, keyCursor, next); err != nil {
		return 0, false, fmt.Errorf("rotation: persist cursor: %w", err)
	}
	e.cursor = next
	return verseID, true, nil
}

// resolve maps ids to verses, skipping ids no longer present in the pool.
func (e *Engine) resolve(ids []int) []content.Verse {
	verses := make([]content.Verse, 0, len(ids))
	for _, id := range ids {
		if verse, ok := e.pool.ByID(id); ok {
			verses = append(verses, verse)
		}
	}
	return verses
}

func (e *Engine) loadSequence(ctx context.Context) error {
	var stored []int
	found, err := e.store.Get(ctx, keySequence, &stored)
	if errors.Is(err, kvstore.ErrDecode) {
		e.logger.Warn("stored verse sequence unreadable; regenerating", zap.Error(err))
		found, err = false, nil
	}
	if err != nil {
		return fmt.Errorf("rotation: load sequence: %w", err)
	}

	if found && len(stored) > 0 && sameIDs(stored, e.pool.IDs()) {
		e.sequence = stored
		var cursor int
		_, err := e.store.Get(ctx, keyCursor, &cursor)
		if errors.Is(err, kvstore.ErrDecode) {
			e.logger.Warn("stored cursor unreadable; restarting sequence", zap.Error(err))
			cursor, err = 0, nil
		}
		if err != nil {
			return fmt.Errorf("rotation: load cursor: %w", err)
		}
		if cursor < 0 || cursor >= len(stored) {
			cursor = 0
		}
		e.cursor = cursor
		return nil
	}
	if found && len(stored) > 0 {
		e.logger.Warn("stored verse sequence does not match the verse pool; rebuilding",
			zap.Int("stored_length", len(stored)),
			zap.Int("pool_size", e.pool.Len()))
	}

	if e.pool.Len() == 0 {
		e.sequence, e.cursor = nil, 0
		return nil
	}
	seed, err := e.seed(ctx)
	if err != nil {
		return err
	}
	e.sequence = Permutation(e.pool.IDs(), seed)
	e.cursor = 0
	return e.saveSequence(ctx)
}

// sameIDs reports whether sequence is a permutation of ids.
func sameIDs(sequence, ids []int) bool {
	if len(sequence) != len(ids) {
		return false
	}
	counts := make(map[int]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	for _, id := range sequence {
		if counts[id] == 0 {
			return false
		}
		counts[id]--
	}
	return true
}

// seed returns the persisted install seed, creating it on first use.
func (e *Engine) seed(ctx context.Context) (uint64, error) {
	var seed uint64
	found, err := e.store.Get(ctx, keySeed, &seed)
	if err == nil && found {
		return seed, nil
	}
	if err != nil && !errors.Is(err, kvstore.ErrDecode) {
		return 0, fmt.Errorf("rotation: load seed: %w", err)
	}
	seed = e.seeds()
	if err := e.store.Set(ctx, keySeed, seed); err != nil {
		return 0, fmt.Errorf("rotation: persist seed: %w", err)
	}
	return seed, nil
}

func (e *Engine) saveSequence(ctx context.Context) error {
	if err := e.store.Set(ctx, keySequence, e.sequence); err != nil {
		return fmt.Errorf("rotation: persist sequence: %w", err)
	}
	if err := e.store.Set(ctx, keyCursor, e.cursor); err != nil {
		return fmt.Errorf("rotation: persist cursor: %w", err)
	}
	return nil
}

func (e *Engine) saveAssignments(ctx context.Context) error {
	if err := e.store.Set(ctx, keyAssignments, e.assignments); err != nil {
		return fmt.Errorf("rotation: persist assignments: %w", err)
	}
	return nil
}
