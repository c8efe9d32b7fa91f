package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	next int
	err  error
}

func (p *sequentialIDs) NewID() (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.next++
	return fmt.Sprintf("event-%d", p.next), nil
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) *kvstore.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "history.db")), &gorm.Config{})
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

func newTestService(t *testing.T, store kvstore.Store, clock *manualClock) *Service {
	t.Helper()
	service, err := NewService(context.Background(), ServiceConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustRecord(t *testing.T, service *Service, book string, chapter int, verses ...int) Event {
	t.Helper()
	event, err := service.Record(context.Background(), book, chapter, verses)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	return event
}

func TestRecordAppendsEvents(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)}
	service := newTestService(t, newTestStore(t), clock)

	mustRecord(t, service, "John", 1, 3, 1, 2)
	mustRecord(t, service, "John", 2, 1)
	mustRecord(t, service, "Psalm", 23)

	events := service.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if diff := cmp.Diff([]int{1, 2, 3}, events[0].Verses); diff != "" {
		t.Fatalf("verses mismatch (-want +got):\n%s", diff)
	}
	if len(events[2].Verses) != 0 {
		t.Fatalf("expected chapter view without verses, got %v", events[2].Verses)
	}
}

func TestRecordMergesWithinWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)}
	service := newTestService(t, newTestStore(t), clock)

	first := mustRecord(t, service, "John", 1, 1, 2)
	clock.Advance(30 * time.Second)
	merged := mustRecord(t, service, "John", 1, 3, 2)

	if merged.ID != first.ID || !merged.Date.Equal(first.Date) {
		t.Fatalf("merged event must keep id and date, got %+v", merged)
	}
	events := service.Events()
	if len(events) != 1 {
		t.Fatalf("expected a single merged event, got %d", len(events))
	}
	if diff := cmp.Diff([]int{1, 2, 3}, events[0].Verses); diff != "" {
		t.Fatalf("merged verses mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordDoesNotMergeAfterWindowOrAcrossChapters(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)}
	service := newTestService(t, newTestStore(t), clock)

	mustRecord(t, service, "John", 1, 1)
	clock.Advance(DefaultMergeWindow)
	mustRecord(t, service, "John", 1, 2)
	mustRecord(t, service, "John", 2, 2)

	if got := len(service.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestExportJSON(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)}
	service := newTestService(t, newTestStore(t), clock)

	empty, err := service.ExportJSON()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if string(empty) != "[]" {
		t.Fatalf("expected empty array, got %s", empty)
	}

	mustRecord(t, service, "John", 1, 1, 2)
	payload, err := service.ExportJSON()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("export is not valid json: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["book"] != "John" || decoded[0]["date"] != "2025-06-01T07:00:00Z" {
		t.Fatalf("unexpected export payload: %s", payload)
	}
}

func TestHistoryPersistsAndClears(t *testing.T) {
	store := newTestStore(t)
	clock := &manualClock{now: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)}
	service := newTestService(t, store, clock)
	mustRecord(t, service, "John", 1, 1, 2)

	reloaded := newTestService(t, store, clock)
	events := reloaded.Events()
	if len(events) != 1 || events[0].Book != "John" {
		t.Fatalf("expected persisted event, got %+v", events)
	}

	if err := reloaded.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(reloaded.Events()) != 0 {
		t.Fatalf("expected empty history after clear")
	}
	if len(newTestService(t, store, clock).Events()) != 0 {
		t.Fatalf("expected clear to be persisted")
	}
}

func TestRecordErrorsCarryCodes(t *testing.T) {
	store := newTestStore(t)
	service, err := NewService(context.Background(), ServiceConfig{
		Store:      store,
		IDProvider: &sequentialIDs{err: errors.New("entropy exhausted")},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	_, err = service.Record(context.Background(), "John", 1, []int{1})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Code() != "history.record.id_generation_failed" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}

	_, err = service.Record(context.Background(), "", 1, nil)
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "history.record.missing_book" {
		t.Fatalf("expected missing book error, got %v", err)
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	if _, err := NewService(context.Background(), ServiceConfig{IDProvider: &sequentialIDs{}}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewService(context.Background(), ServiceConfig{Store: newTestStore(t)}); err == nil {
		t.Fatalf("expected error without id provider")
	}
}

func TestUUIDProviderIssuesVersionSeven(t *testing.T) {
	id, err := NewUUIDProvider().NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("invalid uuid %q: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}
