package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/Luknarz/DailyVerse/internal/kvstore"
)

// loadAssignments reads the current mapping schema and falls back to the
// single-verse-per-day legacy schema, migrating it in place.
func loadAssignments(ctx context.Context, store kvstore.Store) (map[string][]int, error) {
	var current map[string][]int
	found, err := store.Get(ctx, keyAssignments, &current)
	if err == nil && found {
		if current == nil {
			current = map[string][]int{}
		}
		return current, nil
	}
	if err != nil && !errors.Is(err, kvstore.ErrDecode) {
		return nil, err
	}
	decodeErr := err

	migrated, ok, err := MigrateLegacyAssignments(ctx, store)
	if err != nil {
		return nil, err
	}
	if ok {
		return migrated, nil
	}
	if decodeErr != nil {
		return map[string][]int{}, decodeErr
	}
	return map[string][]int{}, nil
}

// MigrateLegacyAssignments converts a stored map of day key to a single verse
// id into the list-per-day schema, writes it under the current key and removes
// the legacy key. It reports false when no decodable legacy mapping exists.
func MigrateLegacyAssignments(ctx context.Context, store kvstore.Store) (map[string][]int, bool, error) {
	var legacy map[string]int
	found, err := store.Get(ctx, keyLegacyAssignments, &legacy)
	if errors.Is(err, kvstore.ErrDecode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	var existing map[string][]int
	currentFound, currentErr := store.Get(ctx, keyAssignments, &existing)
	if currentErr != nil || !currentFound || existing == nil {
		existing = map[string][]int{}
	}
	for day, verseID := range legacy {
		if len(existing[day]) == 0 {
			existing[day] = []int{verseID}
		}
	}

	if err := store.Set(ctx, keyAssignments, existing); err != nil {
		return nil, false, fmt.Errorf("rotation: write migrated assignments: %w", err)
	}
	if err := store.Delete(ctx, keyLegacyAssignments); err != nil {
		return nil, false, fmt.Errorf("rotation: delete legacy assignments: %w", err)
	}
	return existing, true, nil
}
