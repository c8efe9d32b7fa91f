package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyLayout is the layout used to render day keys.
const KeyLayout = "2006-01-02"

// ErrInvalidDayKey indicates that a day key does not match KeyLayout.
var ErrInvalidDayKey = errors.New("calendar: invalid day key")

// DayKey identifies one calendar day in a fixed location, formatted as YYYY-MM-DD.
type DayKey string

// String returns the underlying key.
func (k DayKey) String() string {
	return string(k)
}

// Calendar normalizes instants to calendar days in a single location.
type Calendar struct {
	location *time.Location
}

// New returns a Calendar bound to location. A nil location means UTC.
func New(location *time.Location) Calendar {
	if location == nil {
		location = time.UTC
	}
	return Calendar{location: location}
}

// LoadCalendar resolves an IANA zone name ("Local" and "" map to the host zone).
func LoadCalendar(zoneName string) (Calendar, error) {
	name := strings.TrimSpace(zoneName)
	if name == "" || strings.EqualFold(name, "local") {
		return New(time.Local), nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("calendar: load location %q: %w", name, err)
	}
	return New(location), nil
}

// Location exposes the configured location.
func (c Calendar) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// StartOfDay returns midnight of the calendar day containing instant.
func (c Calendar) StartOfDay(instant time.Time) time.Time {
	local := instant.In(c.Location())
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, c.Location())
}

// Key formats the calendar day containing instant.
func (c Calendar) Key(instant time.Time) DayKey {
	return DayKey(c.StartOfDay(instant).Format(KeyLayout))
}

// ParseKey returns the start of the day identified by key.
func (c Calendar) ParseKey(key string) (time.Time, error) {
	parsed, err := time.ParseInLocation(KeyLayout, strings.TrimSpace(key), c.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDayKey, key)
	}
	return parsed, nil
}

// AddDays moves instant by a number of calendar days, keeping the wall clock.
func (c Calendar) AddDays(instant time.Time, days int) time.Time {
	local := instant.In(c.Location())
	year, month, day := local.Date()
	hour, minute, second := local.Clock()
	return time.Date(year, month, day+days, hour, minute, second, local.Nanosecond(), c.Location())
}

// DaysBetween returns the number of calendar days from a to b. Two instants on
// the same calendar day are 0 apart regardless of elapsed hours.
func (c Calendar) DaysBetween(a, b time.Time) int {
	ay, am, ad := a.In(c.Location()).Date()
	by, bm, bd := b.In(c.Location()).Date()
	// Day numbers computed in UTC are immune to DST-length days.
	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// DayOfYear returns the 1-based ordinal of the day within its year.
func (c Calendar) DayOfYear(instant time.Time) int {
	return instant.In(c.Location()).YearDay()
}
