package content

import (
	"time"

	"github.com/Luknarz/DailyVerse/internal/calendar"
)

// PassageProvider resolves the passage shown for a calendar day.
type PassageProvider struct {
	passages []Passage
	calendar calendar.Calendar
}

// NewPassageProvider builds a provider over passages in the given calendar.
func NewPassageProvider(passages []Passage, cal calendar.Calendar) *PassageProvider {
	return &PassageProvider{
		passages: append([]Passage(nil), passages...),
		calendar: cal,
	}
}

// PassageFor returns the passage dated on the day of instant, falling back to
// the passage at (day-of-year - 1) modulo the pool size.
func (p *PassageProvider) PassageFor(instant time.Time) (Passage, bool) {
	if p == nil || len(p.passages) == 0 {
		return Passage{}, false
	}
	key := p.calendar.Key(instant).String()
	for _, passage := range p.passages {
		if passage.Date == key {
			return passage, true
		}
	}
	index := (p.calendar.DayOfYear(instant) - 1) % len(p.passages)
	return p.passages[index], true
}

// All returns a copy of every passage.
func (p *PassageProvider) All() []Passage {
	if p == nil {
		return nil
	}
	return append([]Passage(nil), p.passages...)
}
