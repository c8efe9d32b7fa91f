// Package content loads the read-only verse and passage pools.
package content

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/verses.json data/passages.json
var defaultContent embed.FS

const (
	defaultVersesFile   = "data/verses.json"
	defaultPassagesFile = "data/passages.json"
)

var (
	// ErrEmptyPool indicates that a content source decoded to zero records.
	ErrEmptyPool = errors.New("content: empty pool")
	// ErrDuplicateVerseID indicates that two verse records share an id.
	ErrDuplicateVerseID = errors.New("content: duplicate verse id")
	// ErrUnsupportedFormat indicates a content file extension that cannot be decoded.
	ErrUnsupportedFormat = errors.New("content: unsupported format")
)

// Verse is one record of the verse pool.
type Verse struct {
	ID        int    `json:"id" yaml:"id"`
	Reference string `json:"reference" yaml:"reference"`
	Text      string `json:"text" yaml:"text"`
	Book      string `json:"book" yaml:"book"`
	Chapter   int    `json:"chapter" yaml:"chapter"`
	Verse     int    `json:"verse" yaml:"verse"`
}

// Passage is a longer daily reading keyed by calendar date.
type Passage struct {
	Date      string `json:"date" yaml:"date"`
	Reference string `json:"reference" yaml:"reference"`
	Text      string `json:"text" yaml:"text"`
}

// VersePool is an ordered, immutable set of verses indexed by id.
type VersePool struct {
	verses []Verse
	byID   map[int]int
}

// NewVersePool validates verses and builds the id index. Order is preserved.
func NewVersePool(verses []Verse) (*VersePool, error) {
	if len(verses) == 0 {
		return nil, ErrEmptyPool
	}
	pool := &VersePool{
		verses: append([]Verse(nil), verses...),
		byID:   make(map[int]int, len(verses)),
	}
	for index, verse := range pool.verses {
		if _, exists := pool.byID[verse.ID]; exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateVerseID, verse.ID)
		}
		pool.byID[verse.ID] = index
	}
	return pool, nil
}

// Len returns the number of verses. A nil pool is empty.
func (p *VersePool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.verses)
}

// IDs returns verse ids in pool order.
func (p *VersePool) IDs() []int {
	if p == nil {
		return nil
	}
	ids := make([]int, len(p.verses))
	for index, verse := range p.verses {
		ids[index] = verse.ID
	}
	return ids
}

// ByID looks up a verse.
func (p *VersePool) ByID(id int) (Verse, bool) {
	if p == nil {
		return Verse{}, false
	}
	index, ok := p.byID[id]
	if !ok {
		return Verse{}, false
	}
	return p.verses[index], true
}

// All returns a copy of the pool in order.
func (p *VersePool) All() []Verse {
	if p == nil {
		return nil
	}
	return append([]Verse(nil), p.verses...)
}

// LoadVerses reads the verse pool from path, or the embedded default pool when
// path is empty.
func LoadVerses(path string) (*VersePool, error) {
	var verses []Verse
	if err := loadRecords(path, defaultVersesFile, &verses); err != nil {
		return nil, err
	}
	pool, err := NewVersePool(verses)
	if err != nil {
		return nil, fmt.Errorf("content: verses %s: %w", describeSource(path), err)
	}
	return pool, nil
}

// LoadPassages reads the passage pool from path, or the embedded default pool
// when path is empty.
func LoadPassages(path string) ([]Passage, error) {
	var passages []Passage
	if err := loadRecords(path, defaultPassagesFile, &passages); err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("content: passages %s: %w", describeSource(path), ErrEmptyPool)
	}
	return passages, nil
}

func loadRecords(path, embeddedName string, dest any) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		data, err := defaultContent.ReadFile(embeddedName)
		if err != nil {
			return fmt.Errorf("content: read embedded %s: %w", embeddedName, err)
		}
		return decode(embeddedName, data, dest)
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return fmt.Errorf("content: read %s: %w", trimmed, err)
	}
	return decode(trimmed, data, dest)
}

func decode(name string, data []byte, dest any) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(dest); err != nil {
			return fmt.Errorf("content: decode %s: %w", name, err)
		}
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(dest); err != nil {
			return fmt.Errorf("content: decode %s: %w", name, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return nil
}

func describeSource(path string) string {
	if strings.TrimSpace(path) == "" {
		return "(embedded)"
	}
	return path
}
