// Package reference parses free-text scripture references such as
// "1 Corinthians 15:3-5,7".
package reference

import (
	"sort"
	"strconv"
	"strings"
)

// maxRangeLength bounds range expansion. Psalm 119 has the most verses of any
// chapter.
const maxRangeLength = 176

// Reference is a parsed book, chapter and verse list.
type Reference struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verses  []int  `json:"verses"`
}

// Parse splits s at its last colon. The last digit run before the colon is the
// chapter and the text preceding it is the book. Verse tokens are comma
// separated integers or inclusive start-end ranges; malformed tokens,
// descending ranges and ranges longer than any chapter are skipped. The result is sorted and deduplicated.
func Parse(s string) (Reference, bool) {
	trimmed := strings.TrimSpace(s)
	colon := strings.LastIndexByte(trimmed, ':')
	if colon < 0 {
		return Reference{}, false
	}
	head := strings.TrimSpace(trimmed[:colon])
	tail := strings.TrimSpace(trimmed[colon+1:])

	end := strings.LastIndexFunc(head, isDigit)
	if end < 0 {
		return Reference{}, false
	}
	start := end
	for start > 0 && isDigit(rune(head[start-1])) {
		start--
	}
	chapter, err := strconv.Atoi(head[start : end+1])
	if err != nil {
		return Reference{}, false
	}

	book := strings.TrimSpace(head[:start])
	if book == "" || strings.IndexFunc(book, func(r rune) bool { return !isDigit(r) && r != ' ' && r != '\t' }) < 0 {
		return Reference{}, false
	}

	return Reference{Book: book, Chapter: chapter, Verses: parseVerses(tail)}, true
}

func parseVerses(list string) []int {
	seen := map[int]struct{}{}
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if dash := strings.IndexByte(token, '-'); dash >= 0 {
			first, errFirst := strconv.Atoi(strings.TrimSpace(token[:dash]))
			last, errLast := strconv.Atoi(strings.TrimSpace(token[dash+1:]))
			if errFirst != nil || errLast != nil || first > last || last-first >= maxRangeLength {
				continue
			}
			for verse := first; verse <= last; verse++ {
				seen[verse] = struct{}{}
			}
			continue
		}
		if verse, err := strconv.Atoi(token); err == nil {
			seen[verse] = struct{}{}
		}
	}

	verses := make([]int, 0, len(seen))
	for verse := range seen {
		verses = append(verses, verse)
	}
	sort.Ints(verses)
	return verses
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// String renders the reference with contiguous verses collapsed into ranges,
// e.g. "1 Corinthians 15:3-5,7". A reference without verses renders as
// "Book Chapter".
func (r Reference) String() string {
	var builder strings.Builder
	builder.WriteString(r.Book)
	builder.WriteByte(' ')
	builder.WriteString(strconv.Itoa(r.Chapter))
	if len(r.Verses) == 0 {
		return builder.String()
	}
	builder.WriteByte(':')
	for index := 0; index < len(r.Verses); {
		runEnd := index
		for runEnd+1 < len(r.Verses) && r.Verses[runEnd+1] == r.Verses[runEnd]+1 {
			runEnd++
		}
		if index > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.Itoa(r.Verses[index]))
		if runEnd > index {
			builder.WriteByte('-')
			builder.WriteString(strconv.Itoa(r.Verses[runEnd]))
		}
		index = runEnd + 1
	}
	return builder.String()
}
