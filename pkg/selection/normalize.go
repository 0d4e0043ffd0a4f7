package selection

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kerbaras/mfdl/pkg/data"
)

var qualifiedRe = regexp.MustCompile(`(?i)^v(\d+(?:\.\d+)?)c(\d+(?:\.\d+)?)$`)

// Normalize converts a chapter specifier into (volume, chapter) coordinates.
//
// A plain number names a chapter only and is looked up in every volume of
// the index; it must match exactly one entry. Any other specifier must be
// fully qualified (v2c15) and is parsed without consulting the index.
func Normalize(index *data.Index, id string) (data.Number, data.Number, error) {
	id = strings.TrimSpace(id)

	if number, err := data.ParseNumber(id); err == nil {
		return findChapter(index, number)
	}

	m := qualifiedRe.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrChapterNotFound, id)
	}

	volume, err := data.ParseNumber(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrChapterNotFound, id)
	}
	chapter, err := data.ParseNumber(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrChapterNotFound, id)
	}
	return volume, chapter, nil
}

func findChapter(index *data.Index, number data.Number) (data.Number, data.Number, error) {
	var matches []data.ChapterRef
	for _, volume := range index.Volumes() {
		if locator, ok := index.Locator(volume, number); ok {
			matches = append(matches, data.ChapterRef{Volume: volume, Chapter: number, Locator: locator})
		}
	}

	switch len(matches) {
	case 0:
		return 0, 0, fmt.Errorf("%w: %s", ErrChapterNotFound, number)
	case 1:
		return matches[0].Volume, matches[0].Chapter, nil
	default:
		return 0, 0, &AmbiguousChapterError{Number: number, Matches: matches}
	}
}

// ParseVolume parses a volume specifier with an optional "v" prefix.
func ParseVolume(id string) (data.Number, error) {
	s := strings.TrimSpace(id)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	n, err := data.ParseNumber(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVolume, id)
	}
	return n, nil
}
