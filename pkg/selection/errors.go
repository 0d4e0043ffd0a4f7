package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kerbaras/mfdl/pkg/data"
)

var (
	ErrChapterNotFound  = errors.New("chapter not found")
	ErrAmbiguousChapter = errors.New("ambiguous chapter")
	ErrInvalidVolume    = errors.New("invalid volume")
)

// AmbiguousChapterError reports a bare chapter number present in more than
// one volume. Matches lists every (volume, chapter) pair that was found.
type AmbiguousChapterError struct {
	Number  data.Number
	Matches []data.ChapterRef
}

func (e *AmbiguousChapterError) Error() string {
	return fmt.Sprintf("more than one chapter numbered %s, use a fully qualified chapter: %s",
		e.Number, strings.Join(e.Hints(), ", "))
}

func (e *AmbiguousChapterError) Is(target error) bool {
	return target == ErrAmbiguousChapter
}

// Hints returns the fully qualified names of the matches, e.g. v1c1, v2c1.
func (e *AmbiguousChapterError) Hints() []string {
	out := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		out[i] = m.Name()
	}
	return out
}
