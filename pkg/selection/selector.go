package selection

import (
	"fmt"

	"github.com/kerbaras/mfdl/pkg/data"
)

// Mode selects how a Request is interpreted.
type Mode int

const (
	ModeAll Mode = iota
	ModeChapter
	ModeChapterRange
	ModeVolumeRange
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeChapter:
		return "chapter"
	case ModeChapterRange:
		return "chapter range"
	case ModeVolumeRange:
		return "volume range"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Request describes what to download. Start and End are raw user
// specifiers; End is ignored for ModeChapter and optional for ModeVolumeRange.
type Request struct {
	Mode  Mode
	Start string
	End   string
}

// Select resolves a request against the index. The result is ordered by
// volume, then chapter, numerically.
func Select(index *data.Index, req Request) ([]data.ChapterRef, error) {
	switch req.Mode {
	case ModeAll:
		return SelectAll(index), nil
	case ModeChapter:
		return SelectChapter(index, req.Start)
	case ModeChapterRange:
		return SelectChapterRange(index, req.Start, req.End)
	case ModeVolumeRange:
		return SelectVolumeRange(index, req.Start, req.End)
	default:
		return nil, fmt.Errorf("unknown selection mode %s", req.Mode)
	}
}

func SelectAll(index *data.Index) []data.ChapterRef {
	return index.Entries()
}

// SelectChapter returns exactly the chapter named by id.
func SelectChapter(index *data.Index, id string) ([]data.ChapterRef, error) {
	volume, chapter, err := Normalize(index, id)
	if err != nil {
		return nil, err
	}
	locator, ok := index.Locator(volume, chapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChapterNotFound, data.QualifiedName(volume, chapter))
	}
	return []data.ChapterRef{{Volume: volume, Chapter: chapter, Locator: locator}}, nil
}

// SelectChapterRange selects in two stages: first every volume between the
// endpoints' volumes, then within those volumes every chapter whose number
// lies between the endpoints' chapter numbers. A range crossing a volume
// boundary therefore only includes chapters numbered inside
// [startChapter, endChapter] in each spanned volume.
func SelectChapterRange(index *data.Index, startID, endID string) ([]data.ChapterRef, error) {
	startVolume, startChapter, err := Normalize(index, startID)
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	endVolume, endChapter, err := Normalize(index, endID)
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if _, ok := index.Locator(startVolume, startChapter); !ok {
		return nil, fmt.Errorf("range start: %w: %s", ErrChapterNotFound, data.QualifiedName(startVolume, startChapter))
	}
	if _, ok := index.Locator(endVolume, endChapter); !ok {
		return nil, fmt.Errorf("range end: %w: %s", ErrChapterNotFound, data.QualifiedName(endVolume, endChapter))
	}

	var out []data.ChapterRef
	for _, volume := range volumesBetween(index, startVolume, endVolume) {
		for _, ref := range index.Chapters(volume) {
			if ref.Chapter >= startChapter && ref.Chapter <= endChapter {
				out = append(out, ref)
			}
		}
	}
	return out, nil
}

// SelectVolumeRange selects every chapter of every volume in
// [startID, endID]. An empty endID means the start volume only.
func SelectVolumeRange(index *data.Index, startID, endID string) ([]data.ChapterRef, error) {
	start, err := ParseVolume(startID)
	if err != nil {
		return nil, err
	}
	end := start
	if endID != "" {
		if end, err = ParseVolume(endID); err != nil {
			return nil, err
		}
	}

	var out []data.ChapterRef
	for _, volume := range volumesBetween(index, start, end) {
		out = append(out, index.Chapters(volume)...)
	}
	return out, nil
}

func volumesBetween(index *data.Index, start, end data.Number) []data.Number {
	var out []data.Number
	for _, v := range index.Volumes() {
		if v >= start && v <= end {
			out = append(out, v)
		}
	}
	return out
}
