package data

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Number is a volume or chapter identifier. Identifiers may be fractional
// (10.5 for an interstitial chapter), so equality and ordering are numeric.
type Number float64

// ParseNumber parses a bare numeric identifier such as "01", "1" or "10.5".
func ParseNumber(s string) (Number, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return Number(f), nil
}

// String renders the canonical minimal-digit form: 1, 10.5, never 01 or 1.0.
func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

// ChapterRef is one resolved entry of an Index.
type ChapterRef struct {
	Volume  Number
	Chapter Number
	Locator string
}

// Name is the fully qualified chapter name, e.g. v1c10.5.
func (c ChapterRef) Name() string {
	return QualifiedName(c.Volume, c.Chapter)
}

func QualifiedName(volume, chapter Number) string {
	return fmt.Sprintf("v%sc%s", volume, chapter)
}

// PageImage is one page of a chapter: its 1-based ordinal and image locator.
type PageImage struct {
	Page     int
	ImageURL string
}

// Filename is the staged file name of the page, zero-padded so that
// lexical order equals page order.
func (p PageImage) Filename() string {
	return fmt.Sprintf("%03d.jpg", p.Page)
}

// Index maps volume -> chapter -> locator for a single work.
type Index struct {
	volumes map[Number]map[Number]string
}

func NewIndex() *Index {
	return &Index{volumes: make(map[Number]map[Number]string)}
}

// Insert adds a chapter, creating its volume on first use. A repeated
// (volume, chapter) pair replaces the earlier locator.
func (i *Index) Insert(volume, chapter Number, locator string) {
	chapters, ok := i.volumes[volume]
	if !ok {
		chapters = make(map[Number]string)
		i.volumes[volume] = chapters
	}
	chapters[chapter] = locator
}

func (i *Index) Locator(volume, chapter Number) (string, bool) {
	chapters, ok := i.volumes[volume]
	if !ok {
		return "", false
	}
	locator, ok := chapters[chapter]
	return locator, ok
}

// Volumes returns all volume numbers in ascending order.
func (i *Index) Volumes() []Number {
	out := make([]Number, 0, len(i.volumes))
	for v := range i.volumes {
		out = append(out, v)
	}
	sortNumbers(out)
	return out
}

// Chapters returns the chapters of a volume in ascending order.
func (i *Index) Chapters(volume Number) []ChapterRef {
	chapters := i.volumes[volume]
	numbers := make([]Number, 0, len(chapters))
	for c := range chapters {
		numbers = append(numbers, c)
	}
	sortNumbers(numbers)

	out := make([]ChapterRef, len(numbers))
	for n, c := range numbers {
		out[n] = ChapterRef{Volume: volume, Chapter: c, Locator: chapters[c]}
	}
	return out
}

// Entries returns every chapter ordered by volume, then chapter.
func (i *Index) Entries() []ChapterRef {
	var out []ChapterRef
	for _, v := range i.Volumes() {
		out = append(out, i.Chapters(v)...)
	}
	return out
}

// Len is the total number of chapters.
func (i *Index) Len() int {
	n := 0
	for _, chapters := range i.volumes {
		n += len(chapters)
	}
	return n
}

func sortNumbers(n []Number) {
	sort.Slice(n, func(a, b int) bool { return n[a] < n[b] })
}

// ArchiveRecord is a ledger row describing one produced archive.
type ArchiveRecord struct {
	Work      string
	Name      string
	Volume    Number
	Chapter   Number
	Locator   string
	Pages     int
	Path      string
	Format    string
	CreatedAt time.Time
}
