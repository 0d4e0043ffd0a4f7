package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kerbaras/mfdl/pkg/data"
)

const DefaultBaseURL = "http://mangafox.me"

const (
	chapterLinkSelector = "a.tips"
	pageSelectSelector  = "select.m"
	imageSelector       = "img#image"

	// sentinelPage is the page selector option that is not a page.
	sentinelPage = "0"
	firstPage    = "1.html"
)

// Mangafox reads chapter listings and reader pages laid out as
// <base>/manga/<work>/v<vol>/c<chapter>/<page>.html.
type Mangafox struct {
	fetcher Fetcher
	baseURL string
	logger  *slog.Logger
}

func NewMangafox(fetcher Fetcher, baseURL string, logger *slog.Logger) *Mangafox {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mangafox{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// ListingURL is the chapter listing page of a work.
func (m *Mangafox) ListingURL(work string) string {
	return fmt.Sprintf("%s/manga/%s?no_warning=1", m.baseURL, url.PathEscape(strings.ToLower(work)))
}

// ResolveIndex builds the volume -> chapter -> locator index of a work.
// When the listing has no usable chapter entries it returns an empty,
// non-nil index together with ErrEmptyIndex.
func (m *Mangafox) ResolveIndex(ctx context.Context, work string) (*data.Index, error) {
	listing := m.ListingURL(work)
	m.logger.Info("resolving chapter index", "work", work, "url", listing)

	doc, err := m.fetcher.Document(ctx, listing)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, listing, err)
	}

	index := data.NewIndex()
	doc.Find(chapterLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		locator, err := chapterLocator(listing, href)
		if err != nil {
			m.logger.Warn("skipping chapter link", "href", href, "error", err)
			return
		}
		volume, chapter, err := ParseLocator(locator)
		if err != nil {
			m.logger.Warn("skipping chapter link", "href", href, "error", err)
			return
		}
		index.Insert(volume, chapter, locator)
	})

	if index.Len() == 0 {
		return index, fmt.Errorf("%w for %q, check the work name (%s)", ErrEmptyIndex, work, listing)
	}

	m.logger.Info("resolved chapter index", "work", work,
		"volumes", len(index.Volumes()), "chapters", index.Len())
	return index, nil
}

// PageNumbers returns the ascending page ordinals of a chapter, read from
// the page selector of its first page.
func (m *Mangafox) PageNumbers(ctx context.Context, chapter data.ChapterRef) ([]int, error) {
	pageURL := PageURL(chapter.Locator, 1)
	doc, err := m.fetcher.Document(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}

	sel := doc.Find(pageSelectSelector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: no page selector on %s", ErrPageListUnavailable, pageURL)
	}

	seen := make(map[int]bool)
	var pages []int
	sel.Find("option").Each(func(_ int, s *goquery.Selection) {
		value, ok := s.Attr("value")
		value = strings.TrimSpace(value)
		if !ok || value == sentinelPage {
			return
		}
		page, err := strconv.Atoi(value)
		if err != nil || page < 1 || seen[page] {
			return
		}
		seen[page] = true
		pages = append(pages, page)
	})

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: empty page selector on %s", ErrPageListUnavailable, pageURL)
	}
	sort.Ints(pages)
	return pages, nil
}

// ImageURL returns the image locator shown on one page of a chapter.
func (m *Mangafox) ImageURL(ctx context.Context, chapter data.ChapterRef, page int) (string, error) {
	pageURL := PageURL(chapter.Locator, page)
	doc, err := m.fetcher.Document(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}

	src, ok := doc.Find(imageSelector).First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("%w: page %d (%s)", ErrImageLocatorMissing, page, pageURL)
	}
	return resolveURL(pageURL, strings.TrimSpace(src))
}

// PageURL is the reader page of a chapter locator.
func PageURL(locator string, page int) string {
	return locator + strconv.Itoa(page) + ".html"
}

// ParseLocator derives (volume, chapter) from the last two path segments
// of a chapter locator, e.g. .../v01/c001/ -> (1, 1).
func ParseLocator(locator string) (data.Number, data.Number, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return 0, 0, err
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 {
		return 0, 0, fmt.Errorf("locator %q has no volume/chapter segments", locator)
	}

	volume, err := parseSegment(segments[len(segments)-2], 'v')
	if err != nil {
		return 0, 0, fmt.Errorf("locator %q: volume: %w", locator, err)
	}
	chapter, err := parseSegment(segments[len(segments)-1], 'c')
	if err != nil {
		return 0, 0, fmt.Errorf("locator %q: chapter: %w", locator, err)
	}
	return volume, chapter, nil
}

func parseSegment(segment string, prefix byte) (data.Number, error) {
	if len(segment) < 2 || (segment[0] != prefix && segment[0] != prefix-'a'+'A') {
		return 0, fmt.Errorf("segment %q lacks %q prefix", segment, prefix)
	}
	return data.ParseNumber(segment[1:])
}

// chapterLocator turns a chapter link into its locator: an absolute URL
// ending in "/" to which "<page>.html" is appended.
func chapterLocator(base, href string) (string, error) {
	abs, err := resolveURL(base, strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	abs = strings.TrimSuffix(abs, firstPage)
	if !strings.HasSuffix(abs, "/") {
		abs += "/"
	}
	return abs, nil
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
