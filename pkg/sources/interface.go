package sources

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/kerbaras/mfdl/pkg/data"
)

// Fetcher retrieves remote resources. Implemented by utils.Client.
type Fetcher interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
	Bytes(ctx context.Context, url string) ([]byte, error)
}

// Source resolves a work's chapter index and the pages of a chapter.
type Source interface {
	ResolveIndex(ctx context.Context, work string) (*data.Index, error)
	PageNumbers(ctx context.Context, chapter data.ChapterRef) ([]int, error)
	ImageURL(ctx context.Context, chapter data.ChapterRef, page int) (string, error)
}
