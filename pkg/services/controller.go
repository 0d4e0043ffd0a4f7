package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kerbaras/mfdl/pkg/data"
	"github.com/kerbaras/mfdl/pkg/selection"
	"github.com/kerbaras/mfdl/pkg/sources"
)

// ErrChaptersFailed is returned by Run when at least one selected chapter
// failed while the others were still processed.
var ErrChaptersFailed = errors.New("one or more chapters failed")

// Ledger records produced archives.
type Ledger interface {
	SaveArchive(rec *data.ArchiveRecord) error
}

type ChapterFailure struct {
	Chapter data.ChapterRef
	Err     error
}

// Report summarises a run.
type Report struct {
	Work      string
	Selected  []data.ChapterRef
	Completed []*Result
	Skipped   []*Result
	Failed    []ChapterFailure
}

// MangaController resolves a work's index, selects chapters and feeds
// them one at a time to the Downloader.
type MangaController struct {
	source     sources.Source
	downloader *Downloader
	ledger     Ledger
	logger     *slog.Logger
}

// NewMangaController wires a controller. ledger may be nil.
func NewMangaController(source sources.Source, downloader *Downloader, ledger Ledger, logger *slog.Logger) *MangaController {
	if logger == nil {
		logger = slog.Default()
	}
	return &MangaController{source: source, downloader: downloader, ledger: ledger, logger: logger}
}

// Run downloads the chapters of work selected by req.
//
// Index and selection failures abort the run. A failing chapter is
// logged and recorded in the report, and the next chapter is processed;
// Run then returns ErrChaptersFailed. Cancellation stops the run after
// the current chapter's cleanup.
func (c *MangaController) Run(ctx context.Context, work string, req selection.Request) (*Report, error) {
	report := &Report{Work: work}

	index, err := c.source.ResolveIndex(ctx, work)
	if err != nil {
		if errors.Is(err, sources.ErrEmptyIndex) {
			c.logger.Warn("manga either unable to be found, or has no chapters", "work", work, "error", err)
		}
		return report, err
	}

	selected, err := selection.Select(index, req)
	if err != nil {
		var amb *selection.AmbiguousChapterError
		if errors.As(err, &amb) {
			c.logger.Error("ambiguous chapter, use a fully qualified chapter", "number", amb.Number.String(), "chapters", amb.Hints())
		}
		return report, fmt.Errorf("select %s: %w", req.Mode, err)
	}
	report.Selected = selected

	if len(selected) == 0 {
		c.logger.Warn("no chapters matched the selection", "work", work, "mode", req.Mode.String(), "start", req.Start, "end", req.End)
		return report, nil
	}
	c.logger.Info("chapters selected", "work", work, "count", len(selected))

	for _, chapter := range selected {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := c.downloader.DownloadChapter(ctx, work, chapter)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			c.logger.Error("chapter failed", "chapter", chapter.Name(), "error", err)
			c.downloader.sendProgress(DownloadProgress{Work: work, Chapter: chapter.Name(), Status: StatusError, Error: err})
			report.Failed = append(report.Failed, ChapterFailure{Chapter: chapter, Err: err})
			continue
		}

		if res.Skipped {
			report.Skipped = append(report.Skipped, res)
			continue
		}
		report.Completed = append(report.Completed, res)
		c.record(work, res)
	}

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrChaptersFailed, len(report.Failed), len(selected))
	}
	return report, nil
}

func (c *MangaController) record(work string, res *Result) {
	if c.ledger == nil {
		return
	}
	rec := &data.ArchiveRecord{
		Work:    work,
		Name:    res.Chapter.Name(),
		Volume:  res.Chapter.Volume,
		Chapter: res.Chapter.Chapter,
		Locator: res.Chapter.Locator,
		Pages:   res.Pages,
		Path:    res.ArchivePath,
		Format:  c.downloader.Format(),
	}
	if err := c.ledger.SaveArchive(rec); err != nil {
		c.logger.Warn("failed to record archive", "chapter", rec.Name, "error", err)
	}
}
