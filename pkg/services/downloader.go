package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/kerbaras/mfdl/pkg/data"
	"github.com/kerbaras/mfdl/pkg/integrations"
	"github.com/kerbaras/mfdl/pkg/sources"
	"golang.org/x/sync/errgroup"
)

// Status values carried by DownloadProgress.
const (
	StatusDownloading = "downloading"
	StatusRetrying    = "retrying"
	StatusProcessing  = "processing"
	StatusComplete    = "complete"
	StatusSkipped     = "skipped"
	StatusError       = "error"
)

// DownloadProgress represents the progress of a download operation
type DownloadProgress struct {
	Work        string
	Chapter     string
	CurrentPage int
	TotalPages  int
	Page        int // page being retried
	Retries     int
	Status      string
	Error       error
	ArchivePath string
}

// ImageFetcher downloads raw image bytes.
type ImageFetcher interface {
	Bytes(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	// Workers bounds concurrent page fetches within one chapter.
	Workers int
	// MaxAttempts bounds downloads of one image before it is declared corrupt.
	MaxAttempts int
	// RetryDelay is multiplied by the retry number before each retry.
	RetryDelay time.Duration
	// Throttle is the minimum spacing of remote requests; zero disables it.
	Throttle time.Duration
	// Force re-downloads chapters whose archive already exists.
	Force bool
}

func DefaultOptions() Options {
	return Options{
		Workers:     4,
		MaxAttempts: 5,
		RetryDelay:  250 * time.Millisecond,
	}
}

// Result describes one processed chapter.
type Result struct {
	Chapter     data.ChapterRef
	ArchivePath string
	Pages       int
	Skipped     bool
}

// Downloader runs the per-chapter pipeline: discover pages, download and
// validate every image into a staging directory, package, clean up.
type Downloader struct {
	source       sources.Source
	fetcher      ImageFetcher
	packager     integrations.Packager
	outputDir    string
	opts         Options
	logger       *slog.Logger
	rateLimiter  *time.Ticker
	progressChan chan DownloadProgress
	closeOnce    sync.Once
}

// NewDownloader creates a new Downloader instance
func NewDownloader(source sources.Source, fetcher ImageFetcher, packager integrations.Packager, outputDir string, opts Options, logger *slog.Logger) *Downloader {
	defaults := DefaultOptions()
	if opts.Workers < 1 {
		opts.Workers = defaults.Workers
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Downloader{
		source:       source,
		fetcher:      fetcher,
		packager:     packager,
		outputDir:    outputDir,
		opts:         opts,
		logger:       logger,
		progressChan: make(chan DownloadProgress, 100),
	}
	if opts.Throttle > 0 {
		d.rateLimiter = time.NewTicker(opts.Throttle)
	}
	return d
}

// GetProgressChannel returns the channel for receiving download progress updates
func (d *Downloader) GetProgressChannel() <-chan DownloadProgress {
	return d.progressChan
}

func (d *Downloader) Format() string {
	return d.packager.Format()
}

// StagingDir is the transient directory of one chapter: <output>/<work>/<vXcY>.
func (d *Downloader) StagingDir(work string, chapter data.ChapterRef) string {
	return filepath.Join(d.outputDir, work, chapter.Name())
}

// ErrWorkLocked is returned when another run holds the lock of a work's
// output directory.
var ErrWorkLocked = errors.New("work is being downloaded by another run")

const lockFileName = ".mfdl.lock"

// lockWork takes the exclusive lock of <output>/<work> for one chapter.
func (d *Downloader) lockWork(work string) (*flock.Flock, error) {
	dir := filepath.Join(d.outputDir, work)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkLocked, dir)
	}
	return lock, nil
}

// DownloadChapter processes one chapter end to end.
//
// The staging directory is removed on success and on any failure before
// packaging. When packaging fails it is kept for inspection, and its
// presence marks the archive next to it as incomplete.
func (d *Downloader) DownloadChapter(ctx context.Context, work string, chapter data.ChapterRef) (*Result, error) {
	name := chapter.Name()
	stagingDir := d.StagingDir(work, chapter)
	archive := d.packager.ArchivePath(stagingDir)

	lock, err := d.lockWork(work)
	if err != nil {
		return nil, fmt.Errorf("chapter %s: %w", name, err)
	}
	defer lock.Unlock()

	_, statErr := os.Stat(stagingDir)
	leftover := statErr == nil

	if !d.opts.Force {
		if _, err := os.Stat(archive); err == nil {
			if !leftover {
				d.logger.Info("archive exists, skipping chapter", "chapter", name, "archive", archive)
				d.sendProgress(DownloadProgress{Work: work, Chapter: name, Status: StatusSkipped, ArchivePath: archive})
				return &Result{Chapter: chapter, ArchivePath: archive, Skipped: true}, nil
			}
			d.logger.Warn("archive is incomplete, downloading chapter again", "chapter", name, "archive", archive)
		}
	}

	d.sendProgress(DownloadProgress{Work: work, Chapter: name, Status: StatusDownloading})

	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	pages, err := d.source.PageNumbers(ctx, chapter)
	if err != nil {
		return nil, fmt.Errorf("chapter %s: %w", name, err)
	}

	// Leftovers from an earlier run must not end up in the archive.
	if leftover {
		d.logger.Warn("discarding staging directory of an earlier run", "chapter", name, "dir", stagingDir)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return nil, fmt.Errorf("chapter %s: failed to clear staging directory: %w", name, err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("chapter %s: failed to create staging directory: %w", name, err)
	}

	keepStaging := false
	defer func() {
		if keepStaging {
			return
		}
		if err := os.RemoveAll(stagingDir); err != nil {
			d.logger.Warn("failed to remove staging directory", "dir", stagingDir, "error", err)
		}
	}()

	d.logger.Info("downloading chapter", "chapter", name, "pages", len(pages))
	d.sendProgress(DownloadProgress{Work: work, Chapter: name, TotalPages: len(pages), Status: StatusDownloading})

	if err := d.downloadPages(ctx, work, chapter, pages, stagingDir); err != nil {
		return nil, fmt.Errorf("chapter %s: %w", name, err)
	}

	d.sendProgress(DownloadProgress{Work: work, Chapter: name, CurrentPage: len(pages), TotalPages: len(pages), Status: StatusProcessing})

	path, err := d.packager.Package(stagingDir)
	if err != nil {
		keepStaging = true
		d.logger.Error("packaging failed, staging directory kept", "chapter", name, "dir", stagingDir, "error", err)
		return nil, fmt.Errorf("chapter %s: %w", name, err)
	}

	d.logger.Info("chapter archived", "chapter", name, "archive", path)
	d.sendProgress(DownloadProgress{
		Work:        work,
		Chapter:     name,
		CurrentPage: len(pages),
		TotalPages:  len(pages),
		Status:      StatusComplete,
		ArchivePath: path,
	})

	return &Result{Chapter: chapter, ArchivePath: path, Pages: len(pages)}, nil
}

// downloadPages fetches pages with at most opts.Workers in flight. The
// first failure cancels the remaining pages.
func (d *Downloader) downloadPages(ctx context.Context, work string, chapter data.ChapterRef, pages []int, stagingDir string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	var done atomic.Int32
	for _, page := range pages {
		g.Go(func() error {
			if err := d.downloadPage(gctx, work, chapter, page, len(pages), stagingDir); err != nil {
				return err
			}
			d.sendProgress(DownloadProgress{
				Work:        work,
				Chapter:     chapter.Name(),
				CurrentPage: int(done.Add(1)),
				TotalPages:  len(pages),
				Status:      StatusDownloading,
			})
			return nil
		})
	}
	return g.Wait()
}

func (d *Downloader) downloadPage(ctx context.Context, work string, chapter data.ChapterRef, page, total int, stagingDir string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	imageURL, err := d.source.ImageURL(ctx, chapter, page)
	if err != nil {
		return err
	}

	img := data.PageImage{Page: page, ImageURL: imageURL}
	body, err := d.fetchImage(ctx, work, chapter, img, total)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(stagingDir, img.Filename()), body, 0644); err != nil {
		return fmt.Errorf("page %d: failed to write image: %w", page, err)
	}
	return nil
}

// fetchImage downloads an image until it validates, at most
// opts.MaxAttempts times. Transport errors and corrupt bodies both consume
// an attempt.
func (d *Downloader) fetchImage(ctx context.Context, work string, chapter data.ChapterRef, img data.PageImage, total int) ([]byte, error) {
	var lastErr error
	corrupt := false

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.logger.Warn("retrying page download",
				"chapter", chapter.Name(), "page", img.Page, "retry", attempt-1, "error", lastErr)
			d.sendProgress(DownloadProgress{
				Work:       work,
				Chapter:    chapter.Name(),
				TotalPages: total,
				Page:       img.Page,
				Retries:    attempt - 1,
				Status:     StatusRetrying,
				Error:      lastErr,
			})
			if err := sleep(ctx, d.opts.RetryDelay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}

		if err := d.wait(ctx); err != nil {
			return nil, err
		}

		body, err := d.fetcher.Bytes(ctx, img.ImageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, corrupt = err, false
			continue
		}
		if ValidJFIF(body) {
			return body, nil
		}
		lastErr, corrupt = errors.New("invalid JFIF signature"), true
	}

	if corrupt {
		return nil, &ImageCorruptError{Page: img.Page, Attempts: d.opts.MaxAttempts, URL: img.ImageURL}
	}
	return nil, fmt.Errorf("page %d: download failed after %d attempts: %w", img.Page, d.opts.MaxAttempts, lastErr)
}

// wait blocks on the rate limiter, if any.
func (d *Downloader) wait(ctx context.Context) error {
	if d.rateLimiter == nil {
		return ctx.Err()
	}
	select {
	case <-d.rateLimiter.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendProgress sends a progress update (non-blocking)
func (d *Downloader) sendProgress(progress DownloadProgress) {
	select {
	case d.progressChan <- progress:
	default:
		// Channel full, skip this update
	}
}

// Close stops the rate limiter and closes the progress channel. It must
// not be called while a chapter is being processed.
func (d *Downloader) Close() {
	d.closeOnce.Do(func() {
		if d.rateLimiter != nil {
			d.rateLimiter.Stop()
		}
		close(d.progressChan)
	})
}
