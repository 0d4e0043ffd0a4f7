package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/kerbaras/mfdl/pkg/data"
	"github.com/kerbaras/mfdl/pkg/integrations"
	"github.com/kerbaras/mfdl/pkg/sources"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing

type mockSource struct {
	resolveIndexFunc func(ctx context.Context, work string) (*data.Index, error)
	pageNumbersFunc  func(ctx context.Context, chapter data.ChapterRef) ([]int, error)
	imageURLFunc     func(ctx context.Context, chapter data.ChapterRef, page int) (string, error)
}

func (m *mockSource) ResolveIndex(ctx context.Context, work string) (*data.Index, error) {
	if m.resolveIndexFunc != nil {
		return m.resolveIndexFunc(ctx, work)
	}
	return data.NewIndex(), nil
}

func (m *mockSource) PageNumbers(ctx context.Context, chapter data.ChapterRef) ([]int, error) {
	if m.pageNumbersFunc != nil {
		return m.pageNumbersFunc(ctx, chapter)
	}
	return []int{1, 2, 3}, nil
}

func (m *mockSource) ImageURL(ctx context.Context, chapter data.ChapterRef, page int) (string, error) {
	if m.imageURLFunc != nil {
		return m.imageURLFunc(ctx, chapter, page)
	}
	return fmt.Sprintf("%simg/%03d.jpg", chapter.Locator, page), nil
}

type mockFetcher struct {
	mu        sync.Mutex
	calls     map[string]int
	bytesFunc func(ctx context.Context, url string, call int) ([]byte, error)
}

func (m *mockFetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[url]++
	call := m.calls[url]
	m.mu.Unlock()

	if m.bytesFunc != nil {
		return m.bytesFunc(ctx, url, call)
	}
	return createTestJPEG(), nil
}

func (m *mockFetcher) Calls(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

type mockPackager struct {
	packageFunc func(stagingDir string) (string, error)
}

func (m *mockPackager) Package(stagingDir string) (string, error) {
	if m.packageFunc != nil {
		return m.packageFunc(stagingDir)
	}
	return m.ArchivePath(stagingDir), nil
}

func (m *mockPackager) ArchivePath(stagingDir string) string { return stagingDir + ".mock" }
func (m *mockPackager) Format() string                      { return "mock" }

// Test helpers

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{Workers: 2, MaxAttempts: 3}
}

var testChapter = data.ChapterRef{Volume: 1, Chapter: 1, Locator: "http://remote/manga/w/v01/c001/"}

func newTestDownloader(t *testing.T, source sources.Source, fetcher ImageFetcher, packager integrations.Packager, opts Options) (*Downloader, string) {
	t.Helper()
	dir := t.TempDir()
	d := NewDownloader(source, fetcher, packager, dir, opts, quietLogger())
	t.Cleanup(d.Close)
	return d, dir
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "staging directory %s should be removed", dir)
}

func TestNewDownloaderDefaults(t *testing.T) {
	d := NewDownloader(&mockSource{}, &mockFetcher{}, integrations.NewCBZPackager(), t.TempDir(), Options{}, nil)
	defer d.Close()

	assert.Equal(t, 4, d.opts.Workers)
	assert.Equal(t, 5, d.opts.MaxAttempts)
	assert.Nil(t, d.rateLimiter)
	assert.NotNil(t, d.GetProgressChannel())
	assert.Equal(t, integrations.FormatCBZ, d.Format())
}

func TestDownloader_DownloadChapter(t *testing.T) {
	fetcher := &mockFetcher{}
	d, dir := newTestDownloader(t, &mockSource{}, fetcher, integrations.NewCBZPackager(), testOptions())

	res, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, filepath.Join(dir, "work", "v1c1.cbz"), res.ArchivePath)
	assertNoStaging(t, filepath.Join(dir, "work", "v1c1"))

	r, err := zip.OpenReader(res.ArchivePath)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"001.jpg", "002.jpg", "003.jpg"}, names)
}

func TestDownloader_RetriesCorruptImage(t *testing.T) {
	corruptURL := testChapter.Locator + "img/002.jpg"
	fetcher := &mockFetcher{
		bytesFunc: func(ctx context.Context, url string, call int) ([]byte, error) {
			if url == corruptURL && call < 3 {
				return []byte("truncated garbage"), nil
			}
			return createTestJPEG(), nil
		},
	}
	d, _ := newTestDownloader(t, &mockSource{}, fetcher, integrations.NewCBZPackager(), testOptions())

	res, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, fetcher.Calls(corruptURL))
	assert.Equal(t, 1, fetcher.Calls(testChapter.Locator+"img/001.jpg"))
}

func TestDownloader_ImageNeverValid(t *testing.T) {
	corruptURL := testChapter.Locator + "img/002.jpg"
	fetcher := &mockFetcher{
		bytesFunc: func(ctx context.Context, url string, call int) ([]byte, error) {
			if url == corruptURL {
				return []byte{0xFF, 0xD8}, nil
			}
			return createTestJPEG(), nil
		},
	}
	d, dir := newTestDownloader(t, &mockSource{}, fetcher, integrations.NewCBZPackager(), testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageCorrupt)

	var corrupt *ImageCorruptError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, 2, corrupt.Page)
	assert.Equal(t, 3, corrupt.Attempts)
	assert.Equal(t, 3, fetcher.Calls(corruptURL))

	assertNoStaging(t, filepath.Join(dir, "work", "v1c1"))
	_, err = os.Stat(filepath.Join(dir, "work", "v1c1.cbz"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloader_TransportErrorsExhaustAttempts(t *testing.T) {
	fetcher := &mockFetcher{
		bytesFunc: func(ctx context.Context, url string, call int) ([]byte, error) {
			return nil, errors.New("connection reset")
		},
	}
	d, _ := newTestDownloader(t, &mockSource{pageNumbersFunc: func(context.Context, data.ChapterRef) ([]int, error) {
		return []int{1}, nil
	}}, fetcher, integrations.NewCBZPackager(), testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageCorrupt)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 3, fetcher.Calls(testChapter.Locator+"img/001.jpg"))
}

func TestDownloader_PageListUnavailable(t *testing.T) {
	source := &mockSource{
		pageNumbersFunc: func(context.Context, data.ChapterRef) ([]int, error) {
			return nil, sources.ErrPageListUnavailable
		},
	}
	d, dir := newTestDownloader(t, source, &mockFetcher{}, integrations.NewCBZPackager(), testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	assert.ErrorIs(t, err, sources.ErrPageListUnavailable)
	assertNoStaging(t, filepath.Join(dir, "work", "v1c1"))
}

func TestDownloader_ImageLocatorMissing(t *testing.T) {
	source := &mockSource{
		imageURLFunc: func(ctx context.Context, chapter data.ChapterRef, page int) (string, error) {
			if page == 3 {
				return "", sources.ErrImageLocatorMissing
			}
			return chapter.Locator + fmt.Sprintf("img/%03d.jpg", page), nil
		},
	}
	d, dir := newTestDownloader(t, source, &mockFetcher{}, integrations.NewCBZPackager(), testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	assert.ErrorIs(t, err, sources.ErrImageLocatorMissing)
	assertNoStaging(t, filepath.Join(dir, "work", "v1c1"))
}

func TestDownloader_PackagingFailureKeepsStaging(t *testing.T) {
	packager := &mockPackager{
		packageFunc: func(stagingDir string) (string, error) {
			return "", fmt.Errorf("%w: disk full", integrations.ErrArchiveWriteFailed)
		},
	}
	d, dir := newTestDownloader(t, &mockSource{}, &mockFetcher{}, packager, testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	assert.ErrorIs(t, err, integrations.ErrArchiveWriteFailed)

	staged, err := os.ReadDir(filepath.Join(dir, "work", "v1c1"))
	require.NoError(t, err)
	assert.Len(t, staged, 3)
}

func TestDownloader_RetriesAfterPackagingFailure(t *testing.T) {
	var calls int
	packager := &mockPackager{}
	packager.packageFunc = func(stagingDir string) (string, error) {
		calls++
		path := packager.ArchivePath(stagingDir)
		if err := os.WriteFile(path, []byte("partial"), 0644); err != nil {
			return "", err
		}
		if calls == 1 {
			return "", fmt.Errorf("%w: entry 002.jpg: short write", integrations.ErrArchiveWriteFailed)
		}
		return path, nil
	}
	fetcher := &mockFetcher{}
	d, dir := newTestDownloader(t, &mockSource{}, fetcher, packager, testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.ErrorIs(t, err, integrations.ErrArchiveWriteFailed)
	assert.FileExists(t, filepath.Join(dir, "work", "v1c1.mock"))

	res, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, fetcher.Calls(testChapter.Locator+"img/001.jpg"))
	assertNoStaging(t, filepath.Join(dir, "work", "v1c1"))

	res, err = d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, calls)
}

func TestDownloader_WorkLocked(t *testing.T) {
	fetcher := &mockFetcher{}
	d, dir := newTestDownloader(t, &mockSource{}, fetcher, integrations.NewCBZPackager(), testOptions())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "work"), 0755))
	other := flock.New(filepath.Join(dir, "work", lockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = d.DownloadChapter(context.Background(), "work", testChapter)
	assert.ErrorIs(t, err, ErrWorkLocked)
	assert.Equal(t, 0, fetcher.Calls(testChapter.Locator+"img/001.jpg"))

	require.NoError(t, other.Unlock())
	_, err = d.DownloadChapter(context.Background(), "work", testChapter)
	assert.NoError(t, err)
}

func TestDownloader_SkipsExistingArchive(t *testing.T) {
	fetcher := &mockFetcher{}
	d, dir := newTestDownloader(t, &mockSource{}, fetcher, integrations.NewCBZPackager(), testOptions())

	archive := filepath.Join(dir, "work", "v1c1.cbz")
	require.NoError(t, os.MkdirAll(filepath.Dir(archive), 0755))
	require.NoError(t, os.WriteFile(archive, []byte("existing"), 0644))

	res, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, archive, res.ArchivePath)
	assert.Equal(t, 0, fetcher.Calls(testChapter.Locator+"img/001.jpg"))

	opts := testOptions()
	opts.Force = true
	forced := NewDownloader(&mockSource{}, fetcher, integrations.NewCBZPackager(), dir, opts, quietLogger())
	defer forced.Close()

	res, err = forced.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, fetcher.Calls(testChapter.Locator+"img/001.jpg"))
}

func TestDownloader_ClearsStaleStaging(t *testing.T) {
	d, dir := newTestDownloader(t, &mockSource{}, &mockFetcher{}, integrations.NewCBZPackager(), testOptions())

	staging := filepath.Join(dir, "work", "v1c1")
	require.NoError(t, os.MkdirAll(staging, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "099.jpg"), createTestJPEG(), 0644))

	res, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)

	r, err := zip.OpenReader(res.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, r.File, 3)
}

func TestDownloader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &mockFetcher{
		bytesFunc: func(ctx context.Context, url string, call int) ([]byte, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d, dir := newTestDownloader(t, &mockSource{}, fetcher, integrations.NewCBZPackager(), testOptions())

	_, err := d.DownloadChapter(ctx, "work", testChapter)
	assert.ErrorIs(t, err, context.Canceled)
	assertNoStaging(t, filepath.Join(dir, "work", "v1c1"))
}

func TestDownloader_BoundedWorkers(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	fetcher := &mockFetcher{
		bytesFunc: func(ctx context.Context, url string, call int) ([]byte, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxInFlight.Load()
				if n <= old || maxInFlight.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return createTestJPEG(), nil
		},
	}
	source := &mockSource{
		pageNumbersFunc: func(context.Context, data.ChapterRef) ([]int, error) {
			return []int{1, 2, 3, 4, 5, 6, 7, 8}, nil
		},
	}
	d, _ := newTestDownloader(t, source, fetcher, integrations.NewCBZPackager(), testOptions())

	res, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Pages)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

func TestDownloader_ProgressEvents(t *testing.T) {
	d, _ := newTestDownloader(t, &mockSource{}, &mockFetcher{}, integrations.NewCBZPackager(), testOptions())

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	require.NoError(t, err)
	d.Close()

	var last DownloadProgress
	statuses := map[string]bool{}
	for p := range d.GetProgressChannel() {
		statuses[p.Status] = true
		last = p
	}
	assert.True(t, statuses[StatusDownloading])
	assert.True(t, statuses[StatusProcessing])
	assert.Equal(t, StatusComplete, last.Status)
	assert.Equal(t, 3, last.TotalPages)
	assert.NotEmpty(t, last.ArchivePath)
}

func TestDownloader_Throttle(t *testing.T) {
	opts := testOptions()
	opts.Throttle = time.Millisecond
	d, _ := newTestDownloader(t, &mockSource{}, &mockFetcher{}, integrations.NewCBZPackager(), opts)
	require.NotNil(t, d.rateLimiter)

	_, err := d.DownloadChapter(context.Background(), "work", testChapter)
	assert.NoError(t, err)
}
