package integrations

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// CBZPackager writes a comic book zip: one deflated entry per page, named
// by the page's base name, with no directory entries.
type CBZPackager struct{}

func NewCBZPackager() *CBZPackager {
	return &CBZPackager{}
}

func (p *CBZPackager) Format() string { return FormatCBZ }

func (p *CBZPackager) ArchivePath(stagingDir string) string {
	return archivePath(stagingDir, ".cbz")
}

func (p *CBZPackager) Package(stagingDir string) (string, error) {
	images, err := stagedImages(stagingDir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}

	path := p.ArchivePath(stagingDir)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range images {
		if err := addFile(zw, filepath.Join(stagingDir, name)); err != nil {
			zw.Close()
			return "", fmt.Errorf("%w: %s: %w", ErrArchiveWriteFailed, name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	return path, nil
}

func addFile(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
