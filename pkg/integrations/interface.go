package integrations

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrArchiveWriteFailed wraps every failure to create or fill an archive.
// A partially written archive is left on disk.
var ErrArchiveWriteFailed = errors.New("archive write failed")

// Packager turns a staging directory of page images into one archive.
type Packager interface {
	// Package writes the archive for stagingDir and returns its path.
	Package(stagingDir string) (string, error)
	// ArchivePath is where Package writes the archive for stagingDir.
	ArchivePath(stagingDir string) string
	Format() string
}

const (
	FormatCBZ  = "cbz"
	FormatEPUB = "epub"
)

// NewPackager returns the packager for a configured format name.
func NewPackager(format string) (Packager, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCBZ:
		return NewCBZPackager(), nil
	case FormatEPUB:
		return NewEPUBPackager(), nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

// stagedImages lists the image files of dir sorted by name. Staged page
// files are zero-padded, so name order is page order.
func stagedImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isImageFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(names)
	return names, nil
}

func archivePath(stagingDir, ext string) string {
	return filepath.Clean(stagingDir) + ext
}

// isImageFile checks if a file has an image extension
func isImageFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".jpg" || ext == ".jpeg" || ext == ".png" || ext == ".gif" || ext == ".webp"
}
