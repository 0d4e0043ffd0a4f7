package integrations

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-epub"
)

// EPUBPackager writes the staged pages as a fixed sequence of image
// sections, one per page.
type EPUBPackager struct{}

func NewEPUBPackager() *EPUBPackager {
	return &EPUBPackager{}
}

func (p *EPUBPackager) Format() string { return FormatEPUB }

func (p *EPUBPackager) ArchivePath(stagingDir string) string {
	return archivePath(stagingDir, ".epub")
}

func (p *EPUBPackager) Package(stagingDir string) (string, error) {
	images, err := stagedImages(stagingDir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}

	e, err := epub.NewEpub(bookTitle(stagingDir))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	e.SetLang("en")

	for i, name := range images {
		internalPath, err := e.AddImage(filepath.Join(stagingDir, name), name)
		if err != nil {
			return "", fmt.Errorf("%w: failed to add image %s: %w", ErrArchiveWriteFailed, name, err)
		}

		body := fmt.Sprintf(`<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>`,
			internalPath, i+1)
		sectionFile := strings.TrimSuffix(name, filepath.Ext(name)) + ".xhtml"
		if _, err := e.AddSection(body, fmt.Sprintf("Page %d", i+1), sectionFile, ""); err != nil {
			return "", fmt.Errorf("%w: failed to add section %s: %w", ErrArchiveWriteFailed, name, err)
		}
	}

	path := p.ArchivePath(stagingDir)
	if err := e.Write(path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	return path, nil
}

// bookTitle names the book after its work and chapter directories,
// e.g. naruto/v1c2 -> "naruto v1c2".
func bookTitle(stagingDir string) string {
	dir := filepath.Clean(stagingDir)
	work := filepath.Base(filepath.Dir(dir))
	if work == "." || work == string(filepath.Separator) {
		return filepath.Base(dir)
	}
	return work + " " + filepath.Base(dir)
}
