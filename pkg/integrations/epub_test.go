package integrations

import (
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEPUBPackager(t *testing.T) {
	dir := stageChapter(t, "001.jpg", "002.jpg")

	p := NewEPUBPackager()
	path, err := p.Package(dir)
	require.NoError(t, err)
	assert.Equal(t, dir+".epub", path)

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "mimetype")
}

func TestEPUBPackagerEmptyStaging(t *testing.T) {
	_, err := NewEPUBPackager().Package(stageChapter(t))
	assert.ErrorIs(t, err, ErrArchiveWriteFailed)
}

func TestBookTitle(t *testing.T) {
	assert.Equal(t, "naruto v1c2", bookTitle("out/naruto/v1c2"))
	assert.Equal(t, "v1c2", bookTitle("v1c2"))
}
