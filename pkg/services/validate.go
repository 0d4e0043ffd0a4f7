package services

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	jpegSOI  = []byte{0xFF, 0xD8, 0xFF, 0xE0}
	jpegEOI  = []byte{0xFF, 0xD9}
	jfifMark = []byte("JFIF\x00")
)

// ValidJFIF reports whether b is a complete JFIF-tagged JPEG: the
// start-of-image marker followed by an APP0 segment whose identifier is
// "JFIF\0" at offset 6, and an end-of-image marker closing the body.
// Zero padding after the end-of-image marker is tolerated.
func ValidJFIF(b []byte) bool {
	if len(b) < 13 || !bytes.Equal(b[:4], jpegSOI) || !bytes.Equal(b[6:11], jfifMark) {
		return false
	}
	return bytes.HasSuffix(bytes.TrimRight(b[11:], "\x00"), jpegEOI)
}

var ErrImageCorrupt = errors.New("image corrupt")

// ImageCorruptError reports a page whose image never validated.
type ImageCorruptError struct {
	Page     int
	Attempts int
	URL      string
}

func (e *ImageCorruptError) Error() string {
	return fmt.Sprintf("page %d: image still corrupt after %d attempts (%s)", e.Page, e.Attempts, e.URL)
}

func (e *ImageCorruptError) Is(target error) bool {
	return target == ErrImageCorrupt
}
