package sources

import "errors"

var (
	// ErrIndexUnavailable means the listing page could not be fetched.
	ErrIndexUnavailable = errors.New("chapter index unavailable")
	// ErrEmptyIndex means the listing page had no chapter entries; the work
	// name is most likely wrong.
	ErrEmptyIndex = errors.New("no chapters found")

	ErrPageListUnavailable = errors.New("page list unavailable")
	ErrImageLocatorMissing = errors.New("image locator missing")
)
