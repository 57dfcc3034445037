package storage

import "errors"

var (
	// ErrPageFull is returned when appending to a page with no free slot.
	ErrPageFull = errors.New("storage: page is full")

	// ErrCorruptPage indicates a page could not be decoded from disk.
	ErrCorruptPage = errors.New("storage: corrupt page")

	// ErrInvalidPageNumber is returned for negative page numbers.
	ErrInvalidPageNumber = errors.New("storage: invalid page number")

	// ErrInvalidPageSize is returned when a paged file is opened with capacity < 1.
	ErrInvalidPageSize = errors.New("storage: page size must be positive")

	// ErrLocked indicates another process owns the file.
	ErrLocked = errors.New("storage: file locked by another owner")

	// ErrClosed is returned when operating on a closed paged file.
	ErrClosed = errors.New("storage: paged file closed")
)
