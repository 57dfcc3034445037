// Package storage - Paged file component
//
// EDUCATIONAL NOTES:
// ------------------
// PagedFile manages one file of fixed-size pages and keeps a single page in
// memory (the "cached page"). Callers receive a pointer to that page and edit
// it in place, then call MarkDirty. The page is written back only when:
// 1. another page is read (eviction),
// 2. a new page is allocated,
// 3. WriteCachedPage / Flush / Close is called.
//
// The consequence every caller must respect: a *Page obtained before a
// ReadPage of a different page number is stale. Writes made to it after the
// eviction never reach the disk. Multi-step operations that mutate a record
// and then touch another page must re-read the first page before writing to
// it again.

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Option configures a PagedFile.
type Option func(*options)

type options struct {
	lock bool
}

// WithLock takes an exclusive, non-blocking OS lock on the file for the
// lifetime of the PagedFile.
func WithLock() Option {
	return func(o *options) {
		o.lock = true
	}
}

// PagedFile is a random-access file of pages of one record type with a
// single-slot write-back cache.
type PagedFile[R Record] struct {
	file     *os.File
	filePath string
	codec    Codec[R]
	locked   bool

	// pageSize is the number of records per page.
	pageSize int

	// pageBytes is the encoded size of one page.
	pageBytes int

	// pageAmount is the number of pages that exist in the file,
	// including the cached page if it was never written.
	pageAmount int

	inserted int
	deleted  int

	cached *Page[R]
	dirty  bool

	stats IOStats
}

// OpenPagedFile opens or creates the file at filePath.
// The page amount of an existing file is derived from its size.
func OpenPagedFile[R Record](filePath string, codec Codec[R], pageSize int, opts ...Option) (*PagedFile[R], error) {
	if pageSize < 1 {
		return nil, ErrInvalidPageSize
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open paged file: %w", err)
	}

	if o.lock {
		if err := tryLockExclusive(file); err != nil {
			file.Close()
			if errors.Is(err, errWouldBlock) {
				return nil, fmt.Errorf("%s: %w", filePath, ErrLocked)
			}
			return nil, fmt.Errorf("failed to lock %s: %w", filePath, err)
		}
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat paged file: %w", err)
	}

	pageBytes := PageByteSize(codec, pageSize)
	return &PagedFile[R]{
		file:       file,
		filePath:   filePath,
		codec:      codec,
		locked:     o.lock,
		pageSize:   pageSize,
		pageBytes:  pageBytes,
		pageAmount: int(stat.Size() / int64(pageBytes)),
	}, nil
}

// ReadPage returns page n. A resident page is returned without I/O. Otherwise
// the resident page is written back if dirty and n is loaded from disk. Pages
// at or beyond the end of the file materialize as empty pages.
func (f *PagedFile[R]) ReadPage(n int) (*Page[R], error) {
	if f.file == nil {
		return nil, ErrClosed
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageNumber, n)
	}
	if f.cached != nil && int(f.cached.Number) == n {
		return f.cached, nil
	}

	if err := f.WriteCachedPage(); err != nil {
		return nil, err
	}

	page, err := f.load(n)
	if err != nil {
		return nil, err
	}

	f.cached = page
	f.dirty = false
	if n >= f.pageAmount {
		// The page did not exist on disk; it does now.
		f.pageAmount = n + 1
		f.dirty = true
	}
	return page, nil
}

func (f *PagedFile[R]) load(n int) (*Page[R], error) {
	buf := make([]byte, f.pageBytes)
	read, err := f.file.ReadAt(buf, int64(n)*int64(f.pageBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read page %d: %w", n, err)
	}
	if read == 0 {
		return NewPage(f.codec, int32(n), f.pageSize), nil
	}
	if read != f.pageBytes {
		return nil, fmt.Errorf("%w: short read for page %d: got %d bytes, expected %d", ErrCorruptPage, n, read, f.pageBytes)
	}

	f.stats.Reads++
	page, err := DecodePage(f.codec, f.pageSize, buf)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", n, err)
	}
	if int(page.Number) != n {
		return nil, fmt.Errorf("%w: slot %d holds page %d", ErrCorruptPage, n, page.Number)
	}
	return page, nil
}

// NewPage writes back the cached page, allocates the next page number and
// installs a fresh empty page as the cached page.
func (f *PagedFile[R]) NewPage() (*Page[R], error) {
	if f.file == nil {
		return nil, ErrClosed
	}
	if err := f.WriteCachedPage(); err != nil {
		return nil, err
	}

	page := NewPage(f.codec, int32(f.pageAmount), f.pageSize)
	f.pageAmount++
	f.cached = page
	f.dirty = true
	return page, nil
}

// LastNonFullPage returns the highest-numbered page if it has a free slot,
// otherwise allocates a new page.
func (f *PagedFile[R]) LastNonFullPage() (*Page[R], error) {
	if f.pageAmount == 0 {
		return f.NewPage()
	}
	page, err := f.ReadPage(f.pageAmount - 1)
	if err != nil {
		return nil, err
	}
	if !page.IsFull() {
		return page, nil
	}
	return f.NewPage()
}

// MarkDirty records that the cached page was modified.
func (f *PagedFile[R]) MarkDirty() {
	if f.cached != nil {
		f.dirty = true
	}
}

// WriteCachedPage writes the cached page at pageNumber * pageByteSize.
// It is a no-op when nothing is cached or the page is clean.
func (f *PagedFile[R]) WriteCachedPage() error {
	if f.cached == nil || !f.dirty {
		return nil
	}
	if f.file == nil {
		return ErrClosed
	}

	offset := int64(f.cached.Number) * int64(f.pageBytes)
	data := f.cached.Encode(f.codec)
	n, err := f.file.WriteAt(data, offset)
	if err != nil {
		return fmt.Errorf("failed to write page %d: %w", f.cached.Number, err)
	}
	if n != f.pageBytes {
		return fmt.Errorf("short write for page %d: wrote %d bytes, expected %d", f.cached.Number, n, f.pageBytes)
	}

	f.stats.Writes++
	f.dirty = false
	return nil
}

// Flush writes back the cached page and syncs the file.
func (f *PagedFile[R]) Flush() error {
	if err := f.WriteCachedPage(); err != nil {
		return err
	}
	if f.file == nil {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", f.filePath, err)
	}
	return nil
}

// Close flushes and closes the file, releasing the lock if one was taken.
func (f *PagedFile[R]) Close() error {
	if f.file == nil {
		return nil
	}
	if err := f.Flush(); err != nil {
		return err
	}
	if f.locked {
		_ = unlockFile(f.file)
	}
	err := f.file.Close()
	f.file = nil
	f.cached = nil
	return err
}

// Path returns the file path.
func (f *PagedFile[R]) Path() string {
	return f.filePath
}

// Rename updates the path the paged file reports after the underlying file
// was moved while open.
func (f *PagedFile[R]) Rename(filePath string) {
	f.filePath = filePath
}

// PageSize returns the number of records per page.
func (f *PagedFile[R]) PageSize() int {
	return f.pageSize
}

// PageAmount returns the number of pages in the file.
func (f *PagedFile[R]) PageAmount() int {
	return f.pageAmount
}

// Codec returns the record codec of the file.
func (f *PagedFile[R]) Codec() Codec[R] {
	return f.codec
}

// Stats returns the page transfer counters.
func (f *PagedFile[R]) Stats() IOStats {
	return f.stats
}

// Inserted returns the number of records inserted into this file.
func (f *PagedFile[R]) Inserted() int {
	return f.inserted
}

// Deleted returns the number of tombstoned records in this file.
func (f *PagedFile[R]) Deleted() int {
	return f.deleted
}

// AddInserted adjusts the inserted-record counter by delta.
func (f *PagedFile[R]) AddInserted(delta int) {
	f.inserted += delta
}

// AddDeleted adjusts the deleted-record counter by delta.
func (f *PagedFile[R]) AddDeleted(delta int) {
	f.deleted += delta
}

// SetCounters restores the record counters, e.g. from a manifest.
func (f *PagedFile[R]) SetCounters(inserted, deleted int) {
	f.inserted = inserted
	f.deleted = deleted
}
