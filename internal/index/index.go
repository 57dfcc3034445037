// Package index implements the sparse page index of the ISAM store.
//
// EDUCATIONAL NOTES:
// ------------------
// A sparse index holds one entry per primary page rather than one per record.
// Each entry stores the smallest key found on its page when the page was
// created. To find the page that may contain key k we look for the last entry
// whose key is <= k.
//
// Entries are appended in page-creation order and never re-sorted. This works
// because a new primary page is only created for a key larger than every key
// already stored, so entry keys are ascending by construction.

package index

import (
	"fmt"

	"github.com/cabewaldrop/isamdb/internal/storage"
)

// Index is a paged file of index entries.
type Index struct {
	file        *storage.PagedFile[Entry]
	smallestKey int32
}

// Open opens or creates an index file. The smallest key is restored from
// the first entry of page 0 when the file already holds entries.
func Open(path string, pageSize int, opts ...storage.Option) (*Index, error) {
	file, err := storage.OpenPagedFile[Entry](path, EntryCodec{}, pageSize, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	idx := &Index{file: file, smallestKey: -1}
	if file.PageAmount() > 0 {
		page, err := file.ReadPage(0)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to load index page 0: %w", err)
		}
		if !page.IsEmpty() {
			idx.smallestKey = page.Slots[0].Key
		}
	}
	return idx, nil
}

// Insert appends entry to the last non-full index page.
func (idx *Index) Insert(entry Entry) error {
	page, err := idx.file.LastNonFullPage()
	if err != nil {
		return fmt.Errorf("index insert %s: %w", entry, err)
	}
	if _, err := page.Append(entry); err != nil {
		return fmt.Errorf("index insert %s: %w", entry, err)
	}
	idx.file.MarkDirty()

	if page.Number == 0 && page.Count == 1 {
		idx.smallestKey = entry.Key
	}
	idx.file.AddInserted(1)
	return nil
}

// LookUpPageFor returns the number of the primary page that may contain key:
// the page of the last entry whose key is <= key, or the first entry's page
// when key is smaller than every entry. It returns -1 for an empty index.
func (idx *Index) LookUpPageFor(key int32) (int32, error) {
	result := int32(-1)
	for n := 0; n < idx.file.PageAmount(); n++ {
		page, err := idx.file.ReadPage(n)
		if err != nil {
			return -1, fmt.Errorf("index lookup %d: %w", key, err)
		}
		for _, entry := range page.Occupied() {
			if result == -1 {
				result = entry.PageNumber
			}
			if entry.Key > key {
				return result, nil
			}
			result = entry.PageNumber
		}
	}
	return result, nil
}

// UpdateSmallestKey overwrites the key of the first entry.
func (idx *Index) UpdateSmallestKey(key int32) error {
	page, err := idx.file.ReadPage(0)
	if err != nil {
		return fmt.Errorf("index update smallest key: %w", err)
	}
	if page.IsEmpty() {
		return fmt.Errorf("index update smallest key: index is empty")
	}
	page.Slots[0].Key = key
	idx.file.MarkDirty()
	idx.smallestKey = key
	return nil
}

// SmallestKey returns the key of the first entry, or -1 when empty.
func (idx *Index) SmallestKey() int32 {
	return idx.smallestKey
}

// IsEmpty reports whether the index holds no entries.
func (idx *Index) IsEmpty() bool {
	return idx.smallestKey == -1
}

// Len returns the number of entries. Every page except the last is full.
func (idx *Index) Len() (int, error) {
	amount := idx.file.PageAmount()
	if amount == 0 {
		return 0, nil
	}
	last, err := idx.file.ReadPage(amount - 1)
	if err != nil {
		return 0, err
	}
	return (amount-1)*idx.file.PageSize() + int(last.Count), nil
}

// Entries returns every entry in page order.
func (idx *Index) Entries() ([]Entry, error) {
	var entries []Entry
	for n := 0; n < idx.file.PageAmount(); n++ {
		page, err := idx.file.ReadPage(n)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Occupied()...)
	}
	return entries, nil
}

// File exposes the underlying paged file for statistics and lifecycle.
func (idx *Index) File() *storage.PagedFile[Entry] {
	return idx.file
}

// Flush writes back the cached index page.
func (idx *Index) Flush() error {
	return idx.file.Flush()
}

// Close flushes and closes the index file.
func (idx *Index) Close() error {
	return idx.file.Close()
}
