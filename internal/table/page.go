package table

import (
	"cmp"
	"slices"

	"github.com/cabewaldrop/isamdb/internal/storage"
)

// RecordPage adds record-level operations to a page of records.
// It wraps the cached page of a paged file; callers mark the file dirty.
type RecordPage struct {
	*storage.Page[Record]
}

// InsertAndSort appends rec and re-sorts the occupied slots by key.
func (p RecordPage) InsertAndSort(rec Record) error {
	if _, err := p.Append(rec); err != nil {
		return err
	}
	slices.SortFunc(p.Occupied(), func(a, b Record) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return nil
}

// Find returns the slot holding key, tombstoned or not, or -1.
func (p RecordPage) Find(key int32) int {
	for i, rec := range p.Occupied() {
		if rec.Key == key {
			return i
		}
	}
	return -1
}

// FindPrevious returns the highest slot whose key is strictly less than key,
// or -1 when there is none. On a primary page that record anchors the
// overflow chain key belongs to.
func (p RecordPage) FindPrevious(key int32) int {
	prev := -1
	for i, rec := range p.Occupied() {
		if rec.Key < key {
			prev = i
		}
	}
	return prev
}

// Replace overwrites the whole record at slot, link included.
func (p RecordPage) Replace(slot int, rec Record) {
	p.Slots[slot] = rec
}

// Patch overwrites only the payload of the record at slot.
func (p RecordPage) Patch(slot int, a, b, h float64) {
	p.Slots[slot].A = a
	p.Slots[slot].B = b
	p.Slots[slot].H = h
}

// Tombstone marks the record at slot deleted.
func (p RecordPage) Tombstone(slot int) {
	p.Slots[slot].Deleted = true
}

// HasChains reports whether any occupied record anchors an overflow chain.
func (p RecordPage) HasChains() bool {
	for _, rec := range p.Occupied() {
		if rec.Next.Exists() {
			return true
		}
	}
	return false
}
