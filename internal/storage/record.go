// Package storage implements fixed-capacity pages of fixed-size records and a
// paged file that keeps exactly one of those pages in memory.
//
// EDUCATIONAL NOTES:
// ------------------
// An ISAM store is made of several files (index, primary records, overflow)
// that all share the same shape: a sequence of equally sized pages, each
// holding a fixed number of equally sized records. Instead of one page type
// per file we keep a single generic Page[R] and let the record type describe
// its own binary layout through a Codec.
//
// Because every record has a known size, the byte offset of a page is simply
// pageNumber * pageByteSize. No free-space map or slot directory is needed.

package storage

// Record is a value that can be stored in a page slot.
// Encode must write exactly Codec.Size() bytes.
type Record interface {
	Encode(buf []byte)
}

// Codec describes the on-disk layout of a record type.
type Codec[R Record] interface {
	// Size is the encoded size of one record in bytes.
	Size() int

	// Empty returns the sentinel value written into unoccupied slots.
	Empty() R

	// Decode reads one record from buf (len(buf) >= Size()).
	Decode(buf []byte) R
}
