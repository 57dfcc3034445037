package storage

import (
	"encoding/binary"
	"fmt"
)

// PageHeaderSize is the size of the page header in bytes:
// pageNumber (int32) followed by occupiedCount (int32).
const PageHeaderSize = 8

// Page is a fixed-capacity, numbered array of records.
//
// Page Layout:
// +----------------------+
// | Number (4)           |
// | Count  (4)           |
// +----------------------+
// | Slot 0 (record size) |
// | ...                  |
// | Slot P-1             |
// +----------------------+
//
// All P slots are written unconditionally; unoccupied slots hold the codec's
// empty sentinel so the page always has the same byte size.
type Page[R Record] struct {
	// Number is the page's position within its file.
	Number int32

	// Count is the number of occupied slots. Slots[0:Count] are in use.
	Count int32

	// Slots has length equal to the page capacity.
	Slots []R
}

// NewPage creates an empty page with every slot set to the codec's sentinel.
func NewPage[R Record](codec Codec[R], number int32, capacity int) *Page[R] {
	slots := make([]R, capacity)
	for i := range slots {
		slots[i] = codec.Empty()
	}
	return &Page[R]{Number: number, Slots: slots}
}

// PageByteSize returns the encoded size of a page holding capacity records.
func PageByteSize[R Record](codec Codec[R], capacity int) int {
	return PageHeaderSize + capacity*codec.Size()
}

// Capacity returns the number of slots in the page.
func (p *Page[R]) Capacity() int {
	return len(p.Slots)
}

// IsFull reports whether every slot is occupied.
func (p *Page[R]) IsFull() bool {
	return int(p.Count) >= len(p.Slots)
}

// IsEmpty reports whether no slot is occupied.
func (p *Page[R]) IsEmpty() bool {
	return p.Count == 0
}

// Occupied returns the in-use prefix of the slot array.
// The returned slice aliases the page.
func (p *Page[R]) Occupied() []R {
	return p.Slots[:p.Count]
}

// Append stores r in the next free slot and returns that slot's index.
func (p *Page[R]) Append(r R) (int, error) {
	if p.IsFull() {
		return -1, fmt.Errorf("page %d: %w", p.Number, ErrPageFull)
	}
	slot := int(p.Count)
	p.Slots[slot] = r
	p.Count++
	return slot, nil
}

// Encode serializes the page using big-endian integers.
func (p *Page[R]) Encode(codec Codec[R]) []byte {
	size := codec.Size()
	buf := make([]byte, PageByteSize(codec, len(p.Slots)))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Number))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Count))
	for i, r := range p.Slots {
		off := PageHeaderSize + i*size
		r.Encode(buf[off : off+size])
	}
	return buf
}

// DecodePage reads a page previously produced by Encode.
func DecodePage[R Record](codec Codec[R], capacity int, buf []byte) (*Page[R], error) {
	if len(buf) != PageByteSize(codec, capacity) {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrCorruptPage, len(buf), PageByteSize(codec, capacity))
	}

	p := &Page[R]{
		Number: int32(binary.BigEndian.Uint32(buf[0:4])),
		Count:  int32(binary.BigEndian.Uint32(buf[4:8])),
		Slots:  make([]R, capacity),
	}
	if p.Count < 0 || int(p.Count) > capacity {
		return nil, fmt.Errorf("%w: page %d claims %d records with capacity %d", ErrCorruptPage, p.Number, p.Count, capacity)
	}

	size := codec.Size()
	for i := range p.Slots {
		off := PageHeaderSize + i*size
		p.Slots[i] = codec.Decode(buf[off : off+size])
	}
	return p, nil
}
