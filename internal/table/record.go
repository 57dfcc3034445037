// Package table implements the record files of the ISAM store: the primary
// file of sorted record pages and the overflow file of chained records.
//
// EDUCATIONAL NOTES:
// ------------------
// Records are fixed-size rows: a key, a tombstone flag, three float payload
// fields and a link to the next record of an overflow chain.
//
// Primary pages keep their occupied slots sorted by key. When a key belongs
// between two records of a full primary page it is appended to the overflow
// file instead, and linked from the record that precedes it (the "anchor").
// Following the links from an anchor yields the overflowed keys in order.
//
// Deletion never removes a record physically. It sets the tombstone flag and
// leaves the slot in place until the next reorganization.

package table

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RecordSize is the encoded size of a Record in bytes:
// deleted (1) + key (4) + a, b, h (3 x 8) + next page (4) + next slot (4).
const RecordSize = 37

// Link addresses a record in the overflow file.
type Link struct {
	Page int32
	Slot int32
}

// NoLink marks the end of a chain.
var NoLink = Link{Page: -1, Slot: -1}

// Exists reports whether the link points at a record.
func (l Link) Exists() bool {
	return l.Page >= 0 && l.Slot >= 0
}

func (l Link) String() string {
	if !l.Exists() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", l.Page, l.Slot)
}

// Record is one stored row.
type Record struct {
	Key     int32
	Deleted bool
	A, B, H float64
	Next    Link
}

// NewRecord creates a live record with no overflow link.
func NewRecord(key int32, a, b, h float64) Record {
	return Record{Key: key, A: a, B: b, H: h, Next: NoLink}
}

// Encode implements storage.Record.
func (r Record) Encode(buf []byte) {
	if r.Deleted {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.BigEndian.PutUint32(buf[1:5], uint32(r.Key))
	binary.BigEndian.PutUint64(buf[5:13], math.Float64bits(r.A))
	binary.BigEndian.PutUint64(buf[13:21], math.Float64bits(r.B))
	binary.BigEndian.PutUint64(buf[21:29], math.Float64bits(r.H))
	binary.BigEndian.PutUint32(buf[29:33], uint32(r.Next.Page))
	binary.BigEndian.PutUint32(buf[33:37], uint32(r.Next.Slot))
}

// SamePayload reports whether r and o carry the same key and payload.
func (r Record) SamePayload(o Record) bool {
	return r.Key == o.Key && r.A == o.A && r.B == o.B && r.H == o.H
}

func (r Record) String() string {
	return fmt.Sprintf("[D=%t] Record (%d): a=%.3f b=%.3f h=%.3f next=%s", r.Deleted, r.Key, r.A, r.B, r.H, r.Next)
}

// RecordCodec is the storage.Codec for records.
type RecordCodec struct{}

func (RecordCodec) Size() int { return RecordSize }

func (RecordCodec) Empty() Record {
	return Record{Key: -1, Next: NoLink}
}

func (RecordCodec) Decode(buf []byte) Record {
	return Record{
		Deleted: buf[0] != 0,
		Key:     int32(binary.BigEndian.Uint32(buf[1:5])),
		A:       math.Float64frombits(binary.BigEndian.Uint64(buf[5:13])),
		B:       math.Float64frombits(binary.BigEndian.Uint64(buf[13:21])),
		H:       math.Float64frombits(binary.BigEndian.Uint64(buf[21:29])),
		Next: Link{
			Page: int32(binary.BigEndian.Uint32(buf[29:33])),
			Slot: int32(binary.BigEndian.Uint32(buf[33:37])),
		},
	}
}
