package index

import (
	"encoding/binary"
	"fmt"
)

// EntrySize is the encoded size of an Entry: key (int32) + page number (int32).
const EntrySize = 8

// Entry maps the smallest key of a primary page to that page's number.
type Entry struct {
	Key        int32
	PageNumber int32
}

// Encode implements storage.Record.
func (e Entry) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Key))
	binary.BigEndian.PutUint32(buf[4:8], uint32(e.PageNumber))
}

func (e Entry) String() string {
	return fmt.Sprintf("%d:%d", e.Key, e.PageNumber)
}

// EntryCodec is the storage.Codec for index entries.
type EntryCodec struct{}

func (EntryCodec) Size() int { return EntrySize }

func (EntryCodec) Empty() Entry { return Entry{Key: -1, PageNumber: -1} }

func (EntryCodec) Decode(buf []byte) Entry {
	return Entry{
		Key:        int32(binary.BigEndian.Uint32(buf[0:4])),
		PageNumber: int32(binary.BigEndian.Uint32(buf[4:8])),
	}
}
