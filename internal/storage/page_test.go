package storage

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRecord is a 4-byte record used to exercise the generic page code.
type testRecord struct {
	ID int32
}

func (r testRecord) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf, uint32(r.ID))
}

type testCodec struct{}

func (testCodec) Size() int { return 4 }
func (testCodec) Empty() testRecord { return testRecord{ID: -1} }
func (testCodec) Decode(buf []byte) testRecord {
	return testRecord{ID: int32(binary.BigEndian.Uint32(buf))}
}

func TestNewPage(t *testing.T) {
	page := NewPage[testRecord](testCodec{}, 3, 4)

	assert.Equal(t, int32(3), page.Number)
	assert.Equal(t, 4, page.Capacity())
	assert.True(t, page.IsEmpty())
	assert.False(t, page.IsFull())
	for _, r := range page.Slots {
		assert.Equal(t, int32(-1), r.ID)
	}
}

func TestPageAppend(t *testing.T) {
	page := NewPage[testRecord](testCodec{}, 0, 2)

	slot, err := page.Append(testRecord{ID: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	slot, err = page.Append(testRecord{ID: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.True(t, page.IsFull())

	_, err = page.Append(testRecord{ID: 30})
	assert.True(t, errors.Is(err, ErrPageFull))
	assert.Equal(t, []testRecord{{10}, {20}}, page.Occupied())
}

func TestPageRoundTrip(t *testing.T) {
	page := NewPage[testRecord](testCodec{}, 7, 5)
	for _, id := range []int32{4, 8, 15} {
		_, err := page.Append(testRecord{ID: id})
		require.NoError(t, err)
	}

	buf := page.Encode(testCodec{})
	assert.Len(t, buf, PageByteSize[testRecord](testCodec{}, 5))
	assert.Equal(t, 8+5*4, len(buf))

	decoded, err := DecodePage[testRecord](testCodec{}, 5, buf)
	require.NoError(t, err)
	assert.Equal(t, page, decoded)
}

func TestDecodePageRejectsBadInput(t *testing.T) {
	_, err := DecodePage[testRecord](testCodec{}, 4, make([]byte, 10))
	assert.True(t, errors.Is(err, ErrCorruptPage))

	buf := NewPage[testRecord](testCodec{}, 0, 2).Encode(testCodec{})
	binary.BigEndian.PutUint32(buf[4:8], 9)
	_, err = DecodePage[testRecord](testCodec{}, 2, buf)
	assert.True(t, errors.Is(err, ErrCorruptPage))
}
