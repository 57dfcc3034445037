// Package catalog persists the engine manifest (metadata about the files).
//
// EDUCATIONAL NOTES:
// ------------------
// The page files hold records and index entries, but some engine state
// cannot be derived from them cheaply:
// - How many records were inserted into each file (the reorganization ratios)
// - How many of them are tombstoned
// - I/O spent on files that a reorganization already replaced
//
// This state lives in a small side file next to the data files. Its layout:
//
//	+--------------------+---------------------+
//	| bintly body        | highwayhash-64 (8B) |
//	+--------------------+---------------------+
//
// The checksum covers the body. The file is written to a temporary name and
// moved over the old one, so a torn write never lands under FileName.

package catalog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/minio/highwayhash"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/bintly"
)

const (
	// FileName is the manifest file name inside the store directory.
	FileName = "isam.meta"

	// ManifestMagic identifies a manifest body.
	ManifestMagic = 0x15A0

	manifestVersion = 1
	checksumSize    = 8
)

var hashKey = []byte("isamdb-manifest-checksum-key-32b")

// ErrCorruptManifest is returned when the manifest fails verification.
var ErrCorruptManifest = errors.New("catalog: corrupt manifest")

// Counters are the record counters of one paged file.
type Counters struct {
	Inserted int
	Deleted  int
}

// Manifest is the persisted engine state.
type Manifest struct {
	PageSize int

	Index    Counters
	Primary  Counters
	Overflow Counters

	// RetiredReads and RetiredWrites are the page transfers of files that
	// were replaced by reorganization.
	RetiredReads  int
	RetiredWrites int

	Reorganizations int
}

// EncodeBinary writes the manifest body to stream.
func (m *Manifest) EncodeBinary(stream *bintly.Writer) error {
	stream.Int32(ManifestMagic)
	stream.Int32(manifestVersion)
	stream.Int32(int32(m.PageSize))
	for _, c := range []Counters{m.Index, m.Primary, m.Overflow} {
		stream.Int64(int64(c.Inserted))
		stream.Int64(int64(c.Deleted))
	}
	stream.Int64(int64(m.RetiredReads))
	stream.Int64(int64(m.RetiredWrites))
	stream.Int64(int64(m.Reorganizations))
	return nil
}

// DecodeBinary reads the manifest body from stream.
func (m *Manifest) DecodeBinary(stream *bintly.Reader) error {
	var magic, version, pageSize int32
	stream.Int32(&magic)
	if magic != ManifestMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrCorruptManifest, magic)
	}
	stream.Int32(&version)
	if version != manifestVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptManifest, version)
	}
	stream.Int32(&pageSize)
	m.PageSize = int(pageSize)

	for _, c := range []*Counters{&m.Index, &m.Primary, &m.Overflow} {
		var inserted, deleted int64
		stream.Int64(&inserted)
		stream.Int64(&deleted)
		c.Inserted, c.Deleted = int(inserted), int(deleted)
	}

	var reads, writes, reorganizations int64
	stream.Int64(&reads)
	stream.Int64(&writes)
	stream.Int64(&reorganizations)
	m.RetiredReads, m.RetiredWrites, m.Reorganizations = int(reads), int(writes), int(reorganizations)
	return nil
}

func checksum(data []byte) (uint64, error) {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// Marshal encodes m followed by its checksum.
func Marshal(m *Manifest) ([]byte, error) {
	writers := bintly.NewWriters()
	writer := writers.Get()
	defer writers.Put(writer)

	if err := m.EncodeBinary(writer); err != nil {
		return nil, err
	}
	body := writer.Bytes()

	sum, err := checksum(body)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum manifest: %w", err)
	}
	data := make([]byte, len(body)+checksumSize)
	copy(data, body)
	binary.BigEndian.PutUint64(data[len(body):], sum)
	return data, nil
}

// Unmarshal verifies the checksum of data and decodes the manifest.
func Unmarshal(data []byte) (*Manifest, error) {
	if len(data) <= checksumSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptManifest, len(data))
	}
	body := data[:len(data)-checksumSize]
	want := binary.BigEndian.Uint64(data[len(body):])
	got, err := checksum(body)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum manifest: %w", err)
	}
	if got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptManifest)
	}

	readers := bintly.NewReaders()
	reader := readers.Get()
	defer readers.Put(reader)
	if err := reader.FromBytes(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}

	m := &Manifest{}
	if err := m.DecodeBinary(reader); err != nil {
		return nil, err
	}
	return m, nil
}

// TempName is the name the manifest is written under before it is moved
// over FileName. It keeps the extension so the move targets the file itself.
const TempName = "isam.tmp.meta"

// Save writes m next to path under TempName and moves it over path.
func Save(ctx context.Context, fs afs.Service, path string, m *Manifest) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), TempName)
	if err := fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := fs.Move(ctx, tmp, path); err != nil {
		_ = fs.Delete(ctx, tmp)
		return fmt.Errorf("failed to install manifest: %w", err)
	}
	return nil
}

// Load reads the manifest at path. A missing file is reported with
// ok == false and no error.
func Load(ctx context.Context, fs afs.Service, path string) (m *Manifest, ok bool, err error) {
	exists, err := fs.Exists(ctx, path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check manifest: %w", err)
	}
	if !exists {
		return nil, false, nil
	}
	data, err := fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err = Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return m, true, nil
}
