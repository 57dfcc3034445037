package table

import (
	"fmt"
	"io"

	"github.com/phuslu/log"

	"github.com/cabewaldrop/isamdb/internal/storage"
)

// InsertResult tells the caller how an insert was placed and whether the
// index has to change.
type InsertResult int

const (
	// NoOverflow: the record went into a primary page with a free slot.
	NoOverflow InsertResult = iota
	// OverflowNewChain: the record started a new overflow chain.
	OverflowNewChain
	// OverflowExistingChain: the record was spliced into an existing chain.
	OverflowExistingChain
	// NewSmallestKey: the record became the first key of page 0; the index
	// smallest key must be updated.
	NewSmallestKey
	// NewPage: the record opened a new primary page; the index needs an entry.
	NewPage
)

func (r InsertResult) String() string {
	switch r {
	case NoOverflow:
		return "no overflow"
	case OverflowNewChain:
		return "overflow (new chain)"
	case OverflowExistingChain:
		return "overflow (existing chain)"
	case NewSmallestKey:
		return "new smallest key"
	case NewPage:
		return "new page"
	default:
		return fmt.Sprintf("InsertResult(%d)", int(r))
	}
}

// Store is the primary record file together with its overflow file.
type Store struct {
	primary  *storage.PagedFile[Record]
	overflow *Overflow
	logger   *log.Logger
}

// OpenStore opens or creates the primary and overflow files.
func OpenStore(primaryPath, overflowPath string, pageSize int, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = DiscardLogger()
	}
	primary, err := storage.OpenPagedFile[Record](primaryPath, RecordCodec{}, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary file: %w", err)
	}
	overflow, err := OpenOverflow(overflowPath, pageSize, logger)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return &Store{primary: primary, overflow: overflow, logger: logger}, nil
}

// DiscardLogger returns a logger that writes nowhere.
func DiscardLogger() *log.Logger {
	return &log.Logger{Level: log.InfoLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

// Primary exposes the primary paged file.
func (s *Store) Primary() *storage.PagedFile[Record] {
	return s.primary
}

// Overflow exposes the overflow store.
func (s *Store) Overflow() *Overflow {
	return s.overflow
}

// PageAmount returns the number of primary pages.
func (s *Store) PageAmount() int {
	return s.primary.PageAmount()
}

func (s *Store) page(pageNum int32) (RecordPage, error) {
	page, err := s.primary.ReadPage(int(pageNum))
	if err != nil {
		return RecordPage{}, fmt.Errorf("primary page %d: %w", pageNum, err)
	}
	return RecordPage{page}, nil
}

// InsertFirst stores the very first record on primary page 0.
func (s *Store) InsertFirst(rec Record) error {
	rec.Deleted = false
	rec.Next = NoLink
	page, err := s.page(0)
	if err != nil {
		return err
	}
	if err := page.InsertAndSort(rec); err != nil {
		return err
	}
	s.primary.MarkDirty()
	s.primary.AddInserted(1)
	return nil
}

// Insert places rec on primary page pageNum (as chosen by the index) or in
// the overflow chain of the record that precedes it.
func (s *Store) Insert(rec Record, pageNum int32) (InsertResult, error) {
	rec.Deleted = false
	rec.Next = NoLink

	page, err := s.page(pageNum)
	if err != nil {
		return 0, err
	}

	// A tombstoned twin on the page is revived in place.
	if slot := page.Find(rec.Key); slot >= 0 {
		return NoOverflow, s.reviveOnPage(page, slot, rec)
	}

	// Below the smallest key of a full page 0: take slot 0 and push the old
	// minimum into the overflow.
	if pageNum == 0 && page.IsFull() && rec.Key < page.Slots[0].Key {
		return NewSmallestKey, s.displaceSmallest(page, rec)
	}

	// Free slot: sort it into the page.
	if !page.IsFull() {
		if err := page.InsertAndSort(rec); err != nil {
			return 0, err
		}
		s.primary.MarkDirty()
		s.primary.AddInserted(1)
		if pageNum == 0 && page.Slots[0].Key == rec.Key {
			return NewSmallestKey, nil
		}
		return NoOverflow, nil
	}

	// Full page: the key goes behind the record that precedes it.
	prev := page.FindPrevious(rec.Key)
	if prev < 0 {
		return 0, fmt.Errorf("%w: no anchor for key %d on primary page %d", ErrInvariant, rec.Key, pageNum)
	}

	// A full last page whose last record precedes the key opens a new page,
	// but only when the key also sorts after that record's chain. Displacing
	// the smallest key can hang a chain off the last slot of page 0.
	if int(pageNum) == s.primary.PageAmount()-1 && prev == page.Capacity()-1 {
		after, err := s.overflow.After(page.Slots[prev], rec.Key)
		if err != nil {
			return 0, err
		}
		if after {
			return NewPage, s.appendNewPage(rec)
		}
	}

	// Anchor is the record the key follows; its link changes below and is
	// written back by persistAnchor.
	anchor := page.Slots[prev]
	result := OverflowNewChain
	if anchor.Next.Exists() {
		result = OverflowExistingChain
		err = s.overflow.InsertIntoChain(&anchor, rec)
	} else {
		err = s.overflow.InsertNewChain(&anchor, rec)
	}
	if err != nil {
		return 0, err
	}
	if err := s.persistAnchor(pageNum, prev, anchor); err != nil {
		return 0, err
	}
	return result, nil
}

func (s *Store) reviveOnPage(page RecordPage, slot int, rec Record) error {
	old := page.Slots[slot]
	if !old.Deleted {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, rec.Key)
	}
	rec.Next = old.Next
	page.Replace(slot, rec)
	s.primary.MarkDirty()
	s.primary.AddDeleted(-1)
	return nil
}

// displaceSmallest puts rec in slot 0 of the full page 0 and moves the old
// minimum, with its chain, into the overflow chain anchored at rec.
func (s *Store) displaceSmallest(page RecordPage, rec Record) error {
	old := page.Slots[0]
	rec.Next = old.Next
	old.Next = NoLink
	page.Replace(0, rec)
	s.primary.MarkDirty()
	if old.Deleted {
		s.primary.AddDeleted(-1)
	}

	anchor := rec
	var err error
	if anchor.Next.Exists() {
		err = s.overflow.InsertIntoChain(&anchor, old)
	} else {
		err = s.overflow.InsertNewChain(&anchor, old)
	}
	if err != nil {
		return err
	}
	return s.persistAnchor(0, 0, anchor)
}

func (s *Store) appendNewPage(rec Record) error {
	page, err := s.primary.NewPage()
	if err != nil {
		return err
	}
	if err := (RecordPage{page}).InsertAndSort(rec); err != nil {
		return err
	}
	s.primary.MarkDirty()
	s.primary.AddInserted(1)
	s.logger.Debug().Int("page", int(page.Number)).Int("key", int(rec.Key)).Msg("primary page created")
	return nil
}

// persistAnchor re-reads the anchor's page by number and hard-replaces the
// anchor so its new link is written with the page.
func (s *Store) persistAnchor(pageNum int32, slot int, anchor Record) error {
	page, err := s.page(pageNum)
	if err != nil {
		return err
	}
	page.Replace(slot, anchor)
	s.primary.MarkDirty()
	return nil
}

// AppendAt appends rec to primary page pageNum without sorting. Used when
// rebuilding a store from records that are already in key order.
func (s *Store) AppendAt(rec Record, pageNum int32) error {
	page, err := s.page(pageNum)
	if err != nil {
		return err
	}
	if _, err := page.Append(rec); err != nil {
		return fmt.Errorf("%w: rebuild append of %d: %v", ErrInvariant, rec.Key, err)
	}
	s.primary.MarkDirty()
	s.primary.AddInserted(1)
	return nil
}

// Get returns the live record with key, looking on page pageNum first and
// then in the overflow chain the key would belong to.
func (s *Store) Get(key int32, pageNum int32) (Record, bool, error) {
	page, err := s.page(pageNum)
	if err != nil {
		return Record{}, false, err
	}
	if slot := page.Find(key); slot >= 0 {
		rec := page.Slots[slot]
		if rec.Deleted {
			return Record{}, false, nil
		}
		return rec, true, nil
	}
	if !page.HasChains() {
		return Record{}, false, nil
	}
	prev := page.FindPrevious(key)
	if prev < 0 {
		return Record{}, false, nil
	}
	return s.overflow.Find(page.Slots[prev], key)
}

// Update replaces the payload of the live record with rec.Key.
func (s *Store) Update(rec Record, pageNum int32) (bool, error) {
	page, err := s.page(pageNum)
	if err != nil {
		return false, err
	}
	if slot := page.Find(rec.Key); slot >= 0 {
		if page.Slots[slot].Deleted {
			return false, nil
		}
		page.Patch(slot, rec.A, rec.B, rec.H)
		s.primary.MarkDirty()
		return true, nil
	}
	prev := page.FindPrevious(rec.Key)
	if prev < 0 || !page.Slots[prev].Next.Exists() {
		return false, nil
	}
	return s.overflow.Update(page.Slots[prev], rec.Key, rec.A, rec.B, rec.H)
}

// Delete tombstones the live record with key.
func (s *Store) Delete(key int32, pageNum int32) (bool, error) {
	page, err := s.page(pageNum)
	if err != nil {
		return false, err
	}
	if slot := page.Find(key); slot >= 0 {
		if page.Slots[slot].Deleted {
			return false, nil
		}
		page.Tombstone(slot)
		s.primary.MarkDirty()
		s.primary.AddDeleted(1)
		return true, nil
	}
	prev := page.FindPrevious(key)
	if prev < 0 || !page.Slots[prev].Next.Exists() {
		return false, nil
	}
	return s.overflow.Delete(page.Slots[prev], key)
}

// Walk visits every record in key order: each primary slot in stored order
// followed by its overflow chain. Tombstoned records are skipped unless
// includeDeleted is set; chains of tombstoned anchors are always followed.
func (s *Store) Walk(includeDeleted bool, fn func(rec Record) error) error {
	for n := 0; n < s.primary.PageAmount(); n++ {
		page, err := s.page(int32(n))
		if err != nil {
			return err
		}
		slots := append([]Record(nil), page.Occupied()...)
		for _, rec := range slots {
			if includeDeleted || !rec.Deleted {
				if err := fn(rec); err != nil {
					return err
				}
			}
			err := s.overflow.Walk(rec.Next, func(_ Link, chained Record) error {
				if includeDeleted || !chained.Deleted {
					return fn(chained)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Pages calls fn with every primary page in page order.
func (s *Store) Pages(fn func(page RecordPage) error) error {
	for n := 0; n < s.primary.PageAmount(); n++ {
		page, err := s.page(int32(n))
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// Inserted returns the number of records placed in either file.
func (s *Store) Inserted() int {
	return s.primary.Inserted() + s.overflow.file.Inserted()
}

// Deleted returns the number of tombstones in either file.
func (s *Store) Deleted() int {
	return s.primary.Deleted() + s.overflow.file.Deleted()
}

// Flush writes back both cached pages.
func (s *Store) Flush() error {
	if err := s.primary.Flush(); err != nil {
		return err
	}
	return s.overflow.Flush()
}

// Close flushes and closes both files.
func (s *Store) Close() error {
	perr := s.primary.Close()
	oerr := s.overflow.Close()
	if perr != nil {
		return perr
	}
	return oerr
}
