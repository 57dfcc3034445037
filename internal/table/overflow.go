package table

import (
	"fmt"

	"github.com/phuslu/log"

	"github.com/cabewaldrop/isamdb/internal/storage"
)

// Overflow is the append-only file of chained records.
//
// Slot order in an overflow page is insertion order. The logical order of
// overflowed keys comes only from the links, which always point forward to
// a strictly greater key.
type Overflow struct {
	file   *storage.PagedFile[Record]
	logger *log.Logger
}

// pendingWrite is a record that was changed in memory while its page may be
// evicted by the next page access. It must be committed by re-reading the
// page and overwriting the slot.
type pendingWrite struct {
	at  Link
	rec Record
}

// OpenOverflow opens or creates an overflow file.
func OpenOverflow(path string, pageSize int, logger *log.Logger) (*Overflow, error) {
	if logger == nil {
		logger = DiscardLogger()
	}
	file, err := storage.OpenPagedFile[Record](path, RecordCodec{}, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open overflow file: %w", err)
	}
	return &Overflow{file: file, logger: logger}, nil
}

// File exposes the underlying paged file.
func (o *Overflow) File() *storage.PagedFile[Record] {
	return o.file
}

// nextFree returns the link the next appended record will occupy.
func (o *Overflow) nextFree() (Link, error) {
	page, err := o.file.LastNonFullPage()
	if err != nil {
		return NoLink, err
	}
	return Link{Page: page.Number, Slot: page.Count}, nil
}

// append stores rec in the next free slot and must land on want.
func (o *Overflow) append(rec Record, want Link) error {
	page, err := o.file.LastNonFullPage()
	if err != nil {
		return err
	}
	slot, err := page.Append(rec)
	if err != nil {
		return err
	}
	o.file.MarkDirty()
	o.file.AddInserted(1)
	if got := (Link{Page: page.Number, Slot: int32(slot)}); got != want {
		return fmt.Errorf("%w: overflow append landed on %s, expected %s", ErrInvariant, got, want)
	}
	if rec.Deleted {
		o.file.AddDeleted(1)
	}
	return nil
}

// commit re-reads the page of a pending write and overwrites the slot.
func (o *Overflow) commit(w pendingWrite) error {
	page, err := o.file.ReadPage(int(w.at.Page))
	if err != nil {
		return fmt.Errorf("overflow write-back %s: %w", w.at, err)
	}
	RecordPage{page}.Replace(int(w.at.Slot), w.rec)
	o.file.MarkDirty()
	return nil
}

// read returns a copy of the record at link.
func (o *Overflow) read(at Link) (Record, error) {
	page, err := o.file.ReadPage(int(at.Page))
	if err != nil {
		return Record{}, fmt.Errorf("overflow read %s: %w", at, err)
	}
	if at.Slot >= page.Count {
		return Record{}, fmt.Errorf("%w: overflow link %s beyond page occupancy %d", ErrInvariant, at, page.Count)
	}
	return page.Slots[at.Slot], nil
}

// InsertNewChain starts a chain at anchor: anchor's link is set to the next
// free overflow slot and rec is appended there. The caller persists anchor.
func (o *Overflow) InsertNewChain(anchor *Record, rec Record) error {
	target, err := o.nextFree()
	if err != nil {
		return fmt.Errorf("overflow new chain for %d: %w", rec.Key, err)
	}
	anchor.Next = target
	rec.Next = NoLink
	if err := o.append(rec, target); err != nil {
		return fmt.Errorf("overflow new chain for %d: %w", rec.Key, err)
	}

	o.logger.Debug().Int("anchor", int(anchor.Key)).Int("key", int(rec.Key)).Str("at", target.String()).Msg("overflow chain created")
	return nil
}

// InsertIntoChain splices rec into anchor's chain, keeping keys ascending.
// A tombstoned record with the same key is revived in place instead.
//
// When the predecessor is itself an overflow record, its new link is a
// pending write: the append may evict its page, so the predecessor is
// re-read and overwritten after the append. When the predecessor is the
// anchor, the caller persists it.
func (o *Overflow) InsertIntoChain(anchor *Record, rec Record) error {
	prevAt := NoLink
	var prev Record

	curr := anchor.Next
	for curr.Exists() {
		node, err := o.read(curr)
		if err != nil {
			return err
		}
		if node.Key == rec.Key {
			return o.revive(curr, node, rec)
		}
		if node.Key > rec.Key {
			break
		}
		prevAt, prev = curr, node
		curr = node.Next
	}

	target, err := o.nextFree()
	if err != nil {
		return fmt.Errorf("overflow splice %d: %w", rec.Key, err)
	}

	var pending *pendingWrite
	if prevAt.Exists() {
		rec.Next = prev.Next
		prev.Next = target
		pending = &pendingWrite{at: prevAt, rec: prev}
	} else {
		rec.Next = anchor.Next
		anchor.Next = target
	}

	if err := o.append(rec, target); err != nil {
		return fmt.Errorf("overflow splice %d: %w", rec.Key, err)
	}
	if pending != nil {
		if err := o.commit(*pending); err != nil {
			return err
		}
	}
	return nil
}

func (o *Overflow) revive(at Link, node, rec Record) error {
	if !node.Deleted {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, rec.Key)
	}
	rec.Deleted = false
	rec.Next = node.Next
	if err := o.commit(pendingWrite{at: at, rec: rec}); err != nil {
		return err
	}
	o.file.AddDeleted(-1)
	return nil
}

// locate walks the chain starting at head for a live record with key.
func (o *Overflow) locate(head Link, key int32) (Link, Record, bool, error) {
	for curr := head; curr.Exists(); {
		node, err := o.read(curr)
		if err != nil {
			return NoLink, Record{}, false, err
		}
		if node.Key == key && !node.Deleted {
			return curr, node, true, nil
		}
		if node.Key > key {
			break
		}
		curr = node.Next
	}
	return NoLink, Record{}, false, nil
}

// Find returns the live record with key from anchor's chain.
func (o *Overflow) Find(anchor Record, key int32) (Record, bool, error) {
	_, rec, ok, err := o.locate(anchor.Next, key)
	return rec, ok, err
}

// Update patches the payload of the live record with key in anchor's chain.
func (o *Overflow) Update(anchor Record, key int32, a, b, h float64) (bool, error) {
	at, _, ok, err := o.locate(anchor.Next, key)
	if err != nil || !ok {
		return false, err
	}
	page, err := o.file.ReadPage(int(at.Page))
	if err != nil {
		return false, err
	}
	RecordPage{page}.Patch(int(at.Slot), a, b, h)
	o.file.MarkDirty()
	return true, nil
}

// Delete tombstones the live record with key in anchor's chain.
func (o *Overflow) Delete(anchor Record, key int32) (bool, error) {
	at, _, ok, err := o.locate(anchor.Next, key)
	if err != nil || !ok {
		return false, err
	}
	page, err := o.file.ReadPage(int(at.Page))
	if err != nil {
		return false, err
	}
	RecordPage{page}.Tombstone(int(at.Slot))
	o.file.MarkDirty()
	o.file.AddDeleted(1)
	return true, nil
}

// Walk calls fn for every record of the chain starting at head, in order.
func (o *Overflow) Walk(head Link, fn func(at Link, rec Record) error) error {
	for curr := head; curr.Exists(); {
		node, err := o.read(curr)
		if err != nil {
			return err
		}
		if err := fn(curr, node); err != nil {
			return err
		}
		curr = node.Next
	}
	return nil
}

// After reports whether key sorts after anchor and every record chained
// behind it, tombstones included.
func (o *Overflow) After(anchor Record, key int32) (bool, error) {
	tail := anchor.Key
	err := o.Walk(anchor.Next, func(_ Link, rec Record) error {
		tail = rec.Key
		return nil
	})
	if err != nil {
		return false, err
	}
	return key > tail, nil
}

// Pages calls fn with every overflow page in page order.
func (o *Overflow) Pages(fn func(page RecordPage) error) error {
	for n := 0; n < o.file.PageAmount(); n++ {
		page, err := o.file.ReadPage(n)
		if err != nil {
			return err
		}
		if err := fn(RecordPage{page}); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes back the cached overflow page.
func (o *Overflow) Flush() error {
	return o.file.Flush()
}

// Close flushes and closes the overflow file.
func (o *Overflow) Close() error {
	return o.file.Close()
}
