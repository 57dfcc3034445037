// Package isam implements the ISAM storage engine.
//
// EDUCATIONAL NOTES:
// ------------------
// ISAM (Indexed Sequential Access Method) keeps records sorted by key in
// fixed-size primary pages and finds the page of a key through a sparse
// index with one entry per page.
//
// Inserting into a full page would mean shifting records into the next page,
// and the next, and so on. ISAM avoids that: a record that does not fit is
// appended to an overflow file and linked behind the record that precedes
// it. Lookups stay cheap while chains are short.
//
// Chains grow and tombstones pile up, so from time to time the whole store is
// rebuilt ("reorganized"): every live record is written in key order into
// fresh primary pages, the index is rebuilt and the overflow file starts
// empty. The engine triggers this when:
//
//	overflow ratio = records in overflow / records inserted  >= threshold
//	deletion ratio = tombstones          / records inserted  >= threshold
//
// Files in the store directory:
//
//	index.dat     sparse index entries
//	records.dat   primary pages
//	overflow.dat  overflow pages
//	isam.meta     manifest with counters and retired I/O
package isam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/phuslu/log"
	"github.com/viant/afs"

	"github.com/cabewaldrop/isamdb/internal/catalog"
	"github.com/cabewaldrop/isamdb/internal/index"
	"github.com/cabewaldrop/isamdb/internal/storage"
	"github.com/cabewaldrop/isamdb/internal/table"
)

// File names inside the store directory.
const (
	IndexFileName    = "index.dat"
	PrimaryFileName  = "records.dat"
	OverflowFileName = "overflow.dat"
)

// Engine composes the sparse index with the primary and overflow files.
// An Engine is not safe for concurrent use.
type Engine struct {
	dir    string
	opts   options
	logger *log.Logger
	fs     afs.Service

	pageSize int
	index    *index.Index
	store    *table.Store

	overflowThreshold float64
	deletionThreshold float64
	autoReorganize    bool

	retired         storage.IOStats
	reorganizations int
}

// Open opens the store in dir, creating the directory and files as needed.
func Open(dir string, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}
	if o.logger == nil {
		o.logger = table.DiscardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	e := &Engine{
		dir:               dir,
		opts:              o,
		logger:            o.logger,
		fs:                afs.New(),
		pageSize:          o.pageSize,
		overflowThreshold: o.overflowThreshold,
		deletionThreshold: o.deletionThreshold,
		autoReorganize:    o.autoReorganize,
	}

	if o.fresh {
		if err := e.removeFiles(context.Background()); err != nil {
			return nil, err
		}
	}

	manifest, found, err := catalog.Load(context.Background(), e.fs, e.manifestPath())
	if err != nil {
		return nil, err
	}
	if found && manifest.PageSize != e.pageSize {
		e.logger.Warn().Int("requested", e.pageSize).Int("stored", manifest.PageSize).Msg("keeping page size of existing store")
		e.pageSize = manifest.PageSize
	}

	if err := e.openFiles(); err != nil {
		return nil, err
	}

	if found {
		e.restore(manifest)
	} else if err := e.recount(); err != nil {
		e.closeFiles()
		return nil, err
	}

	e.logger.Debug().Str("dir", dir).Int("page_size", e.pageSize).Int("records", e.InsertedRecordAmount()).Msg("store opened")
	return e, nil
}

func (e *Engine) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *Engine) manifestPath() string {
	return e.path(catalog.FileName)
}

func (e *Engine) openFiles() error {
	idx, err := index.Open(e.path(IndexFileName), e.pageSize, storage.WithLock())
	if err != nil {
		return err
	}
	store, err := table.OpenStore(e.path(PrimaryFileName), e.path(OverflowFileName), e.pageSize, e.logger)
	if err != nil {
		idx.Close()
		return err
	}
	e.index, e.store = idx, store
	return nil
}

func (e *Engine) closeFiles() error {
	serr := e.store.Close()
	ierr := e.index.Close()
	return errors.Join(serr, ierr)
}

func (e *Engine) restore(m *catalog.Manifest) {
	e.index.File().SetCounters(m.Index.Inserted, m.Index.Deleted)
	e.store.Primary().SetCounters(m.Primary.Inserted, m.Primary.Deleted)
	e.store.Overflow().File().SetCounters(m.Overflow.Inserted, m.Overflow.Deleted)
	e.retired = storage.IOStats{Reads: m.RetiredReads, Writes: m.RetiredWrites}
	e.reorganizations = m.Reorganizations
}

// recount rebuilds the record counters from the files. Every placed record
// occupies exactly one slot, so occupancy and tombstones are the counters.
func (e *Engine) recount() error {
	if e.store.PageAmount() == 0 && e.index.File().PageAmount() == 0 {
		return nil
	}
	e.logger.Warn().Str("dir", e.dir).Msg("manifest missing, recounting records from files")

	count := func(pages func(fn func(table.RecordPage) error) error) (int, int, error) {
		var inserted, deleted int
		err := pages(func(page table.RecordPage) error {
			for _, rec := range page.Occupied() {
				inserted++
				if rec.Deleted {
					deleted++
				}
			}
			return nil
		})
		return inserted, deleted, err
	}

	inserted, deleted, err := count(e.store.Pages)
	if err != nil {
		return err
	}
	e.store.Primary().SetCounters(inserted, deleted)

	inserted, deleted, err = count(e.store.Overflow().Pages)
	if err != nil {
		return err
	}
	e.store.Overflow().File().SetCounters(inserted, deleted)

	entries, err := e.index.Len()
	if err != nil {
		return err
	}
	e.index.File().SetCounters(entries, 0)
	return nil
}

func (e *Engine) manifest() *catalog.Manifest {
	idx := e.index.File()
	primary := e.store.Primary()
	overflow := e.store.Overflow().File()
	return &catalog.Manifest{
		PageSize:        e.pageSize,
		Index:           catalog.Counters{Inserted: idx.Inserted(), Deleted: idx.Deleted()},
		Primary:         catalog.Counters{Inserted: primary.Inserted(), Deleted: primary.Deleted()},
		Overflow:        catalog.Counters{Inserted: overflow.Inserted(), Deleted: overflow.Deleted()},
		RetiredReads:    e.retired.Reads,
		RetiredWrites:   e.retired.Writes,
		Reorganizations: e.reorganizations,
	}
}

// Dir returns the store directory.
func (e *Engine) Dir() string {
	return e.dir
}

// PageSize returns the number of records per page.
func (e *Engine) PageSize() int {
	return e.pageSize
}

// Get returns the live record with key. A miss is reported with ok == false.
func (e *Engine) Get(key int32) (rec table.Record, ok bool, err error) {
	if key < 0 || e.index.IsEmpty() {
		return table.Record{}, false, nil
	}
	pageNum, err := e.index.LookUpPageFor(key)
	if err != nil {
		return table.Record{}, false, err
	}
	if pageNum < 0 {
		return table.Record{}, false, nil
	}
	return e.store.Get(key, pageNum)
}

// Insert stores rec. Negative keys fail with ErrInvalidKey and live keys
// with ErrDuplicateKey. Inserting a tombstoned key revives it in place.
func (e *Engine) Insert(rec table.Record) (table.InsertResult, error) {
	if rec.Key < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidKey, rec.Key)
	}
	if err := e.maybeReorganize(); err != nil {
		return 0, err
	}

	// The first record creates page 0 and its index entry.
	if e.index.IsEmpty() {
		if err := e.store.InsertFirst(rec); err != nil {
			return 0, err
		}
		if err := e.index.Insert(index.Entry{Key: rec.Key, PageNumber: 0}); err != nil {
			return 0, err
		}
		return table.NoOverflow, nil
	}

	pageNum, err := e.index.LookUpPageFor(rec.Key)
	if err != nil {
		return 0, err
	}
	// Only live records count as duplicates; tombstones are revived.
	if _, found, err := e.store.Get(rec.Key, pageNum); err != nil {
		return 0, err
	} else if found {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateKey, rec.Key)
	}

	result, err := e.store.Insert(rec, pageNum)
	if err != nil {
		return 0, err
	}

	// The index only changes for a new smallest key or a new page.
	switch result {
	case table.NoOverflow, table.OverflowNewChain, table.OverflowExistingChain:
	case table.NewSmallestKey:
		if err := e.index.UpdateSmallestKey(rec.Key); err != nil {
			return 0, err
		}
	case table.NewPage:
		entry := index.Entry{Key: rec.Key, PageNumber: int32(e.store.PageAmount() - 1)}
		if err := e.index.Insert(entry); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: unknown insert result %s", ErrInvariant, result)
	}
	return result, nil
}

// Update replaces the payload of the live record with rec.Key.
func (e *Engine) Update(rec table.Record) (bool, error) {
	if rec.Key < 0 {
		return false, nil
	}
	if err := e.maybeReorganize(); err != nil {
		return false, err
	}
	pageNum, err := e.index.LookUpPageFor(rec.Key)
	if err != nil || pageNum < 0 {
		return false, err
	}
	return e.store.Update(rec, pageNum)
}

// Delete tombstones the live record with key.
func (e *Engine) Delete(key int32) (bool, error) {
	if key < 0 {
		return false, nil
	}
	if err := e.maybeReorganize(); err != nil {
		return false, err
	}
	pageNum, err := e.index.LookUpPageFor(key)
	if err != nil || pageNum < 0 {
		return false, err
	}
	return e.store.Delete(key, pageNum)
}

// Scan calls fn for every record in key order.
func (e *Engine) Scan(includeDeleted bool, fn func(rec table.Record) error) error {
	return e.store.Walk(includeDeleted, fn)
}

// IndexEntries returns the sparse index entries in page order.
func (e *Engine) IndexEntries() ([]index.Entry, error) {
	return e.index.Entries()
}

// SmallestKey returns the smallest indexed key, or -1 for an empty store.
func (e *Engine) SmallestKey() int32 {
	return e.index.SmallestKey()
}

// PrimaryPages calls fn with every primary page.
func (e *Engine) PrimaryPages(fn func(page table.RecordPage) error) error {
	return e.store.Pages(fn)
}

// OverflowPages calls fn with every overflow page.
func (e *Engine) OverflowPages(fn func(page table.RecordPage) error) error {
	return e.store.Overflow().Pages(fn)
}

// InsertedRecordAmount returns the number of records placed in the primary
// and overflow files, tombstones included.
func (e *Engine) InsertedRecordAmount() int {
	return e.store.Inserted()
}

// DeletedRecordAmount returns the number of tombstoned records.
func (e *Engine) DeletedRecordAmount() int {
	return e.store.Deleted()
}

// OverflowRatio returns overflow records / inserted records.
func (e *Engine) OverflowRatio() float64 {
	total := e.store.Inserted()
	if total == 0 {
		return 0
	}
	return float64(e.store.Overflow().File().Inserted()) / float64(total)
}

// DeletionRatio returns tombstoned records / inserted records.
func (e *Engine) DeletionRatio() float64 {
	total := e.store.Inserted()
	if total == 0 {
		return 0
	}
	return float64(e.store.Deleted()) / float64(total)
}

// OverflowThreshold returns the configured overflow threshold.
func (e *Engine) OverflowThreshold() float64 {
	return e.overflowThreshold
}

// DeletionThreshold returns the configured deletion threshold.
func (e *Engine) DeletionThreshold() float64 {
	return e.deletionThreshold
}

// OverflowReachedThreshold reports whether the overflow ratio reached its threshold.
func (e *Engine) OverflowReachedThreshold() bool {
	return e.OverflowRatio() >= e.overflowThreshold
}

// DeletionReachedThreshold reports whether the deletion ratio reached its threshold.
func (e *Engine) DeletionReachedThreshold() bool {
	return e.DeletionRatio() >= e.deletionThreshold
}

// NeedsReorganization reports whether either threshold is reached.
func (e *Engine) NeedsReorganization() bool {
	return e.OverflowReachedThreshold() || e.DeletionReachedThreshold()
}

// AutoReorganize reports whether automatic reorganization is enabled.
func (e *Engine) AutoReorganize() bool {
	return e.autoReorganize
}

// SetAutoReorganize enables or disables automatic reorganization.
func (e *Engine) SetAutoReorganize(enabled bool) {
	e.autoReorganize = enabled
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		PageSize:          e.pageSize,
		Index:             fileStats(e.index.File()),
		Primary:           fileStats(e.store.Primary()),
		Overflow:          fileStats(e.store.Overflow().File()),
		Retired:           e.retired,
		Reorganizations:   e.reorganizations,
		OverflowRatio:     e.OverflowRatio(),
		DeletionRatio:     e.DeletionRatio(),
		OverflowThreshold: e.overflowThreshold,
		DeletionThreshold: e.deletionThreshold,
		AutoReorganize:    e.autoReorganize,
	}
	s.Cumulative = s.Retired.Add(s.Index.IO).Add(s.Primary.IO).Add(s.Overflow.IO)
	return s
}

// Flush writes back every cached page and saves the manifest.
func (e *Engine) Flush() error {
	if err := e.index.Flush(); err != nil {
		return err
	}
	if err := e.store.Flush(); err != nil {
		return err
	}
	return catalog.Save(context.Background(), e.fs, e.manifestPath(), e.manifest())
}

// Close flushes and closes the store.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.closeFiles()
		return err
	}
	return e.closeFiles()
}

// Cleanup deletes every file of the store and starts over empty.
func (e *Engine) Cleanup() error {
	if err := e.closeFiles(); err != nil {
		return err
	}
	if err := e.removeFiles(context.Background()); err != nil {
		return err
	}
	e.retired = storage.IOStats{}
	e.reorganizations = 0
	e.pageSize = e.opts.pageSize
	if err := e.openFiles(); err != nil {
		return err
	}
	e.logger.Info().Str("dir", e.dir).Msg("store cleaned up")
	return nil
}

func (e *Engine) removeFiles(ctx context.Context) error {
	for _, name := range []string{IndexFileName, PrimaryFileName, OverflowFileName, catalog.FileName, catalog.TempName} {
		path := e.path(name)
		ok, err := e.fs.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
		if !ok {
			continue
		}
		if err := e.fs.Delete(ctx, path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return nil
}
