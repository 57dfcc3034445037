package isam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cabewaldrop/isamdb/internal/catalog"
	"github.com/cabewaldrop/isamdb/internal/index"
	"github.com/cabewaldrop/isamdb/internal/storage"
	"github.com/cabewaldrop/isamdb/internal/table"
)

// maybeReorganize runs a reorganization ahead of a mutating operation when
// automatic reorganization is on and a threshold is reached.
func (e *Engine) maybeReorganize() error {
	if !e.autoReorganize || !e.NeedsReorganization() {
		return nil
	}
	e.logger.Warn().
		Float64("overflow_ratio", e.OverflowRatio()).
		Float64("deletion_ratio", e.DeletionRatio()).
		Msg("threshold reached, reorganizing")
	_, err := e.Reorganize(true)
	return err
}

// recordsPerPage is the number of records reorganization puts on each
// primary page.
func (e *Engine) recordsPerPage() int {
	n := int(math.Floor(float64(e.pageSize) * e.opts.fillFactor))
	return max(n, 1)
}

// Reorganize rebuilds the store when a threshold is reached or force is
// set, and reports whether it ran.
//
// Live records are written in key order into new files next to the current
// ones. Only after the rebuild succeeded are the current files replaced; a
// failure before that point leaves the store untouched.
func (e *Engine) Reorganize(force bool) (bool, error) {
	if !force && !e.NeedsReorganization() {
		return false, nil
	}
	if err := e.reorganize(context.Background()); err != nil {
		return false, fmt.Errorf("reorganize: %w", err)
	}
	return true, nil
}

type rebuildFiles struct {
	index *index.Index
	store *table.Store
	paths map[string]string // canonical path -> temporary path
}

func (r *rebuildFiles) discard() {
	if r.store != nil {
		r.store.Close()
	}
	if r.index != nil {
		r.index.Close()
	}
	for _, tmp := range r.paths {
		os.Remove(tmp)
	}
}

func (e *Engine) reorganize(ctx context.Context) error {
	before := e.InsertedRecordAmount()
	deleted := e.DeletedRecordAmount()
	e.logger.Info().Int("records", before).Int("deleted", deleted).Msg("reorganization started")

	r, count, err := e.rebuild()
	if err != nil {
		r.discard()
		return err
	}

	// Point of no return: the old files are closed and replaced.
	if err := e.closeFiles(); err != nil {
		r.discard()
		return err
	}
	e.retired = e.retired.
		Add(e.index.File().Stats()).
		Add(e.store.Primary().Stats()).
		Add(e.store.Overflow().File().Stats())

	// Move each rebuilt file over its canonical name.
	for canonical, tmp := range r.paths {
		ok, err := e.fs.Exists(ctx, canonical)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", canonical, err)
		}
		if ok {
			if err := e.fs.Delete(ctx, canonical); err != nil {
				return fmt.Errorf("failed to delete %s: %w", canonical, err)
			}
		}
		if err := e.fs.Move(ctx, tmp, canonical); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", tmp, err)
		}
	}
	// The open handles followed the move; only their recorded paths change.
	r.index.File().Rename(e.path(IndexFileName))
	r.store.Primary().Rename(e.path(PrimaryFileName))
	r.store.Overflow().File().Rename(e.path(OverflowFileName))

	e.index, e.store = r.index, r.store
	e.reorganizations++

	// Counters changed with the files; the manifest has to follow.
	if err := catalog.Save(ctx, e.fs, e.manifestPath(), e.manifest()); err != nil {
		return err
	}
	e.logger.Info().
		Int("records", count).
		Int("discarded", before-count).
		Int("pages", e.store.PageAmount()).
		Msg("reorganization finished")
	return nil
}

// rebuild writes every live record, in key order, into new files.
func (e *Engine) rebuild() (*rebuildFiles, int, error) {
	// index.dat -> index.reorg-<uuid>.dat
	id := uuid.NewString()
	r := &rebuildFiles{paths: map[string]string{}}
	for _, name := range []string{IndexFileName, PrimaryFileName, OverflowFileName} {
		ext := filepath.Ext(name)
		r.paths[e.path(name)] = e.path(strings.TrimSuffix(name, ext) + ".reorg-" + id + ext)
	}

	var err error
	r.index, err = index.Open(r.paths[e.path(IndexFileName)], e.pageSize, storage.WithLock())
	if err != nil {
		return r, 0, err
	}
	r.store, err = table.OpenStore(r.paths[e.path(PrimaryFileName)], r.paths[e.path(OverflowFileName)], e.pageSize, e.logger)
	if err != nil {
		return r, 0, err
	}

	// Records arrive in key order, so each one is appended to the current
	// page and every perPage-th record starts a page and an index entry.
	perPage := e.recordsPerPage()
	count := 0
	err = e.store.Walk(false, func(rec table.Record) error {
		// Chains are flattened, so no record keeps a link.
		rec.Deleted = false
		rec.Next = table.NoLink
		target := int32(count / perPage)
		if count%perPage == 0 {
			if err := r.index.Insert(index.Entry{Key: rec.Key, PageNumber: target}); err != nil {
				return err
			}
		}
		if err := r.store.AppendAt(rec, target); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return r, 0, err
	}

	if err := errors.Join(r.index.Flush(), r.store.Flush()); err != nil {
		return r, 0, err
	}
	return r, count, nil
}
