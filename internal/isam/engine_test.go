package isam

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabewaldrop/isamdb/internal/catalog"
	"github.com/cabewaldrop/isamdb/internal/storage"
	"github.com/cabewaldrop/isamdb/internal/table"
)

func openTestEngine(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func insertKeys(t *testing.T, e *Engine, keys ...int32) {
	t.Helper()
	for _, k := range keys {
		_, err := e.Insert(table.NewRecord(k, float64(k), float64(k)*2, float64(k)*3))
		require.NoError(t, err, "insert %d", k)
	}
}

// liveSet returns key -> payload of every live record, checking that the
// scan yields strictly ascending keys.
func liveSet(t *testing.T, e *Engine) map[int32][3]float64 {
	t.Helper()
	set := map[int32][3]float64{}
	last := int32(-1)
	require.NoError(t, e.Scan(false, func(rec table.Record) error {
		assert.Greater(t, rec.Key, last, "scan out of order")
		last = rec.Key
		set[rec.Key] = [3]float64{rec.A, rec.B, rec.H}
		return nil
	}))
	return set
}

func TestEnginePageSizeFourScenario(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(4))

	insertKeys(t, e, 0, 1, 2, 3)
	assert.Equal(t, 1, e.Stats().Primary.Pages)
	assert.Equal(t, 0, e.Stats().Overflow.Inserted)

	res, err := e.Insert(table.NewRecord(4, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, table.NewPage, res)
	entries, err := e.IndexEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int32(0), entries[0].PageNumber)
	assert.Equal(t, int32(1), entries[1].PageNumber)

	_, err = e.Insert(table.NewRecord(2, 1, 2, 3))
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	ok, err := e.Delete(1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = e.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = e.Get(2)
	require.NoError(t, err)
	assert.True(t, ok)

	ran, err := e.Reorganize(true)
	require.NoError(t, err)
	assert.True(t, ran)

	assert.Len(t, liveSet(t, e), 4)
	assert.Equal(t, 0, e.DeletedRecordAmount())
	assert.Equal(t, 4, e.InsertedRecordAmount())
}

func TestEngineInvalidKey(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	_, err := e.Insert(table.NewRecord(-1, 0, 0, 0))
	assert.True(t, errors.Is(err, ErrInvalidKey))
	assert.Equal(t, 0, e.InsertedRecordAmount())

	_, ok, err := e.Get(-1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.Delete(-5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineEmptyStore(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	_, ok, err := e.Get(7)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.Update(table.NewRecord(7, 0, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.Delete(7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(-1), e.SmallestKey())
	assert.Zero(t, e.OverflowRatio())
	assert.Zero(t, e.DeletionRatio())
	assert.False(t, e.NeedsReorganization())
}

func TestEngineGetIsIdempotent(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2))
	insertKeys(t, e, 10, 20, 30, 15, 17, 16)

	first, ok, err := e.Get(16)
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		again, ok, err := e.Get(16)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestEngineSmallerThanSmallest(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2))
	insertKeys(t, e, 10, 20, 30)

	res, err := e.Insert(table.NewRecord(5, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, table.NewSmallestKey, res)
	assert.Equal(t, int32(5), e.SmallestKey())

	res, err = e.Insert(table.NewRecord(1, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, table.NewSmallestKey, res)
	assert.Equal(t, int32(1), e.SmallestKey())

	for _, k := range []int32{1, 5, 10, 20, 30} {
		_, ok, err := e.Get(k)
		require.NoError(t, err)
		assert.True(t, ok, "key %d", k)
	}
	keys := make([]int32, 0)
	for k := range liveSet(t, e) {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	assert.Equal(t, []int32{1, 5, 10, 20, 30}, keys)
}

func TestEngineUpdate(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2))
	insertKeys(t, e, 10, 20, 30, 15)

	ok, err := e.Update(table.NewRecord(15, 9, 8, 7))
	require.NoError(t, err)
	assert.True(t, ok)
	rec, _, err := e.Get(15)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{9, 8, 7}, [3]float64{rec.A, rec.B, rec.H})

	ok, err = e.Update(table.NewRecord(16, 9, 8, 7))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineReviveDeletedKey(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2))
	insertKeys(t, e, 10, 20, 30, 15)

	_, err := e.Delete(15)
	require.NoError(t, err)
	assert.Equal(t, 1, e.DeletedRecordAmount())

	_, err = e.Insert(table.NewRecord(15, 5, 5, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, e.DeletedRecordAmount())
	assert.Equal(t, 4, e.InsertedRecordAmount())

	rec, ok, err := e.Get(15)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, rec.A)
}

func TestEngineOverflowThreshold(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2), WithOverflowThreshold(0.5))
	insertKeys(t, e, 10, 20, 30)
	assert.False(t, e.NeedsReorganization())

	// Page 0 is full and not last, so these all overflow behind 10.
	insertKeys(t, e, 11)
	assert.InDelta(t, 0.25, e.OverflowRatio(), 1e-9)
	assert.False(t, e.NeedsReorganization())

	insertKeys(t, e, 12)
	assert.InDelta(t, 0.4, e.OverflowRatio(), 1e-9)
	assert.False(t, e.NeedsReorganization())

	insertKeys(t, e, 13)
	assert.InDelta(t, 0.5, e.OverflowRatio(), 1e-9)
	assert.True(t, e.OverflowReachedThreshold())
	assert.True(t, e.NeedsReorganization())

	ran, err := e.Reorganize(false)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, e.OverflowRatio())

	ran, err = e.Reorganize(false)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestEngineDeletionThreshold(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(4), WithDeletionThreshold(0.3))
	insertKeys(t, e, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	for _, k := range []int32{1, 2} {
		_, err := e.Delete(k)
		require.NoError(t, err)
	}
	assert.False(t, e.DeletionReachedThreshold())

	_, err := e.Delete(3)
	require.NoError(t, err)
	assert.True(t, e.DeletionReachedThreshold())
	assert.True(t, e.NeedsReorganization())
}

func TestEngineAutoReorganize(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2), WithAutoReorganize(true))
	insertKeys(t, e, 10, 20, 30, 11, 12, 13)
	assert.True(t, e.NeedsReorganization())
	assert.Equal(t, 0, e.Stats().Reorganizations)

	// Reads never reorganize.
	_, _, err := e.Get(11)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Stats().Reorganizations)

	insertKeys(t, e, 40)
	assert.Equal(t, 1, e.Stats().Reorganizations)
	assert.False(t, e.NeedsReorganization())
	assert.Len(t, liveSet(t, e), 7)

	e.SetAutoReorganize(false)
	assert.False(t, e.AutoReorganize())
}

func TestEngineReorganizePreservesLiveSet(t *testing.T) {
	rng := rand.New(rand.NewSource(12345))
	e := openTestEngine(t, t.TempDir(), WithPageSize(3))

	inserted, err := e.RandomInsert(rng, 0, 300, 150)
	require.NoError(t, err)
	require.Len(t, inserted, 150)
	deleted, err := e.RandomDelete(rng, 0, 300, 40)
	require.NoError(t, err)
	require.Len(t, deleted, 40)

	before := liveSet(t, e)
	require.Len(t, before, 110)

	ran, err := e.Reorganize(true)
	require.NoError(t, err)
	require.True(t, ran)

	assert.Equal(t, before, liveSet(t, e))
	assert.Equal(t, 0, e.DeletedRecordAmount())
	assert.Equal(t, 0, e.Stats().Overflow.Inserted)
	assert.Equal(t, 110, e.InsertedRecordAmount())
	assert.Equal(t, 37, e.Stats().Primary.Pages)

	for k, payload := range before {
		rec, ok, err := e.Get(k)
		require.NoError(t, err)
		require.True(t, ok, "key %d", k)
		assert.Equal(t, payload, [3]float64{rec.A, rec.B, rec.H})
	}
	for _, k := range deleted {
		_, ok, err := e.Get(k)
		require.NoError(t, err)
		assert.False(t, ok, "deleted key %d", k)
	}
}

func TestEngineRandomOpsKeepOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := openTestEngine(t, t.TempDir(), WithPageSize(4))

	want := map[int32]bool{}
	for round := 0; round < 5; round++ {
		keys, err := e.RandomInsert(rng, 0, 500, 60)
		require.NoError(t, err)
		for _, k := range keys {
			want[k] = true
		}
		gone, err := e.RandomDelete(rng, 0, 500, 15)
		require.NoError(t, err)
		for _, k := range gone {
			delete(want, k)
		}
	}

	got := liveSet(t, e)
	assert.Len(t, got, len(want))
	for k := range want {
		_, ok := got[k]
		assert.True(t, ok, "key %d", k)
	}
}

func TestEnginePageSizeOne(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(1))
	insertKeys(t, e, 75, 24)

	// 75 now hangs off the last slot of the only page; 43 belongs in that
	// chain, not on a new page.
	result, err := e.Insert(table.NewRecord(43, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, table.OverflowExistingChain, result)
	assert.Equal(t, 1, e.Stats().Primary.Pages)

	result, err = e.Insert(table.NewRecord(100, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, table.NewPage, result)

	assert.Equal(t, []int32{24, 43, 75, 100}, scanKeys(t, e))
	entries, err := e.IndexEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int32(24), entries[0].Key)
	assert.Equal(t, int32(100), entries[1].Key)

	ran, err := e.Reorganize(true)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, []int32{24, 43, 75, 100}, scanKeys(t, e))

	_, err = e.Insert(table.NewRecord(43, 1, 2, 3))
	assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)
}

func TestEngineMatchesModel(t *testing.T) {
	for pageSize := 1; pageSize <= 3; pageSize++ {
		for seed := int64(1); seed <= 20; seed++ {
			rng := rand.New(rand.NewSource(seed))
			e := openTestEngine(t, t.TempDir(), WithPageSize(pageSize))
			model := map[int32]bool{}

			for step := 0; step < 80; step++ {
				key := int32(rng.Intn(60))
				switch op := rng.Intn(10); {
				case op < 6:
					_, err := e.Insert(table.NewRecord(key, 1, 2, 3))
					if model[key] {
						require.ErrorIs(t, err, ErrDuplicateKey, "page size %d seed %d step %d key %d", pageSize, seed, step, key)
					} else {
						require.NoError(t, err)
						model[key] = true
					}
				case op < 9:
					ok, err := e.Delete(key)
					require.NoError(t, err)
					require.Equal(t, model[key], ok, "page size %d seed %d step %d key %d", pageSize, seed, step, key)
					delete(model, key)
				default:
					_, err := e.Reorganize(true)
					require.NoError(t, err)
				}
			}

			want := make([]int32, 0, len(model))
			for k := range model {
				want = append(want, k)
			}
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			require.Equal(t, want, scanKeys(t, e), "page size %d seed %d", pageSize, seed)
		}
	}
}

// scanKeys returns the live keys in traversal order.
func scanKeys(t *testing.T, e *Engine) []int32 {
	t.Helper()
	keys := []int32{}
	require.NoError(t, e.Scan(false, func(rec table.Record) error {
		keys = append(keys, rec.Key)
		return nil
	}))
	return keys
}

func TestEngineFillFactor(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(4), WithFillFactor(0.5))
	insertKeys(t, e, 0, 10, 20, 30, 40, 50, 60, 70)

	_, err := e.Reorganize(true)
	require.NoError(t, err)
	assert.Equal(t, 4, e.Stats().Primary.Pages)
	entries, err := e.IndexEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	res, err := e.Insert(table.NewRecord(15, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, table.NoOverflow, res)
	assert.Equal(t, 0, e.Stats().Overflow.Inserted)
}

func TestEngineReorganizeEmptyStore(t *testing.T) {
	e := openTestEngine(t, t.TempDir(), WithPageSize(2))
	insertKeys(t, e, 1, 2)
	_, err := e.Delete(1)
	require.NoError(t, err)
	_, err = e.Delete(2)
	require.NoError(t, err)

	_, err = e.Reorganize(true)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), e.SmallestKey())
	assert.Equal(t, 0, e.InsertedRecordAmount())

	insertKeys(t, e, 3)
	_, ok, err := e.Get(3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngineReorganizeReplacesFiles(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, WithPageSize(2))
	insertKeys(t, e, 10, 20, 30, 11, 12)

	_, err := e.Reorganize(true)
	require.NoError(t, err)

	names := map[string]bool{}
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range files {
		names[f.Name()] = true
	}
	assert.Equal(t, map[string]bool{
		IndexFileName:    true,
		PrimaryFileName:  true,
		OverflowFileName: true,
		catalog.FileName: true,
	}, names)

	stats := e.Stats()
	assert.Equal(t, filepath.Join(dir, PrimaryFileName), stats.Primary.Path)
	assert.Greater(t, stats.Retired.Total(), 0)
	assert.Equal(t, stats.Retired.Add(stats.Index.IO).Add(stats.Primary.IO).Add(stats.Overflow.IO), stats.Cumulative)
	assert.Greater(t, stats.Primary.IO.Writes, 0, "rebuild writes stay visible")
}

func TestEngineReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithPageSize(2))
	require.NoError(t, err)
	insertKeys(t, e, 10, 20, 30, 11, 12)
	_, err = e.Delete(20)
	require.NoError(t, err)
	_, err = e.Reorganize(true)
	require.NoError(t, err)
	insertKeys(t, e, 13)
	_, err = e.Delete(11)
	require.NoError(t, err)
	want := liveSet(t, e)
	wantStats := e.Stats()
	require.NoError(t, e.Close())

	// The stored page size wins over the requested one.
	reopened := openTestEngine(t, dir, WithPageSize(8))
	assert.Equal(t, 2, reopened.PageSize())
	assert.Equal(t, want, liveSet(t, reopened))
	assert.Equal(t, wantStats.Primary.Inserted, reopened.Stats().Primary.Inserted)
	assert.Equal(t, wantStats.Overflow.Inserted, reopened.Stats().Overflow.Inserted)
	assert.Equal(t, 1, reopened.DeletedRecordAmount())
	assert.Equal(t, 1, reopened.Stats().Reorganizations)
	assert.Equal(t, int32(10), reopened.SmallestKey())
}

func TestEngineRecountWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithPageSize(2))
	require.NoError(t, err)
	insertKeys(t, e, 10, 20, 30, 11, 12)
	_, err = e.Delete(12)
	require.NoError(t, err)
	inserted, deleted := e.InsertedRecordAmount(), e.DeletedRecordAmount()
	overflow := e.Stats().Overflow.Inserted
	require.NoError(t, e.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, catalog.FileName)))

	reopened := openTestEngine(t, dir, WithPageSize(2))
	assert.Equal(t, inserted, reopened.InsertedRecordAmount())
	assert.Equal(t, deleted, reopened.DeletedRecordAmount())
	assert.Equal(t, overflow, reopened.Stats().Overflow.Inserted)
}

func TestEngineCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.FileName), []byte("not a manifest"), 0o644))

	_, err := Open(dir)
	assert.True(t, errors.Is(err, catalog.ErrCorruptManifest))
}

func TestEngineLocked(t *testing.T) {
	dir := t.TempDir()
	openTestEngine(t, dir)

	_, err := Open(dir)
	assert.True(t, errors.Is(err, storage.ErrLocked))
}

func TestEngineFreshAndCleanup(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	insertKeys(t, e, 1, 2, 3)
	require.NoError(t, e.Close())

	e = openTestEngine(t, dir, WithFresh(true))
	assert.Equal(t, 0, e.InsertedRecordAmount())
	_, ok, err := e.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)

	insertKeys(t, e, 4, 5)
	require.NoError(t, e.Flush())
	require.NoError(t, e.Cleanup())
	assert.Equal(t, 0, e.InsertedRecordAmount())
	assert.Equal(t, 0, e.Stats().Cumulative.Total())
	_, ok, err = e.Get(4)
	require.NoError(t, err)
	assert.False(t, ok)

	insertKeys(t, e, 6)
	_, ok, err = e.Get(6)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngineInvalidOptions(t *testing.T) {
	for _, opt := range []Option{
		WithPageSize(0),
		WithOverflowThreshold(0),
		WithDeletionThreshold(1.5),
		WithFillFactor(0),
	} {
		_, err := Open(t.TempDir(), opt)
		assert.True(t, errors.Is(err, ErrInvalidOption))
	}
}

func TestPool(t *testing.T) {
	pool := NewPool(rand.New(rand.NewSource(1)), 5, 10)
	seen := map[int32]bool{}
	for pool.Len() > 0 {
		k, ok := pool.Next()
		require.True(t, ok)
		assert.False(t, seen[k])
		assert.True(t, k >= 5 && k < 10)
		seen[k] = true
	}
	assert.Len(t, seen, 5)
	_, ok := pool.Next()
	assert.False(t, ok)

	assert.Equal(t, 0, NewPool(rand.New(rand.NewSource(1)), 10, 5).Len())
}

func TestRandomInsertExhaustsRange(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	rng := rand.New(rand.NewSource(3))

	keys, err := e.RandomInsert(rng, 0, 5, 10)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	keys, err = e.RandomInsert(rng, 0, 5, 3)
	require.NoError(t, err)
	assert.Empty(t, keys)

	gone, err := e.RandomDelete(rng, 0, 5, 2)
	require.NoError(t, err)
	assert.Len(t, gone, 2)
}
