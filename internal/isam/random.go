package isam

import (
	"errors"
	"math/rand"

	"github.com/cabewaldrop/isamdb/internal/table"
)

// Pool hands out the keys of [from, to) once each, in random order.
type Pool struct {
	rng  *rand.Rand
	keys []int32
}

// NewPool returns a pool over [from, to). An empty or inverted range gives
// an empty pool.
func NewPool(rng *rand.Rand, from, to int32) *Pool {
	p := &Pool{rng: rng}
	for k := from; k < to; k++ {
		p.keys = append(p.keys, k)
	}
	return p
}

// Len returns the number of keys left.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Next removes and returns a random key. ok is false once the pool is empty.
func (p *Pool) Next() (key int32, ok bool) {
	if len(p.keys) == 0 {
		return 0, false
	}
	i := p.rng.Intn(len(p.keys))
	key = p.keys[i]
	last := len(p.keys) - 1
	p.keys[i] = p.keys[last]
	p.keys = p.keys[:last]
	return key, true
}

// RandomInsert inserts up to amount records with distinct random keys from
// [from, to). Keys that are already live are skipped. It returns the keys
// inserted, which is shorter than amount when the range ran out.
func (e *Engine) RandomInsert(rng *rand.Rand, from, to int32, amount int) ([]int32, error) {
	pool := NewPool(rng, from, to)
	var inserted []int32
	for len(inserted) < amount {
		key, ok := pool.Next()
		if !ok {
			break
		}
		rec := table.NewRecord(key, rng.Float64()*100, rng.Float64()*100, rng.Float64()*100)
		if _, err := e.Insert(rec); err != nil {
			if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrInvalidKey) {
				continue
			}
			return inserted, err
		}
		inserted = append(inserted, key)
	}
	return inserted, nil
}

// RandomDelete deletes up to amount live records with random keys from
// [from, to). It returns the keys deleted.
func (e *Engine) RandomDelete(rng *rand.Rand, from, to int32, amount int) ([]int32, error) {
	pool := NewPool(rng, from, to)
	var deleted []int32
	for len(deleted) < amount {
		key, ok := pool.Next()
		if !ok {
			break
		}
		found, err := e.Delete(key)
		if err != nil {
			return deleted, err
		}
		if found {
			deleted = append(deleted, key)
		}
	}
	return deleted, nil
}
