// Package storage implements the persistence boundary named in spec §6:
// Merkle partition blobs plus a backup directory, an append-only chunked
// transcript, and the funding/price history records, all on
// github.com/cockroachdb/pebble. The tuned pebble.Options below are carried
// over from the teacher's account/store.go, which opens Pebble the same way
// for its own account/position/order/trade keyspace.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// DB wraps one Pebble handle shared by every keyspace in this package
// (partitions, backups, transcript chunks, funding/price history) -- the
// teacher keeps a single *pebble.DB per store too, differentiating by key
// prefix rather than by separate databases.
type DB struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path with the teacher's
// tuned options for a write-heavy, range-scan-heavy workload.
func Open(path string) (*DB, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20),
		MemTableSize:                64 << 20,
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble db at %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) set(key, val []byte, sync bool) error {
	opt := pebble.NoSync
	if sync {
		opt = pebble.Sync
	}
	return d.db.Set(key, val, opt)
}

func (d *DB) get(key []byte) ([]byte, bool, error) {
	val, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (d *DB) iterRange(lower, upper []byte) (*pebble.Iterator, error) {
	return d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
}

// keyUpperBound returns the exclusive upper bound for a prefix scan, the
// same increment-last-byte trick account/keys.go uses.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
