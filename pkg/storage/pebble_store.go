package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleKV is the durable KV used by ledger stores and the event log.
type PebbleKV struct {
	db *pebble.DB
}

// NewPebbleKV opens (or creates) a Pebble database at path
func NewPebbleKV(path string) (*PebbleKV, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:                32 << 20,
		MaxConcurrentCompactions:    func() int { return 2 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleKV{db: db}, nil
}

func (s *PebbleKV) Close() error { return s.db.Close() }

func (s *PebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleKV) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		// iterator buffers are reused between steps
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Apply commits all writes in one synced batch.
func (s *PebbleKV) Apply(writes []Write) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, w := range writes {
		var err error
		if w.Value == nil {
			err = batch.Delete(w.Key, nil)
		} else {
			err = batch.Set(w.Key, w.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", w.Key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

var _ KV = (*PebbleKV)(nil)
