package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var errClosed = errors.New("storage: closed")

// MemKV is an in-memory KV. It backs ephemeral devnets and tests; a fresh
// MemKV is an empty ledger.
type MemKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemKV) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errClosed
	}
	keys := make([]string, 0)
	for k := range m.data {
		kb := []byte(k)
		if bytes.Compare(kb, lower) < 0 {
			continue
		}
		if upper != nil && bytes.Compare(kb, upper) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = m.data[k]
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemKV) Apply(writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for _, w := range writes {
		if w.Value == nil {
			delete(m.data, string(w.Key))
			continue
		}
		m.data[string(w.Key)] = append([]byte(nil), w.Value...)
	}
	return nil
}

func (m *MemKV) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ KV = (*MemKV)(nil)
