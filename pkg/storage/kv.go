package storage

import (
	"encoding/json"
	"fmt"
)

// Write is one staged mutation. A nil Value deletes the key.
type Write struct {
	Key   []byte
	Value []byte
}

// KV is the ordered key/value contract the ledger and the event log are
// written against. Apply must be atomic: either every write lands or none.
type KV interface {
	// Get returns nil, nil when the key does not exist.
	Get(key []byte) ([]byte, error)
	// Scan visits keys in [lower, upper) in ascending order.
	Scan(lower, upper []byte, fn func(key, value []byte) error) error
	Apply(writes []Write) error
	Close() error
}

// PrefixUpperBound returns the exclusive upper bound for a prefix scan
func PrefixUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}

// ScanPrefix visits every key starting with prefix.
func ScanPrefix(kv KV, prefix []byte, fn func(key, value []byte) error) error {
	return kv.Scan(prefix, PrefixUpperBound(prefix), fn)
}

// GetJSON loads key into v. It reports false when the key is missing.
func GetJSON(kv KV, key []byte, v any) (bool, error) {
	data, err := kv.Get(key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
