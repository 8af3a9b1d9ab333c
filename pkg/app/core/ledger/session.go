package ledger

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Session buffers queue writes over the committed state. Nothing is visible
// to readers until Commit, which lands every write in one KV batch.
type Session struct {
	store   *Store
	pending map[string][]byte
	done    bool
}

func (t *Session) get(key []byte) ([]byte, error) {
	if v, ok := t.pending[string(key)]; ok {
		return v, nil
	}
	return t.store.kv.Get(key)
}

func (t *Session) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	t.pending[string(key)] = data
	return nil
}

// uniqueSell reports whether key is the single-slot side of a unique asset.
func (t *Session) uniqueSell(key QueueKey) bool {
	return t.store.kind == Unique && key.Side == Sell
}

func (t *Session) IndexRange(key QueueKey) (Cursor, error) {
	return readCursor(t.get, key)
}

func (t *Session) Peek(key QueueKey, index uint64) (Order, error) {
	return readOrder(t.get, key, index)
}

// Append queues o at the end of key and returns its orderIndex. On the sell
// side of a unique asset the single slot 0 is overwritten instead.
func (t *Session) Append(key QueueKey, o Order) (uint64, error) {
	if o.Amount == 0 {
		return 0, xerr.New(xerr.InvalidRequest, "order amount must be positive")
	}
	cur, err := t.IndexRange(key)
	if err != nil {
		return 0, err
	}

	var index uint64
	if t.uniqueSell(key) {
		o.Amount = 1
		index = 0
		cur = Cursor{Turn: 0, End: 1}
	} else {
		index = cur.End
		cur.End++
	}

	if err := t.put(orderKey(key, index), o); err != nil {
		return 0, err
	}
	if err := t.put(cursorKey(key), cur); err != nil {
		return 0, err
	}
	t.pending[string(priceIndexKey(key))] = []byte{1}
	t.pending[string(idIndexKey(key))] = []byte{1}
	return index, nil
}

// AdvanceTurn moves the turn cursor past the current slot. The unique sell
// slot never advances; it is zeroed in place instead.
func (t *Session) AdvanceTurn(key QueueKey) error {
	if t.uniqueSell(key) {
		return nil
	}
	cur, err := t.IndexRange(key)
	if err != nil {
		return err
	}
	if cur.Turn >= cur.End {
		return nil
	}
	cur.Turn++
	return t.put(cursorKey(key), cur)
}

// SetAmount rewrites the amount of a slot inside [turn, end).
func (t *Session) SetAmount(key QueueKey, index uint64, amount uint64) error {
	cur, err := t.IndexRange(key)
	if err != nil {
		return err
	}
	if index < cur.Turn || index >= cur.End {
		return xerr.Newf(xerr.InvalidOrder, "order index %d outside [%d, %d)", index, cur.Turn, cur.End)
	}
	o, err := t.Peek(key, index)
	if err != nil {
		return err
	}
	o.Amount = amount
	return t.put(orderKey(key, index), o)
}

// Commit applies every buffered write atomically. A session commits once.
func (t *Session) Commit() error {
	if t.done {
		return fmt.Errorf("ledger session already finished")
	}
	t.done = true
	if len(t.pending) == 0 {
		return nil
	}

	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writes := make([]storage.Write, 0, len(keys))
	for _, k := range keys {
		writes = append(writes, storage.Write{Key: []byte(k), Value: t.pending[k]})
	}
	t.store.commit.Lock()
	defer t.store.commit.Unlock()
	if err := t.store.kv.Apply(writes); err != nil {
		return fmt.Errorf("failed to commit ledger session: %w", err)
	}
	return nil
}

// Discard drops every buffered write.
func (t *Session) Discard() {
	t.done = true
	t.pending = nil
}
