package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/util"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

type StoreConfig struct {
	Kind Kind
	// Address identifies the store in the coordinator's registry.
	Address common.Address
	// Owner may rebind the store to a coordinator.
	Owner  common.Address
	KV     storage.KV
	Logger *zap.SugaredLogger
}

// Store owns every queue of one asset kind. Writes go through a Session
// that only the bound coordinator can open; reads are unrestricted.
type Store struct {
	kind  Kind
	addr  common.Address
	owner common.Address
	kv    storage.KV
	log   *zap.SugaredLogger

	mu     sync.RWMutex
	master common.Address

	// commit is held for writing while a session lands its batch, so
	// multi-key reads see one commit or the next, never half of one.
	commit sync.RWMutex
}

func NewStore(cfg StoreConfig) *Store {
	return &Store{
		kind:  cfg.Kind,
		addr:  cfg.Address,
		owner: cfg.Owner,
		kv:    cfg.KV,
		log:   util.OrNop(cfg.Logger),
	}
}

func (s *Store) Kind() Kind              { return s.kind }
func (s *Store) Address() common.Address { return s.addr }
func (s *Store) Owner() common.Address   { return s.owner }

// Master returns the coordinator currently allowed to write.
func (s *Store) Master() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.master
}

// CanBind reports whether caller may move the write capability.
func (s *Store) CanBind(caller common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canBind(caller)
}

func (s *Store) canBind(caller common.Address) bool {
	return caller == s.owner || (caller != (common.Address{}) && caller == s.master)
}

// Bind hands the write capability to master. Only the store owner or the
// current master may do so.
func (s *Store) Bind(caller, master common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canBind(caller) {
		return xerr.New(xerr.PermissionDenied, xerr.MsgNotOwner)
	}
	s.log.Infow("ledger_store_bound", "store", s.addr.Hex(), "kind", s.kind.String(), "master", master.Hex())
	s.master = master
	return nil
}

// Begin opens a write session for caller, who must be the bound master.
func (s *Store) Begin(caller common.Address) (*Session, error) {
	s.mu.RLock()
	master := s.master
	s.mu.RUnlock()
	if caller == (common.Address{}) || caller != master {
		return nil, xerr.New(xerr.InvalidRegistration, xerr.MsgNotMasterExchange)
	}
	return &Session{store: s, pending: make(map[string][]byte)}, nil
}

// Close releases the backing KV.
func (s *Store) Close() error { return s.kv.Close() }

// ==============================
// Committed reads
// ==============================

// IndexRange returns the committed cursor of key.
func (s *Store) IndexRange(key QueueKey) (Cursor, error) {
	return readCursor(s.kv.Get, key)
}

// Peek returns the committed slot at index, or a zero Order outside [turn, end).
func (s *Store) Peek(key QueueKey, index uint64) (Order, error) {
	return readOrder(s.kv.Get, key, index)
}

// Orders returns every slot in [turn, end) of key, including zeroed ones.
func (s *Store) Orders(key QueueKey) ([]Slot, error) {
	_, slots, err := s.Snapshot(key)
	return slots, err
}

// Snapshot returns the cursor of key and its [turn, end) slots as of a
// single commit.
func (s *Store) Snapshot(key QueueKey) (Cursor, []Slot, error) {
	s.commit.RLock()
	defer s.commit.RUnlock()
	cur, err := s.IndexRange(key)
	if err != nil {
		return cur, nil, err
	}
	slots := make([]Slot, 0, cur.End-cur.Turn)
	for i := cur.Turn; i < cur.End; i++ {
		o, err := s.Peek(key, i)
		if err != nil {
			return cur, nil, err
		}
		slots = append(slots, Slot{Index: i, Order: o})
	}
	return cur, slots, nil
}

// Prices lists, ascending, every price that ever held an order for tokenID
// on side. Entries are never removed.
func (s *Store) Prices(payment, target common.Address, tokenID *uint256.Int, side Side) ([]uint256.Int, error) {
	prefix := priceIndexPrefix(payment, target, side, tokenID)
	return s.scanWords(prefix)
}

// TokenIDs lists, ascending, every tokenId that ever held an order on side.
func (s *Store) TokenIDs(payment, target common.Address, side Side) ([]uint256.Int, error) {
	return s.scanWords(idIndexPrefix(payment, target, side))
}

func (s *Store) scanWords(prefix []byte) ([]uint256.Int, error) {
	var out []uint256.Int
	err := storage.ScanPrefix(s.kv, prefix, func(key, _ []byte) error {
		w, err := parseWord(strings.TrimPrefix(string(key), string(prefix)))
		if err != nil {
			return err
		}
		out = append(out, w)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}
	return out, nil
}

// ==============================
// Shared decoding
// ==============================

type getFunc func(key []byte) ([]byte, error)

func readCursor(get getFunc, key QueueKey) (Cursor, error) {
	var cur Cursor
	data, err := get(cursorKey(key))
	if err != nil {
		return cur, fmt.Errorf("failed to load cursor: %w", err)
	}
	if data == nil {
		return cur, nil
	}
	if err := json.Unmarshal(data, &cur); err != nil {
		return cur, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	return cur, nil
}

func readOrder(get getFunc, key QueueKey, index uint64) (Order, error) {
	cur, err := readCursor(get, key)
	if err != nil {
		return Order{}, err
	}
	if index < cur.Turn || index >= cur.End {
		return Order{}, nil
	}
	var o Order
	data, err := get(orderKey(key, index))
	if err != nil {
		return o, fmt.Errorf("failed to load order: %w", err)
	}
	if data == nil {
		return o, nil
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return o, nil
}
