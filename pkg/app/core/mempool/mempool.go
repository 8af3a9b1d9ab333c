// Package mempool queues signed requests for the sequencer. Cancels are
// drained before orders so a maker can always pull an offer ahead of
// takers admitted in the same batch.
package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

type TxType int

const (
	TxOrder TxType = iota
	TxCancel
)

func (t TxType) String() string {
	if t == TxCancel {
		return "cancel"
	}
	return "order"
}

// ClassifyRaw reads the "type" field of a JSON envelope. Anything that is
// not a cancel, including malformed bytes, is queued as an order and
// rejected by the sequencer when applied.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrder
	}
	if envelope.Type == "cancel" {
		return TxCancel
	}
	return TxOrder
}

// Entry is one admitted transaction.
type Entry struct {
	ID    string
	Type  TxType
	Bytes []byte
}

// Mempool holds two FIFO queues, cancels and orders.
type Mempool struct {
	mu       sync.Mutex
	capacity int
	cancel   []Entry
	orders   []Entry
}

// NewMempool returns a pool holding at most capacity entries; 0 is unbounded.
func NewMempool(capacity int) *Mempool {
	return &Mempool{capacity: capacity}
}

// Push classifies and enqueues a copy of b.
func (m *Mempool) Push(id string, b []byte) error {
	e := Entry{ID: id, Type: ClassifyRaw(b), Bytes: append([]byte(nil), b...)}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 && len(m.cancel)+len(m.orders) >= m.capacity {
		return xerr.New(xerr.InvalidRequest, "mempool full")
	}
	if e.Type == TxCancel {
		m.cancel = append(m.cancel, e)
	} else {
		m.orders = append(m.orders, e)
	}
	return nil
}

// Select removes and returns up to maxTxs entries totalling at most
// maxBytes, cancels first. A limit of 0 is no limit.
func (m *Mempool) Select(maxTxs int, maxBytes int64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		out  []Entry
		used int64
	)
	pull := func(q *[]Entry) {
		for len(*q) > 0 {
			e := (*q)[0]
			n := int64(len(e.Bytes))
			if maxTxs > 0 && len(out) >= maxTxs {
				return
			}
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, e)
			used += n
			*q = (*q)[1:]
		}
	}
	pull(&m.cancel)
	pull(&m.orders)
	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancel) + len(m.orders)
}
