package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
)

// Event log key schema:
//
//	evt:seq          -> last assigned sequence (8-byte big endian)
//	evt:r:<seq%020d> -> JSON event record
const (
	prefixEventRecord = "evt:r:"
	keyEventSeq       = "evt:seq"
)

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEventRecord, seq))
}

// EventLog is an append-only journal of committed ledger events, used to
// serve recent history over the API.
type EventLog struct {
	mu  sync.Mutex
	kv  KV
	seq uint64
}

// NewEventLog opens the log on kv and resumes its sequence counter.
func NewEventLog(kv KV) (*EventLog, error) {
	l := &EventLog{kv: kv}
	raw, err := kv.Get([]byte(keyEventSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to load event sequence: %w", err)
	}
	if len(raw) == 8 {
		l.seq = binary.BigEndian.Uint64(raw)
	}
	return l, nil
}

// Append stores records in one atomic batch and returns the sequence of the
// last one.
func (l *EventLog) Append(records ...any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.seq
	writes := make([]Write, 0, len(records)+1)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event: %w", err)
		}
		seq++
		writes = append(writes, Write{Key: eventKey(seq), Value: data})
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	writes = append(writes, Write{Key: []byte(keyEventSeq), Value: buf[:]})

	if err := l.kv.Apply(writes); err != nil {
		return 0, fmt.Errorf("failed to append events: %w", err)
	}
	l.seq = seq
	return seq, nil
}

// Seq returns the sequence of the newest record.
func (l *EventLog) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Recent returns up to limit raw records, newest first.
func (l *EventLog) Recent(limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	last := l.Seq()
	var first uint64 = 1
	if last > uint64(limit) {
		first = last - uint64(limit) + 1
	}

	var out []json.RawMessage
	err := l.kv.Scan(eventKey(first), PrefixUpperBound([]byte(prefixEventRecord)), func(_, value []byte) error {
		out = append(out, json.RawMessage(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
