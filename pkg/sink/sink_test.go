package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/storage"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var target = common.HexToAddress("0x1155000000000000000000000000000000000000")

func sampleEvents() []exchange.Event {
	return []exchange.Event{
		{Type: exchange.EventAddSell, Target: target, TokenID: uint256.NewInt(7), Price: uint256.NewInt(10), Amount: 3},
		{Type: exchange.EventCancelSell, Target: target, TokenID: uint256.NewInt(7), Price: uint256.NewInt(10), Amount: 3},
	}
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w, 0, nil)
	if err := s.Deliver(context.Background(), sampleEvents()); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(w.msgs))
	}
	wantKey := target.Hex() + ":7"
	if got := string(w.msgs[0].Key); got != wantKey {
		t.Errorf("key = %s, want %s", got, wantKey)
	}
	if got := string(w.msgs[1].Headers[0].Value); got != string(exchange.EventCancelSell) {
		t.Errorf("type header = %s", got)
	}

	w.err = errors.New("broker down")
	if err := s.Deliver(context.Background(), sampleEvents()); err == nil {
		t.Error("writer error swallowed")
	}
}

func TestEventLogSink(t *testing.T) {
	l, err := storage.NewEventLog(storage.NewMemKV())
	if err != nil {
		t.Fatal(err)
	}
	s := NewEventLogSink(l)
	if err := s.Deliver(context.Background(), sampleEvents()); err != nil {
		t.Fatal(err)
	}
	recent, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("records = %d, want 2", len(recent))
	}
	var newest struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(recent[0], &newest); err != nil {
		t.Fatal(err)
	}
	if newest.Type != string(exchange.EventCancelSell) {
		t.Errorf("newest = %s, want cancelSell", newest.Type)
	}
}
