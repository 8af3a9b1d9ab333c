package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
)

func newRelayPair(t *testing.T, ctx context.Context) (*Relay, *Relay) {
	t.Helper()
	a, err := NewRelay(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	if err != nil {
		t.Fatalf("relay a: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	b, err := NewRelay(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Bootstrap: a.Addrs()})
	if err != nil {
		t.Fatalf("relay b: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return a, b
}

func TestRelayGossipsEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a, b := newRelayPair(t, ctx)

	got := make(chan []exchange.Event, 1)
	b.SetHandlers(Handlers{OnEvents: func(_ context.Context, origin string, events []exchange.Event) {
		if origin == a.Host().ID().String() {
			select {
			case got <- events:
			default:
			}
		}
	}})

	sent := []exchange.Event{{
		Type:    exchange.EventAddSell,
		Target:  common.HexToAddress("0x1155000000000000000000000000000000000000"),
		TokenID: uint256.NewInt(1),
		Price:   uint256.NewInt(10),
		Amount:  5,
	}}
	// the gossipsub mesh forms asynchronously, so publish until delivered
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := a.Deliver(ctx, sent); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		select {
		case events := <-got:
			if len(events) != 1 || events[0].Amount != 5 || events[0].Price.Uint64() != 10 {
				t.Fatalf("events = %+v", events)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("events never arrived")
		}
	}
}

func TestRelayForwardsTxs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a, b := newRelayPair(t, ctx)

	got := make(chan []byte, 1)
	a.SetHandlers(Handlers{OnTx: func(_ context.Context, raw []byte) {
		select {
		case got <- raw:
		default:
		}
	}})
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := b.ForwardTx(ctx, []byte(`{"type":"order"}`)); err != nil {
			t.Fatalf("forward: %v", err)
		}
		select {
		case raw := <-got:
			if string(raw) != `{"type":"order"}` {
				t.Fatalf("raw = %s", raw)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("tx never arrived")
		}
	}
}
