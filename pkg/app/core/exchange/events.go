package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
)

type EventType string

const (
	EventAddSell    EventType = "addSell"
	EventAddBuy     EventType = "addBuy"
	EventSellMatch  EventType = "sellMatch"
	EventBuyMatch   EventType = "buyMatch"
	EventCancelSell EventType = "cancelSell"
	EventCancelBuy  EventType = "cancelBuy"
)

// Event is one ledger change. Taker is set on match events only and
// ExpireTime on add events only.
type Event struct {
	Type       EventType      `json:"type"`
	Payment    common.Address `json:"payment"`
	Target     common.Address `json:"target"`
	TokenID    *uint256.Int   `json:"tokenId"`
	Maker      common.Address `json:"maker"`
	Price      *uint256.Int   `json:"price"`
	Amount     uint64         `json:"amount"`
	OrderIndex uint64         `json:"orderIndex"`
	ExpireTime int64          `json:"expireTime,omitempty"`
	Taker      common.Address `json:"taker"`
}

// Args returns the event fields in their stable order.
func (e Event) Args() []any {
	args := []any{e.Payment, e.Target, e.TokenID, e.Maker, e.Price, e.Amount, e.OrderIndex}
	switch e.Type {
	case EventAddSell, EventAddBuy:
		args = append(args, e.ExpireTime)
	case EventSellMatch, EventBuyMatch:
		args = append(args, e.Taker)
	}
	return args
}

func newEvent(typ EventType, key ledger.QueueKey, maker common.Address, amount, index uint64) Event {
	tokenID, price := key.TokenID, key.Price
	return Event{
		Type:       typ,
		Payment:    key.Payment,
		Target:     key.Target,
		TokenID:    &tokenID,
		Maker:      maker,
		Price:      &price,
		Amount:     amount,
		OrderIndex: index,
	}
}

func addEvent(side ledger.Side) EventType {
	if side == ledger.Sell {
		return EventAddSell
	}
	return EventAddBuy
}

// matchEvent is named after the taker's side: a taker selling into resting
// buys produces sellMatch.
func matchEvent(takerSide ledger.Side) EventType {
	if takerSide == ledger.Sell {
		return EventSellMatch
	}
	return EventBuyMatch
}

func cancelEvent(side ledger.Side) EventType {
	if side == ledger.Sell {
		return EventCancelSell
	}
	return EventCancelBuy
}

// EventSink receives the events of every committed call, in order. Sinks
// run after the coordinator releases its lock; a sink error is logged and
// never undoes the call.
type EventSink interface {
	Deliver(ctx context.Context, events []Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, events []Event) error

func (f SinkFunc) Deliver(ctx context.Context, events []Event) error { return f(ctx, events) }
