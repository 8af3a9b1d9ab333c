// Package ledger holds the persistent order data of one asset kind: the
// price-level queues with their turn/end cursors and the price and tokenId
// indexes the query side enumerates. It moves no assets.
package ledger

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Kind is the asset kind a store (and its adapter) serves.
type Kind uint8

const (
	Unique   Kind = 1 // one owner per tokenId ("721")
	Quantity Kind = 2 // balances per tokenId ("1155")
)

func (k Kind) String() string {
	switch k {
	case Unique:
		return "unique"
	case Quantity:
		return "quantity"
	default:
		return "unknown"
	}
}

type Side uint8

const (
	Sell Side = 1
	Buy  Side = 2
)

func (s Side) String() string {
	switch s {
	case Sell:
		return "sell"
	case Buy:
		return "buy"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Sell {
		return Buy
	}
	return Sell
}

// NeverExpires is the expireTime of orders placed without a window.
const NeverExpires int64 = math.MaxInt64

// Order is one queue slot. Slots are never removed; a consumed or canceled
// slot keeps its maker and reports Amount 0.
type Order struct {
	Maker      common.Address `json:"maker"`
	Amount     uint64         `json:"amount"`
	ExpireTime int64          `json:"expireTime"`
}

// Expired reports whether the order can no longer trade at unix time now.
func (o Order) Expired(now int64) bool {
	return now >= o.ExpireTime
}

// Slot is an order together with its position in the queue.
type Slot struct {
	Index uint64
	Order Order
}

// Cursor is the [Turn, End) window of a queue. Slots below Turn are settled
// or walked past; End is the next free index.
type Cursor struct {
	Turn uint64 `json:"turn"`
	End  uint64 `json:"end"`
}

// QueueKey addresses one price-level queue.
type QueueKey struct {
	Payment common.Address
	Target  common.Address
	TokenID uint256.Int
	Price   uint256.Int
	Side    Side
}

// NewQueueKey copies tokenID and price into a comparable key.
func NewQueueKey(payment, target common.Address, tokenID, price *uint256.Int, side Side) QueueKey {
	return QueueKey{
		Payment: payment,
		Target:  target,
		TokenID: *tokenID,
		Price:   *price,
		Side:    side,
	}
}

// WithSide returns the same price level on side s.
func (k QueueKey) WithSide(s Side) QueueKey {
	k.Side = s
	return k
}
