// Package viewer rebuilds order books from ledger store state and
// re-validates resting orders against live custody balances on every query.
package viewer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/app/core/adapter"
	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/util"
)

// Source is the coordinator whose registry and address the viewer reads.
type Source interface {
	Address() common.Address
	Registration() exchange.Registration
}

// PaymentReader is the read half of the payment custody.
type PaymentReader interface {
	BalanceOf(token, owner common.Address) uint256.Int
	Allowance(token, owner, spender common.Address) uint256.Int
}

type Config struct {
	Address  common.Address
	Source   Source
	Payments PaymentReader
	Clock    util.Clock
	Logger   *zap.SugaredLogger
}

type Viewer struct {
	addr     common.Address
	src      Source
	payments PaymentReader
	clock    util.Clock
	log      *zap.SugaredLogger
}

func New(cfg Config) *Viewer {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Viewer{
		addr:     cfg.Address,
		src:      cfg.Source,
		payments: cfg.Payments,
		clock:    clock,
		log:      util.OrNop(cfg.Logger),
	}
}

func (v *Viewer) Address() common.Address { return v.addr }

// SlotView is one queue slot as a viewpoint sees it. A masked slot keeps its
// OrderIndex and reports zero for everything else.
type SlotView struct {
	Maker      common.Address `json:"maker"`
	Amount     uint64         `json:"amount"`
	ExpireTime int64          `json:"expireTime"`
	OrderIndex uint64         `json:"orderIndex"`
}

// PriceLevel aggregates the visible slots at one price.
type PriceLevel struct {
	Price  *uint256.Int `json:"price"`
	Amount uint64       `json:"amount"`
	Orders []SlotView   `json:"orders"`
}

// TokenBook is one side of one tokenId, prices ascending.
type TokenBook struct {
	TokenID *uint256.Int `json:"tokenId"`
	Levels  []PriceLevel `json:"levels"`
}

// OrderBooks groups both sides by tokenId ascending.
type OrderBooks struct {
	SellBook []TokenBook `json:"sellBook"`
	BuyBook  []TokenBook `json:"buyBook"`
}

// OrderBooks returns every tokenId of target that has visible orders.
//
// viewpoint selects the validity mode: the zero address shows stored
// amounts, the coordinator's address masks every slot whose maker cannot
// currently deliver, and any other address masks only that account's
// undeliverable slots.
func (v *Viewer) OrderBooks(payment, target, viewpoint common.Address) (OrderBooks, error) {
	q, err := v.query(target, viewpoint)
	if err != nil {
		return OrderBooks{}, err
	}
	var books OrderBooks
	for _, side := range []ledger.Side{ledger.Sell, ledger.Buy} {
		ids, err := q.store.TokenIDs(payment, target, side)
		if err != nil {
			return OrderBooks{}, err
		}
		for i := range ids {
			tb, ok, err := q.tokenBook(payment, target, &ids[i], side)
			if err != nil {
				return OrderBooks{}, err
			}
			if ok {
				books.add(side, tb)
			}
		}
	}
	return books, nil
}

// OrderBooksByTokenID is OrderBooks narrowed to one tokenId.
func (v *Viewer) OrderBooksByTokenID(payment, target common.Address, tokenID *uint256.Int, viewpoint common.Address) (OrderBooks, error) {
	q, err := v.query(target, viewpoint)
	if err != nil {
		return OrderBooks{}, err
	}
	var books OrderBooks
	for _, side := range []ledger.Side{ledger.Sell, ledger.Buy} {
		tb, ok, err := q.tokenBook(payment, target, tokenID, side)
		if err != nil {
			return OrderBooks{}, err
		}
		if ok {
			books.add(side, tb)
		}
	}
	return books, nil
}

// QueueView is the raw state of one queue.
type QueueView struct {
	Cursor ledger.Cursor `json:"cursor"`
	Slots  []SlotView    `json:"slots"`
}

// Queue returns the cursor and the [turn, end) slots of key unfiltered.
func (v *Viewer) Queue(key ledger.QueueKey) (QueueView, error) {
	_, store, err := v.src.Registration().Resolve(key.Target)
	if err != nil {
		return QueueView{}, err
	}
	cur, slots, err := store.Snapshot(key)
	if err != nil {
		return QueueView{}, err
	}
	out := QueueView{Cursor: cur, Slots: make([]SlotView, 0, len(slots))}
	for _, s := range slots {
		out.Slots = append(out.Slots, slotView(s))
	}
	return out, nil
}

func (b *OrderBooks) add(side ledger.Side, tb TokenBook) {
	if side == ledger.Sell {
		b.SellBook = append(b.SellBook, tb)
	} else {
		b.BuyBook = append(b.BuyBook, tb)
	}
}

func slotView(s ledger.Slot) SlotView {
	return SlotView{
		Maker:      s.Order.Maker,
		Amount:     s.Order.Amount,
		ExpireTime: s.Order.ExpireTime,
		OrderIndex: s.Index,
	}
}

// query is one read pass with a fixed clock reading and viewpoint.
type query struct {
	v         *Viewer
	adapter   adapter.Adapter
	store     *ledger.Store
	master    common.Address
	viewpoint common.Address
	now       int64
}

func (v *Viewer) query(target, viewpoint common.Address) (*query, error) {
	a, store, err := v.src.Registration().Resolve(target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection: %w", err)
	}
	return &query{
		v:         v,
		adapter:   a,
		store:     store,
		master:    v.src.Address(),
		viewpoint: viewpoint,
		now:       v.clock.Now().Unix(),
	}, nil
}

func (q *query) tokenBook(payment, target common.Address, tokenID *uint256.Int, side ledger.Side) (TokenBook, bool, error) {
	prices, err := q.store.Prices(payment, target, tokenID, side)
	if err != nil {
		return TokenBook{}, false, err
	}
	id := *tokenID
	tb := TokenBook{TokenID: &id}
	for i := range prices {
		key := ledger.NewQueueKey(payment, target, tokenID, &prices[i], side)
		level, ok, err := q.level(key)
		if err != nil {
			return TokenBook{}, false, err
		}
		if ok {
			tb.Levels = append(tb.Levels, level)
		}
	}
	return tb, len(tb.Levels) > 0, nil
}

// level builds one price bucket. Buckets without candidates are dropped;
// buckets whose candidates are all masked are kept with amount 0.
func (q *query) level(key ledger.QueueKey) (PriceLevel, bool, error) {
	slots, err := q.store.Orders(key)
	if err != nil {
		return PriceLevel{}, false, err
	}
	price := key.Price
	level := PriceLevel{Price: &price}
	for _, s := range slots {
		if s.Order.Amount == 0 || s.Order.Expired(q.now) {
			continue
		}
		view := slotView(s)
		if q.validates(s.Order.Maker) && !q.deliverable(key, s.Order) {
			view = SlotView{OrderIndex: s.Index}
		}
		level.Amount += view.Amount
		level.Orders = append(level.Orders, view)
	}
	return level, len(level.Orders) > 0, nil
}

// validates reports whether maker's slots are checked against custody under
// this viewpoint.
func (q *query) validates(maker common.Address) bool {
	switch q.viewpoint {
	case common.Address{}:
		return false
	case q.master:
		return true
	default:
		return maker == q.viewpoint
	}
}

func (q *query) deliverable(key ledger.QueueKey, o ledger.Order) bool {
	if key.Side == ledger.Sell {
		return q.adapter.Deliverable(key.Target, o.Maker, q.master, &key.TokenID, o.Amount)
	}
	need, overflow := new(uint256.Int).MulOverflow(&key.Price, uint256.NewInt(o.Amount))
	if overflow {
		return false
	}
	bal := q.v.payments.BalanceOf(key.Payment, o.Maker)
	allowance := q.v.payments.Allowance(key.Payment, o.Maker, q.master)
	return !bal.Lt(need) && !allowance.Lt(need)
}
