package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Sell offers req.Amount units at req.Price. Resting buys at that exact
// price are filled first; the rest is queued as a sell offer.
func (c *Coordinator) Sell(ctx context.Context, caller common.Address, req PlaceRequest) error {
	return c.place(ctx, caller, caller, ledger.Sell, req, true)
}

// Buy bids for req.Amount units at req.Price, filling resting sells first.
func (c *Coordinator) Buy(ctx context.Context, caller common.Address, req PlaceRequest) error {
	return c.place(ctx, caller, caller, ledger.Buy, req, true)
}

// Match dispatches a place request on its method tag.
func (c *Coordinator) Match(ctx context.Context, caller common.Address, req MatchRequest) error {
	side, err := req.MethodSig.Side()
	if err != nil {
		return err
	}
	return c.place(ctx, caller, caller, side, req.PlaceRequest, true)
}

// MarketMatch fills what it can at req.Price for req.Taker and drops the
// rest. Only quantity collections support it.
func (c *Coordinator) MarketMatch(ctx context.Context, caller common.Address, req OrderRequest) error {
	side, err := req.MethodSig.Side()
	if err != nil {
		return err
	}
	taker := req.Taker
	if taker == (common.Address{}) {
		taker = caller
	}
	pr := PlaceRequest{
		Payment: req.Payment,
		Target:  req.Target,
		TokenID: req.TokenID,
		Price:   req.Price,
		Amount:  req.Amount,
	}
	return c.place(ctx, caller, taker, side, pr, false)
}

func (c *Coordinator) place(ctx context.Context, caller, taker common.Address, side ledger.Side, req PlaceRequest, rest bool) error {
	return c.run(ctx, caller, req.Target, func(t *txn) error {
		if caller != taker && caller != c.owner {
			return xerr.New(xerr.PermissionDenied, xerr.MsgNotOwner)
		}
		if !rest && t.adapter.Kind() == ledger.Unique {
			return xerr.New(xerr.InvalidRequest, xerr.MsgMarketUnique)
		}
		if req.Price.IsZero() {
			return xerr.New(xerr.InvalidRequest, "order price must be positive")
		}
		amount, err := t.adapter.NormalizeAmount(req.Amount)
		if err != nil {
			return err
		}
		key := req.key(side)
		if err := t.requireTaker(key, side, taker, amount); err != nil {
			return err
		}

		left, err := t.walk(key.WithSide(side.Opposite()), taker, amount)
		if err != nil {
			return err
		}
		if left == 0 || !rest {
			return nil
		}

		o := ledger.Order{Maker: taker, Amount: left, ExpireTime: t.adapter.ExpireTime(req.ExpireDays)}
		index, err := t.sess.Append(key, o)
		if err != nil {
			return err
		}
		e := newEvent(addEvent(side), key, taker, left, index)
		e.ExpireTime = o.ExpireTime
		t.emit(e)
		return nil
	})
}

// singleSlot reports whether key is the one-slot sell side of a unique asset.
func (t *txn) singleSlot(key ledger.QueueKey) bool {
	return t.store.Kind() == ledger.Unique && key.Side == ledger.Sell
}

// slotIndex maps a caller-supplied index onto the queue. The single-slot
// side only has index 0.
func (t *txn) slotIndex(key ledger.QueueKey, index uint64) uint64 {
	if t.singleSlot(key) {
		return 0
	}
	return index
}

// walk fills up to amount against opp from its turn cursor and returns what
// is left. Dead slots are walked past for good.
func (t *txn) walk(opp ledger.QueueKey, taker common.Address, amount uint64) (uint64, error) {
	single := t.singleSlot(opp)
	for amount > 0 {
		cur, err := t.sess.IndexRange(opp)
		if err != nil {
			return 0, err
		}
		if cur.Turn >= cur.End {
			break
		}
		o, err := t.sess.Peek(opp, cur.Turn)
		if err != nil {
			return 0, err
		}
		if !t.live(opp, o) {
			if single {
				break
			}
			if err := t.sess.AdvanceTurn(opp); err != nil {
				return 0, err
			}
			continue
		}

		fill := min(amount, o.Amount)
		if err := t.fillSlot(opp, cur.Turn, o, taker, fill); err != nil {
			return 0, err
		}
		amount -= fill
		if fill == o.Amount {
			if single {
				break
			}
			if err := t.sess.AdvanceTurn(opp); err != nil {
				return 0, err
			}
		}
	}
	return amount, nil
}

// AssignMatch settles req.Taker against exactly the slot at req.OrderIndex
// on the opposite queue, without walking from the turn cursor. It never
// queues a remainder.
func (c *Coordinator) AssignMatch(ctx context.Context, caller common.Address, req OrderRequest) error {
	side, err := req.MethodSig.Side()
	if err != nil {
		return err
	}
	taker := req.Taker
	if taker == (common.Address{}) {
		taker = caller
	}
	return c.run(ctx, caller, req.Target, func(t *txn) error {
		if caller != taker && caller != c.owner {
			return xerr.New(xerr.PermissionDenied, xerr.MsgNotOwner)
		}
		amount, err := t.adapter.NormalizeAmount(req.Amount)
		if err != nil {
			return err
		}
		key := req.key(side)
		opp := key.WithSide(side.Opposite())
		index := t.slotIndex(opp, req.OrderIndex)
		o, err := t.sess.Peek(opp, index)
		if err != nil {
			return err
		}
		if !t.live(opp, o) {
			return xerr.New(xerr.InvalidOrder, xerr.MsgOrderMatchFailed)
		}

		fill := min(amount, o.Amount)
		if err := t.requireTaker(key, side, taker, fill); err != nil {
			return err
		}
		if err := t.fillSlot(opp, index, o, taker, fill); err != nil {
			return err
		}
		if fill < o.Amount || t.singleSlot(opp) {
			return nil
		}
		cur, err := t.sess.IndexRange(opp)
		if err != nil {
			return err
		}
		if cur.Turn == index {
			return t.sess.AdvanceTurn(opp)
		}
		return nil
	})
}
