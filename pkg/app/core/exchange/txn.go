package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/adapter"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// txn is one atomic call: a ledger session plus a custody snapshot. Events
// are buffered and only handed to sinks after both commit.
type txn struct {
	c       *Coordinator
	caller  common.Address
	adapter adapter.Adapter
	store   *ledger.Store
	sess    *ledger.Session
	now     int64
	events  []Event
}

// run executes fn atomically against the adapter and store serving target.
func (c *Coordinator) run(ctx context.Context, caller, target common.Address, fn func(*txn) error) error {
	events, err := c.runLocked(caller, target, fn)
	if err != nil {
		return err
	}
	c.deliver(ctx, events)
	return nil
}

func (c *Coordinator) runLocked(caller, target common.Address, fn func(*txn) error) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return nil, xerr.New(xerr.Paused, xerr.MsgPaused)
	}
	a, store, err := c.reg.Resolve(target)
	if err != nil {
		return nil, err
	}
	if a.Master() != c.addr {
		return nil, xerr.New(xerr.InvalidRegistration, xerr.MsgNotMasterExchange)
	}
	sess, err := store.Begin(c.addr)
	if err != nil {
		return nil, err
	}

	t := &txn{
		c:       c,
		caller:  caller,
		adapter: a,
		store:   store,
		sess:    sess,
		now:     c.clock.Now().Unix(),
	}
	snap := c.journal.Snapshot()
	if err := fn(t); err != nil {
		sess.Discard()
		c.journal.RevertToSnapshot(snap)
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		c.journal.RevertToSnapshot(snap)
		return nil, fmt.Errorf("failed to commit call: %w", err)
	}
	if f, ok := c.journal.(finaliser); ok {
		f.Finalise()
	}
	c.log.Debugw("call_committed", "caller", caller.Hex(), "target", target.Hex(), "events", len(t.events))
	return t.events, nil
}

func (t *txn) emit(e Event) { t.events = append(t.events, e) }

// ==============================
// Liveness
// ==============================

// deliverable reports whether maker can honour amount on side right now:
// a seller must hold and have approved the asset, a buyer must have the
// payment balance and allowance for price*amount.
func (t *txn) deliverable(key ledger.QueueKey, side ledger.Side, maker common.Address, amount uint64) bool {
	if side == ledger.Sell {
		return t.adapter.Deliverable(key.Target, maker, t.c.addr, &key.TokenID, amount)
	}
	need, err := cost(&key.Price, amount)
	if err != nil {
		return false
	}
	return t.c.canPay(key.Payment, maker, need)
}

func (c *Coordinator) canPay(token, owner common.Address, need *uint256.Int) bool {
	bal := c.payments.BalanceOf(token, owner)
	if bal.Lt(need) {
		return false
	}
	allowance := c.payments.Allowance(token, owner, c.addr)
	return !allowance.Lt(need)
}

// live is the full liveness test for a resting slot on key.Side.
func (t *txn) live(key ledger.QueueKey, o ledger.Order) bool {
	if o.Amount == 0 || o.Expired(t.now) {
		return false
	}
	return t.deliverable(key, key.Side, o.Maker, o.Amount)
}

// requireTaker checks the taker can deliver amount on side before any walk.
func (t *txn) requireTaker(key ledger.QueueKey, side ledger.Side, taker common.Address, amount uint64) error {
	if side == ledger.Sell {
		if !t.adapter.Deliverable(key.Target, taker, t.c.addr, &key.TokenID, amount) {
			return xerr.New(xerr.PermissionDenied, xerr.MsgAssetNotApproved)
		}
		return nil
	}
	need, err := cost(&key.Price, amount)
	if err != nil {
		return err
	}
	if !t.c.canPay(key.Payment, taker, need) {
		return xerr.New(xerr.PermissionDenied, xerr.MsgPaymentShort)
	}
	return nil
}

// ==============================
// Settlement
// ==============================

// settle moves fill units of the asset from seller to buyer and pays the
// seller, the platform and the project their shares of price*fill.
func (t *txn) settle(key ledger.QueueKey, seller, buyer common.Address, fill uint64) error {
	if err := t.adapter.Transfer(t.c.addr, key.Target, seller, buyer, &key.TokenID, fill); err != nil {
		return err
	}
	gross, err := cost(&key.Price, fill)
	if err != nil {
		return err
	}
	split := t.c.fees.Split(gross, key.Target)
	legs := []struct {
		to     common.Address
		amount *uint256.Int
	}{
		{seller, &split.Seller},
		{split.Book.PlatformWallet, &split.Platform},
		{split.Book.ProjectWallet, &split.Project},
	}
	for _, leg := range legs {
		if leg.amount.IsZero() {
			continue
		}
		if err := t.c.payments.TransferFrom(key.Payment, t.c.addr, buyer, leg.to, leg.amount); err != nil {
			return fmt.Errorf("failed to pay %s: %w", leg.to.Hex(), err)
		}
	}
	return nil
}

// fillSlot settles fill units against the resting slot at index of opp and
// records the result in the queue.
func (t *txn) fillSlot(opp ledger.QueueKey, index uint64, o ledger.Order, taker common.Address, fill uint64) error {
	takerSide := opp.Side.Opposite()
	seller, buyer := o.Maker, taker
	if takerSide == ledger.Sell {
		seller, buyer = taker, o.Maker
	}
	if err := t.settle(opp, seller, buyer, fill); err != nil {
		return err
	}
	if err := t.sess.SetAmount(opp, index, o.Amount-fill); err != nil {
		return err
	}
	e := newEvent(matchEvent(takerSide), opp, o.Maker, fill, index)
	e.Taker = taker
	t.emit(e)
	return nil
}
