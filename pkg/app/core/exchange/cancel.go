package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Cancel zeroes the caller's own slot. Cursors do not move; the slot is
// walked past the next time the queue is matched.
func (c *Coordinator) Cancel(ctx context.Context, caller common.Address, req OrderRequest) error {
	return c.cancel(ctx, caller, req, false)
}

// AdminCancel zeroes any slot on behalf of the owner.
func (c *Coordinator) AdminCancel(ctx context.Context, caller common.Address, req OrderRequest) error {
	return c.cancel(ctx, caller, req, true)
}

func (c *Coordinator) cancel(ctx context.Context, caller common.Address, req OrderRequest, admin bool) error {
	side, err := req.MethodSig.Side()
	if err != nil {
		return err
	}
	return c.run(ctx, caller, req.Target, func(t *txn) error {
		if admin {
			if err := c.onlyOwner(caller); err != nil {
				return err
			}
		}
		key := req.key(side)
		index := t.slotIndex(key, req.OrderIndex)
		o, err := t.sess.Peek(key, index)
		if err != nil {
			return err
		}
		if o.Amount == 0 {
			return xerr.Newf(xerr.InvalidOrder, "order %d already settled or canceled", index)
		}
		if !admin && o.Maker != caller {
			return xerr.New(xerr.PermissionDenied, xerr.MsgAssetNotApproved)
		}
		if err := t.sess.SetAmount(key, index, 0); err != nil {
			return err
		}
		t.emit(newEvent(cancelEvent(side), key, o.Maker, o.Amount, index))
		return nil
	})
}
