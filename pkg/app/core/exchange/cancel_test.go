package exchange_test

import (
	"errors"
	"testing"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	xt "github.com/uhyunpark/levelbook/pkg/app/core/exchange/exchangetest"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

func TestCancelMakesSlotUnmatchable(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	sells := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 1, ledger.Sell)

	if err := c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0)); err != nil {
		t.Fatal(err)
	}
	req := xt.Order(exchange.SellSig, xt.WETH, xt.SFT, xt.User1, xt.SFTTokenID, 1, 1, 0)
	if err := c.Cancel(ctx, xt.User2, req); !errors.Is(err, xerr.ErrPermissionDenied) || err.Error() != xerr.MsgAssetNotApproved {
		t.Errorf("cancel by non-maker err = %v", err)
	}
	f.Events()
	if err := c.Cancel(ctx, xt.User1, req); err != nil {
		t.Fatal(err)
	}
	events := f.Events()
	if len(events) != 1 || events[0].Type != exchange.EventCancelSell || events[0].Amount != 1 || events[0].OrderIndex != 0 {
		t.Fatalf("cancel events = %+v", events)
	}
	if got := len(events[0].Args()); got != 7 {
		t.Errorf("cancel args = %d, want 7", got)
	}
	if o := f.Slot(t, sells, 0); o.Amount != 0 || o.Maker != xt.User1 {
		t.Errorf("canceled slot = %+v, want amount 0 keeping maker", o)
	}
	if got := f.Cursor(t, sells); got != (ledger.Cursor{Turn: 0, End: 1}) {
		t.Errorf("cancel moved cursor to %+v", got)
	}
	if err := c.Cancel(ctx, xt.User1, req); !errors.Is(err, xerr.ErrInvalidOrder) {
		t.Errorf("second cancel err = %v, want invalid order", err)
	}

	// the next buyer walks past the canceled slot and rests
	if err := c.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if got := f.Cursor(t, sells); got != (ledger.Cursor{Turn: 1, End: 1}) {
		t.Errorf("sell cursor = %+v, want 1/1", got)
	}
	if got := f.Cursor(t, sells.WithSide(ledger.Buy)); got != (ledger.Cursor{Turn: 0, End: 1}) {
		t.Errorf("buy cursor = %+v, want 0/1", got)
	}
	if f.Units(xt.User1, xt.SFTTokenID) != xt.StartUnits {
		t.Errorf("canceled order traded")
	}
}

func TestAdminCancelQuantity(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	sells := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 1, ledger.Sell)
	buys := sells.WithSide(ledger.Buy)

	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0))
	if o := f.Slot(t, sells, 0); o.Amount != 1 || o.Maker != xt.User1 || o.ExpireTime != ledger.NeverExpires {
		t.Fatalf("sell slot = %+v", o)
	}
	req := xt.Order(exchange.SellSig, xt.WETH, xt.SFT, xt.User1, xt.SFTTokenID, 1, 1, 0)
	if err := c.AdminCancel(ctx, xt.User1, req); !errors.Is(err, xerr.ErrPermissionDenied) || err.Error() != xerr.MsgNotOwner {
		t.Errorf("admin cancel by user err = %v", err)
	}
	if err := c.AdminCancel(ctx, xt.Owner, req); err != nil {
		t.Fatal(err)
	}
	if o := f.Slot(t, sells, 0); o.Amount != 0 {
		t.Errorf("amount after admin cancel = %d", o.Amount)
	}

	c.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0))
	if got := f.Cursor(t, buys); got != (ledger.Cursor{Turn: 0, End: 1}) {
		t.Errorf("buy cursor = %+v, want 0/1", got)
	}
	if err := c.AdminCancel(ctx, xt.Owner, xt.Order(exchange.BuySig, xt.WETH, xt.SFT, xt.User2, xt.SFTTokenID, 1, 1, 0)); err != nil {
		t.Fatal(err)
	}
	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0))
	if got := f.Cursor(t, sells); got != (ledger.Cursor{Turn: 1, End: 2}) {
		t.Errorf("sell cursor = %+v, want 1/2", got)
	}
	if f.Balance(xt.WETH, xt.User1) != xt.StartBalance || f.Balance(xt.WETH, xt.User2) != xt.StartBalance {
		t.Errorf("admin-canceled orders moved payment")
	}
}

func TestAdminCancelUniqueKeepsSingleSlot(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	id := xt.User1Tokens[0]
	sells := xt.Key(xt.WETH, xt.NFT, id, 1, ledger.Sell)

	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.NFT, id, 1, 1, 0))
	if err := c.AdminCancel(ctx, xt.Owner, xt.Order(exchange.SellSig, xt.WETH, xt.NFT, xt.User1, id, 1, 1, 0)); err != nil {
		t.Fatal(err)
	}
	c.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.NFT, id, 1, 1, 0))
	if got := f.OwnerOf(id); got != xt.User1 {
		t.Fatalf("canceled unique sell traded")
	}
	if got := f.Cursor(t, sells.WithSide(ledger.Buy)); got != (ledger.Cursor{Turn: 0, End: 1}) {
		t.Errorf("buy cursor = %+v, want 0/1", got)
	}
	c.AdminCancel(ctx, xt.Owner, xt.Order(exchange.BuySig, xt.WETH, xt.NFT, xt.User2, id, 1, 1, 0))

	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.NFT, id, 1, 1, 0))
	if got := f.Cursor(t, sells); got != (ledger.Cursor{Turn: 0, End: 1}) {
		t.Errorf("unique sell cursor = %+v, want fixed 0/1", got)
	}
	if o := f.Slot(t, sells, 0); o.Amount != 1 || o.Maker != xt.User1 {
		t.Errorf("re-listed slot = %+v", o)
	}
}

func TestAssignMatch(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator

	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0))
	req := xt.Order(exchange.BuySig, xt.WETH, xt.SFT, xt.User2, xt.SFTTokenID, 1, 1, 0)
	if err := c.AssignMatch(ctx, xt.User1, req); !errors.Is(err, xerr.ErrPermissionDenied) {
		t.Errorf("assign for another taker err = %v", err)
	}
	if err := c.AssignMatch(ctx, xt.User2, req); err != nil {
		t.Fatal(err)
	}
	err := c.AssignMatch(ctx, xt.User2, req)
	if !errors.Is(err, xerr.ErrInvalidOrder) || err.Error() != xerr.MsgOrderMatchFailed {
		t.Errorf("assign on consumed slot err = %v, want %q", err, xerr.MsgOrderMatchFailed)
	}
	if f.Units(xt.User1, xt.SFTTokenID) != 999 || f.Units(xt.User2, xt.SFTTokenID) != 1001 {
		t.Errorf("units = (%d, %d), want (999, 1001)", f.Units(xt.User1, xt.SFTTokenID), f.Units(xt.User2, xt.SFTTokenID))
	}

	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0))
	bad, _ := exchange.ParseMethodSig("0x0F3Bba0b")
	req.MethodSig, req.OrderIndex = bad, 1
	if err := c.AssignMatch(ctx, xt.User2, req); err == nil || err.Error() != xerr.MsgInvalidMethodSig {
		t.Errorf("unknown sig err = %v", err)
	}
	if err := c.AssignMatch(ctx, xt.User2, xt.Order(exchange.BuySig, xt.WETH, xt.SFT, xt.User2, xt.SFTTokenID, 1, 1, 7)); !errors.Is(err, xerr.ErrInvalidOrder) {
		t.Errorf("assign out of range err = %v", err)
	}
}

func TestAssignMatchSkipsQueueOrder(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	buys := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 2, ledger.Buy)

	c.Buy(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 2, 3, 0))
	c.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 2, 4, 0))

	// the owner settles user1 straight into the second bid, partially
	req := xt.Order(exchange.SellSig, xt.WETH, xt.SFT, xt.User1, xt.SFTTokenID, 2, 10, 1)
	if err := c.AssignMatch(ctx, xt.Owner, req); err != nil {
		t.Fatal(err)
	}
	if o := f.Slot(t, buys, 1); o.Amount != 0 {
		t.Errorf("assigned slot amount = %d, want 0", o.Amount)
	}
	if o := f.Slot(t, buys, 0); o.Amount != 3 {
		t.Errorf("head slot amount = %d, want 3", o.Amount)
	}
	if got := f.Cursor(t, buys); got != (ledger.Cursor{Turn: 0, End: 2}) {
		t.Errorf("cursor = %+v, want 0/2", got)
	}
	if got := f.Cursor(t, buys.WithSide(ledger.Sell)); got != (ledger.Cursor{}) {
		t.Errorf("assign rested %+v", got)
	}
	if f.Units(xt.User2, xt.SFTTokenID) != 1004 {
		t.Errorf("user2 units = %d, want 1004", f.Units(xt.User2, xt.SFTTokenID))
	}
}

func TestMarketMatchDropsLeftover(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	sells := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 1, ledger.Sell)

	c.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 5, 7))
	req := xt.Order(exchange.SellSig, xt.WETH, xt.SFT, xt.User1, xt.SFTTokenID, 1, 10, 0)
	if err := c.MarketMatch(ctx, xt.User1, req); err != nil {
		t.Fatal(err)
	}
	if f.Units(xt.User1, xt.SFTTokenID) != 995 || f.Units(xt.User2, xt.SFTTokenID) != 1005 {
		t.Errorf("units = (%d, %d), want (995, 1005)", f.Units(xt.User1, xt.SFTTokenID), f.Units(xt.User2, xt.SFTTokenID))
	}
	if f.Balance(xt.WETH, xt.User1) != 105 || f.Balance(xt.WETH, xt.User2) != 95 {
		t.Errorf("balances = (%d, %d), want (105, 95)", f.Balance(xt.WETH, xt.User1), f.Balance(xt.WETH, xt.User2))
	}
	if got := f.Cursor(t, sells); got != (ledger.Cursor{}) {
		t.Errorf("market match rested a sell: %+v", got)
	}
	if got := f.Cursor(t, sells.WithSide(ledger.Buy)); got != (ledger.Cursor{Turn: 1, End: 1}) {
		t.Errorf("buy cursor = %+v, want 1/1", got)
	}

	id := xt.User1Tokens[0]
	err := c.MarketMatch(ctx, xt.User1, xt.Order(exchange.SellSig, xt.WETH, xt.NFT, xt.User1, id, 1, 1, 0))
	if !errors.Is(err, xerr.ErrInvalidRequest) || err.Error() != xerr.MsgMarketUnique {
		t.Errorf("unique market match err = %v", err)
	}
	if err := c.MarketMatch(ctx, xt.User2, req); !errors.Is(err, xerr.ErrPermissionDenied) {
		t.Errorf("market match for another taker err = %v", err)
	}
}
