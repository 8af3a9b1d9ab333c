package exchange_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/levelbook/pkg/app/core/adapter"
	xt "github.com/uhyunpark/levelbook/pkg/app/core/exchange/exchangetest"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

func TestRegisterValidation(t *testing.T) {
	f := xt.New(t)
	c := f.NewCoordinator(xt.SuccessorAddr)
	foreign := adapter.NewQuantity(adapter.Config{Address: xt.QuantityAdapter, Owner: xt.Owner, Master: xt.CoordinatorAddr}, f.Vault.Quantity)
	mine := adapter.NewQuantity(adapter.Config{Address: xt.QuantityAdapter, Owner: xt.Owner, Master: xt.SuccessorAddr}, f.Vault.Quantity)
	mineUnique := adapter.NewUnique(adapter.Config{Address: xt.UniqueAdapter, Owner: xt.Owner, Master: xt.SuccessorAddr}, f.Vault.Unique)
	nullAdapter := adapter.NewUnique(adapter.Config{Owner: xt.Owner, Master: xt.SuccessorAddr}, f.Vault.Unique)
	us, qs := xt.NewStore(ledger.Unique), xt.NewStore(ledger.Quantity)

	for _, tc := range []struct {
		name   string
		caller common.Address
		ua     adapter.Adapter
		qa     adapter.Adapter
		kind   xerr.Kind
		msg    string
	}{
		{"not owner", xt.User1, mineUnique, mine, xerr.PermissionDenied, xerr.MsgNotOwner},
		{"null adapter", xt.Owner, nullAdapter, mine, xerr.InvalidRegistration, xerr.MsgNullExchange},
		{"missing adapter", xt.Owner, mineUnique, nil, xerr.InvalidRegistration, xerr.MsgNullExchange},
		{"wrong kind", xt.Owner, mine, mine, xerr.InvalidRegistration, xerr.MsgNotMiniExchange},
		{"foreign master", xt.Owner, mineUnique, foreign, xerr.InvalidRegistration, xerr.MsgNotMasterExchange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Register(tc.caller, tc.ua, us, tc.qa, qs)
			if xerr.KindOf(err) != tc.kind || err.Error() != tc.msg {
				t.Errorf("err = %v, want %s %q", err, tc.kind, tc.msg)
			}
		})
	}
	if us.Master() != (common.Address{}) {
		t.Errorf("failed registration bound the store")
	}
	if err := c.Register(xt.Owner, mineUnique, us, mine, qs); err != nil {
		t.Fatalf("valid register: %v", err)
	}
	if us.Master() != xt.SuccessorAddr || qs.Master() != xt.SuccessorAddr {
		t.Errorf("stores not bound to the coordinator")
	}
}

func TestRegisterRebindsStores(t *testing.T) {
	f := xt.New(t)
	c := f.NewCoordinator(xt.SuccessorAddr)
	f.Unique.SetMaster(xt.Owner, xt.SuccessorAddr)
	f.Quantity.SetMaster(xt.Owner, xt.SuccessorAddr)

	// the stores still belong to the running coordinator, whose owner is the
	// store owner too, so rebinding is allowed
	if err := c.Register(xt.Owner, f.Unique, f.UniqueStore, f.Quantity, f.QuantityStore); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.UniqueStore.Begin(xt.CoordinatorAddr); !errors.Is(err, xerr.ErrInvalidRegistration) {
		t.Errorf("old coordinator can still write: %v", err)
	}
}

func TestRegisterForeignStoreChangesNothing(t *testing.T) {
	f := xt.New(t)
	c := f.NewCoordinator(xt.SuccessorAddr)
	f.Unique.SetMaster(xt.Owner, xt.SuccessorAddr)
	f.Quantity.SetMaster(xt.Owner, xt.SuccessorAddr)
	qs := ledger.NewStore(ledger.StoreConfig{Kind: ledger.Quantity, Address: xt.QuantityStore, Owner: xt.User3, KV: storage.NewMemKV()})

	err := c.Register(xt.Owner, f.Unique, f.UniqueStore, f.Quantity, qs)
	if xerr.KindOf(err) != xerr.InvalidRegistration || err.Error() != xerr.MsgNotMasterExchange {
		t.Fatalf("err = %v, want %q", err, xerr.MsgNotMasterExchange)
	}
	if got := f.UniqueStore.Master(); got != xt.CoordinatorAddr {
		t.Errorf("unique store master = %s, want %s", got.Hex(), xt.CoordinatorAddr.Hex())
	}
	if got := qs.Master(); got != (common.Address{}) {
		t.Errorf("foreign store master = %s, want zero", got.Hex())
	}
	if reg := c.Registration(); reg.UniqueStore != nil || reg.QuantityStore != nil {
		t.Errorf("registration after failure = %+v", reg)
	}
	if _, err := f.UniqueStore.Begin(xt.CoordinatorAddr); err != nil {
		t.Errorf("running coordinator lost write access: %v", err)
	}
}

func TestDeregister(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	if err := c.Deregister(xt.Owner, xt.User1); err == nil || err.Error() != xerr.MsgInvalidExchange {
		t.Errorf("unknown adapter err = %v", err)
	}
	if err := c.Deregister(xt.User1, xt.UniqueAdapter); !errors.Is(err, xerr.ErrPermissionDenied) {
		t.Errorf("non-owner deregister err = %v", err)
	}
	if err := c.Deregister(xt.Owner, xt.UniqueAdapter); err != nil {
		t.Fatal(err)
	}
	if got := f.Unique.Master(); got != (common.Address{}) {
		t.Errorf("adapter master = %s, want zero", got.Hex())
	}
	if got := f.UniqueStore.Master(); got != (common.Address{}) {
		t.Errorf("store master = %s, want zero", got.Hex())
	}
	if got := f.QuantityStore.Master(); got != xt.CoordinatorAddr {
		t.Errorf("quantity store master = %s, want coordinator", got.Hex())
	}
	if reg := c.Registration(); reg.UniqueAdapter != nil || reg.QuantityAdapter == nil {
		t.Errorf("registration after deregister = %+v", reg)
	}
	if err := c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.NFT, xt.User1Tokens[0], 1, 1, 0)); err == nil {
		t.Errorf("sell on a deregistered kind succeeded")
	}
	if err := c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 1, 0)); err != nil {
		t.Errorf("quantity sell after unique deregister: %v", err)
	}
	if err := c.Deregister(xt.Owner, xt.UniqueAdapter); err == nil || err.Error() != xerr.MsgInvalidExchange {
		t.Errorf("second deregister err = %v", err)
	}
}

func TestMigratePreservesBooks(t *testing.T) {
	f := xt.New(t)
	old := f.Coordinator
	id := xt.User1Tokens[0]
	old.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.NFT, id, 10, 1, 0))
	old.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 7, 0))
	old.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 2, 3, 0))

	sfts := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 1, ledger.Sell)
	before, err := f.QuantityStore.Orders(sfts)
	if err != nil {
		t.Fatal(err)
	}

	next := f.NewCoordinator(xt.SuccessorAddr)
	if err := old.Migrate(xt.User1, next); !errors.Is(err, xerr.ErrPermissionDenied) {
		t.Errorf("non-owner migrate err = %v", err)
	}
	if err := old.Migrate(xt.Owner, nil); !errors.Is(err, xerr.ErrInvalidRegistration) {
		t.Errorf("nil successor err = %v", err)
	}
	if err := old.Migrate(xt.Owner, next); err != nil {
		t.Fatal(err)
	}
	if !old.Paused() {
		t.Errorf("old coordinator not paused")
	}
	if err := old.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.NFT, id, 10, 1, 0)); !errors.Is(err, xerr.ErrPaused) {
		t.Errorf("old coordinator buy err = %v, want paused", err)
	}
	if f.Unique.Master() != xt.SuccessorAddr || f.QuantityStore.Master() != xt.SuccessorAddr {
		t.Errorf("adapters and stores not handed over")
	}

	if err := next.Register(xt.Owner, f.Unique, f.UniqueStore, f.Quantity, f.QuantityStore); err != nil {
		t.Fatalf("successor register: %v", err)
	}
	after, err := f.QuantityStore.Orders(sfts)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("books changed across migration: %+v vs %+v", after, before)
	}

	f.ApproveAll(xt.SuccessorAddr)
	if err := next.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.NFT, id, 10, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if got := f.OwnerOf(id); got != xt.User2 {
		t.Errorf("successor did not settle the resting sell")
	}
}

func TestFreshStoreResetsBooks(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	c.Sell(ctx, xt.User1, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 7, 0))

	fresh := xt.NewStore(ledger.Quantity)
	if err := c.Register(xt.Owner, f.Unique, f.UniqueStore, f.Quantity, fresh); err != nil {
		t.Fatal(err)
	}
	key := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 1, ledger.Sell)
	if cur, _ := fresh.IndexRange(key); cur != (ledger.Cursor{}) {
		t.Errorf("fresh store cursor = %+v", cur)
	}
	// the buy finds nothing to match and rests
	if err := c.Buy(ctx, xt.User2, xt.Place(xt.WETH, xt.SFT, xt.SFTTokenID, 1, 7, 0)); err != nil {
		t.Fatal(err)
	}
	if f.Units(xt.User2, xt.SFTTokenID) != xt.StartUnits {
		t.Errorf("buy matched against the old store")
	}
}

func TestSetViewer(t *testing.T) {
	f := xt.New(t)
	c := f.Coordinator
	viewer := common.HexToAddress("0x7E00000000000000000000000000000000000001")
	if err := c.SetViewer(xt.User1, viewer); !errors.Is(err, xerr.ErrPermissionDenied) {
		t.Errorf("non-owner SetViewer err = %v", err)
	}
	if err := c.SetViewer(xt.Owner, viewer); err != nil || c.Viewer() != viewer {
		t.Errorf("SetViewer: %v, viewer %s", err, c.Viewer().Hex())
	}
	if err := c.SetAdapterViewer(xt.Owner, xt.QuantityAdapter, viewer); err != nil {
		t.Fatal(err)
	}
	if f.Quantity.Viewer() != viewer {
		t.Errorf("adapter viewer = %s", f.Quantity.Viewer().Hex())
	}
	if err := c.SetAdapterViewer(xt.Owner, xt.User1, viewer); err == nil {
		t.Errorf("SetAdapterViewer on unknown adapter succeeded")
	}
}
