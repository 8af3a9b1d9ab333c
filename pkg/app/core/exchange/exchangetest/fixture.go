// Package exchangetest wires a coordinator, both adapters, in-memory stores
// and a funded custody vault for tests.
package exchangetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/adapter"
	"github.com/uhyunpark/levelbook/pkg/app/core/custody"
	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/fee"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/util"
)

var (
	Owner           = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	CoordinatorAddr = common.HexToAddress("0x4D00000000000000000000000000000000000001")
	SuccessorAddr   = common.HexToAddress("0x4D00000000000000000000000000000000000002")
	UniqueAdapter   = common.HexToAddress("0xA700000000000000000000000000000000000721")
	QuantityAdapter = common.HexToAddress("0xA700000000000000000000000000000000001155")
	UniqueStore     = common.HexToAddress("0x5700000000000000000000000000000000000721")
	QuantityStore   = common.HexToAddress("0x5700000000000000000000000000000000001155")

	User1 = common.HexToAddress("0xAA00000000000000000000000000000000000001")
	User2 = common.HexToAddress("0xAA00000000000000000000000000000000000002")
	User3 = common.HexToAddress("0xAA00000000000000000000000000000000000003")

	PlatformWallet = common.HexToAddress("0xFE00000000000000000000000000000000000001")
	ProjectWallet  = common.HexToAddress("0xFE00000000000000000000000000000000000002")

	WETH  = common.HexToAddress("0x2000000000000000000000000000000000000001")
	Token = common.HexToAddress("0x2000000000000000000000000000000000000002")
	NFT   = common.HexToAddress("0x7210000000000000000000000000000000000000")
	SFT   = common.HexToAddress("0x1155000000000000000000000000000000000000")
)

const (
	StartBalance = 100
	StartUnits   = 1000
	SFTTokenID   = 1
	Allowance    = 1_000_000
)

var (
	User1Tokens = []uint64{1, 2, 3, 4, 5}
	User2Tokens = []uint64{6, 7, 8, 9, 10}
)

// Start is the fixture clock's initial time.
var Start = time.Unix(1_700_000_000, 0)

type Fixture struct {
	Vault         *custody.Vault
	Clock         *util.ManualClock
	Fees          *fee.Engine
	Coordinator   *exchange.Coordinator
	Unique        *adapter.Unique
	Quantity      *adapter.Quantity
	UniqueStore   *ledger.Store
	QuantityStore *ledger.Store

	mu     sync.Mutex
	events []exchange.Event
}

// New builds a registered coordinator. User1 and User2 hold StartBalance of
// both payment tokens, StartUnits of SFT token 1 and their NFT tokens; all
// of it is approved to the coordinator.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		Vault: custody.NewVault(),
		Clock: util.NewManualClock(Start),
	}
	f.fund(t)

	fees, err := fee.NewEngine(PlatformWallet, 0)
	if err != nil {
		t.Fatalf("fee engine: %v", err)
	}
	f.Fees = fees
	f.Coordinator = f.NewCoordinator(CoordinatorAddr)
	f.Unique = adapter.NewUnique(adapter.Config{Address: UniqueAdapter, Owner: Owner, Master: CoordinatorAddr, Clock: f.Clock}, f.Vault.Unique)
	f.Quantity = adapter.NewQuantity(adapter.Config{Address: QuantityAdapter, Owner: Owner, Master: CoordinatorAddr, Clock: f.Clock}, f.Vault.Quantity)
	f.UniqueStore = NewStore(ledger.Unique)
	f.QuantityStore = NewStore(ledger.Quantity)

	if err := f.Coordinator.Register(Owner, f.Unique, f.UniqueStore, f.Quantity, f.QuantityStore); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.ApproveAll(CoordinatorAddr)
	return f
}

// NewStore returns an empty in-memory store owned by Owner.
func NewStore(kind ledger.Kind) *ledger.Store {
	addr := UniqueStore
	if kind == ledger.Quantity {
		addr = QuantityStore
	}
	return ledger.NewStore(ledger.StoreConfig{Kind: kind, Address: addr, Owner: Owner, KV: storage.NewMemKV()})
}

// NewCoordinator builds an unregistered coordinator at addr sharing the
// fixture's custody, fees and clock, and records its events.
func (f *Fixture) NewCoordinator(addr common.Address) *exchange.Coordinator {
	c := exchange.NewCoordinator(exchange.Config{
		Address:  addr,
		Owner:    Owner,
		Fees:     f.Fees,
		Payments: f.Vault.Payments,
		Journal:  f.Vault,
		Clock:    f.Clock,
	})
	c.Subscribe(exchange.SinkFunc(func(_ context.Context, events []exchange.Event) error {
		f.mu.Lock()
		f.events = append(f.events, events...)
		f.mu.Unlock()
		return nil
	}))
	return c
}

func (f *Fixture) fund(t testing.TB) {
	v := f.Vault
	v.Payments.Create(WETH)
	v.Payments.Create(Token)
	v.Unique.Create(NFT)
	v.Quantity.Create(SFT)
	must := func(err error) {
		if err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	for _, u := range []common.Address{User1, User2} {
		must(v.Payments.Mint(WETH, u, uint256.NewInt(StartBalance)))
		must(v.Payments.Mint(Token, u, uint256.NewInt(StartBalance)))
		must(v.Quantity.Mint(SFT, u, uint256.NewInt(SFTTokenID), StartUnits))
	}
	must(v.Payments.Mint(Token, User3, uint256.NewInt(10*StartBalance)))
	for _, id := range User1Tokens {
		must(v.Unique.Mint(NFT, User1, uint256.NewInt(id)))
	}
	for _, id := range User2Tokens {
		must(v.Unique.Mint(NFT, User2, uint256.NewInt(id)))
	}
	v.Finalise()
}

// ApproveAll approves operator for every asset and payment token of every user.
func (f *Fixture) ApproveAll(operator common.Address) {
	for _, u := range []common.Address{User1, User2, User3} {
		f.Vault.Unique.SetApprovalForAll(NFT, u, operator, true)
		f.Vault.Quantity.SetApprovalForAll(SFT, u, operator, true)
		f.Vault.Payments.Approve(WETH, u, operator, uint256.NewInt(Allowance))
		f.Vault.Payments.Approve(Token, u, operator, uint256.NewInt(Allowance))
	}
	f.Vault.Finalise()
}

// Place builds a place request.
func Place(payment, target common.Address, tokenID, price, amount, days uint64) exchange.PlaceRequest {
	return exchange.PlaceRequest{
		Payment:    payment,
		Target:     target,
		TokenID:    *uint256.NewInt(tokenID),
		Price:      *uint256.NewInt(price),
		Amount:     amount,
		ExpireDays: days,
	}
}

// Order builds a slot-addressing request.
func Order(sig exchange.MethodSig, payment, target, taker common.Address, tokenID, price, amount, index uint64) exchange.OrderRequest {
	return exchange.OrderRequest{
		MethodSig:  sig,
		Payment:    payment,
		Target:     target,
		Taker:      taker,
		TokenID:    *uint256.NewInt(tokenID),
		Price:      *uint256.NewInt(price),
		Amount:     amount,
		OrderIndex: index,
	}
}

func Key(payment, target common.Address, tokenID, price uint64, side ledger.Side) ledger.QueueKey {
	return ledger.NewQueueKey(payment, target, uint256.NewInt(tokenID), uint256.NewInt(price), side)
}

// Events returns and clears the events delivered so far.
func (f *Fixture) Events() []exchange.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

func (f *Fixture) Store(target common.Address) *ledger.Store {
	if target == NFT {
		return f.UniqueStore
	}
	return f.QuantityStore
}

func (f *Fixture) Cursor(t testing.TB, key ledger.QueueKey) ledger.Cursor {
	t.Helper()
	cur, err := f.Store(key.Target).IndexRange(key)
	if err != nil {
		t.Fatalf("index range: %v", err)
	}
	return cur
}

func (f *Fixture) Slot(t testing.TB, key ledger.QueueKey, index uint64) ledger.Order {
	t.Helper()
	o, err := f.Store(key.Target).Peek(key, index)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	return o
}

func (f *Fixture) Balance(token, owner common.Address) uint64 {
	b := f.Vault.Payments.BalanceOf(token, owner)
	return b.Uint64()
}

func (f *Fixture) Units(owner common.Address, tokenID uint64) uint64 {
	return f.Vault.Quantity.BalanceOf(SFT, owner, uint256.NewInt(tokenID))
}

func (f *Fixture) OwnerOf(tokenID uint64) common.Address {
	owner, _ := f.Vault.Unique.OwnerOf(NFT, uint256.NewInt(tokenID))
	return owner
}

// ZeroAddress is the unset address.
var ZeroAddress common.Address

// Int is shorthand for a 256-bit constant.
func Int(v uint64) *uint256.Int { return uint256.NewInt(v) }
