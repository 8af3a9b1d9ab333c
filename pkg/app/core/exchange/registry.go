package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/levelbook/pkg/app/core/adapter"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Registration is the set of adapters and stores a coordinator drives.
// Either pair may be nil.
type Registration struct {
	UniqueAdapter   adapter.Adapter
	UniqueStore     *ledger.Store
	QuantityAdapter adapter.Adapter
	QuantityStore   *ledger.Store
}

func (r Registration) adapterAt(addr common.Address) adapter.Adapter {
	if r.UniqueAdapter != nil && r.UniqueAdapter.Address() == addr {
		return r.UniqueAdapter
	}
	if r.QuantityAdapter != nil && r.QuantityAdapter.Address() == addr {
		return r.QuantityAdapter
	}
	return nil
}

// Resolve picks the adapter and store that serve target.
func (r Registration) Resolve(target common.Address) (adapter.Adapter, *ledger.Store, error) {
	if r.UniqueAdapter != nil && r.UniqueStore != nil && r.UniqueAdapter.Supports(target) {
		return r.UniqueAdapter, r.UniqueStore, nil
	}
	if r.QuantityAdapter != nil && r.QuantityStore != nil && r.QuantityAdapter.Supports(target) {
		return r.QuantityAdapter, r.QuantityStore, nil
	}
	return nil, nil, xerr.Newf(xerr.InvalidRequest, "no registered exchange for collection %s", target.Hex())
}

// Registration returns the current adapters and stores.
func (c *Coordinator) Registration() Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reg
}

// Register installs both adapter/store pairs. Every adapter must already
// name this coordinator as its master; the stores are bound to it here.
func (c *Coordinator) Register(caller common.Address, uniqueAdapter adapter.Adapter, uniqueStore *ledger.Store, quantityAdapter adapter.Adapter, quantityStore *ledger.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if c.paused {
		return xerr.New(xerr.Paused, xerr.MsgPaused)
	}
	pairs := []struct {
		kind  ledger.Kind
		a     adapter.Adapter
		store *ledger.Store
	}{
		{ledger.Unique, uniqueAdapter, uniqueStore},
		{ledger.Quantity, quantityAdapter, quantityStore},
	}
	for _, p := range pairs {
		if p.a == nil || p.store == nil || p.a.Address() == (common.Address{}) || p.store.Address() == (common.Address{}) {
			return xerr.New(xerr.InvalidRegistration, xerr.MsgNullExchange)
		}
		if p.a.Kind() != p.kind || p.store.Kind() != p.kind {
			return xerr.New(xerr.InvalidRegistration, xerr.MsgNotMiniExchange)
		}
		if p.a.Master() != c.addr {
			return xerr.New(xerr.InvalidRegistration, xerr.MsgNotMasterExchange)
		}
		if p.store.Master() != c.addr && !p.store.CanBind(c.owner) {
			return xerr.New(xerr.InvalidRegistration, xerr.MsgNotMasterExchange)
		}
	}
	// every store passed CanBind above, so no Bind below is refused
	for _, p := range pairs {
		if p.store.Master() == c.addr {
			continue
		}
		if err := p.store.Bind(c.owner, c.addr); err != nil {
			return xerr.New(xerr.InvalidRegistration, xerr.MsgNotMasterExchange)
		}
	}

	c.reg = Registration{
		UniqueAdapter:   uniqueAdapter,
		UniqueStore:     uniqueStore,
		QuantityAdapter: quantityAdapter,
		QuantityStore:   quantityStore,
	}
	c.log.Infow("exchange_registered",
		"unique_adapter", uniqueAdapter.Address().Hex(),
		"unique_store", uniqueStore.Address().Hex(),
		"quantity_adapter", quantityAdapter.Address().Hex(),
		"quantity_store", quantityStore.Address().Hex(),
	)
	return nil
}

// Deregister releases one adapter and its store and forgets both. The store
// is unbound so a later Register, here or on another coordinator, starts
// from its owner.
func (c *Coordinator) Deregister(caller, adapterAddr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	a := c.reg.adapterAt(adapterAddr)
	if a == nil {
		return xerr.New(xerr.InvalidRegistration, xerr.MsgInvalidExchange)
	}
	store := c.reg.QuantityStore
	if c.reg.UniqueAdapter == a {
		store = c.reg.UniqueStore
	}
	if err := a.SetMaster(c.addr, common.Address{}); err != nil {
		return err
	}
	if store != nil && store.Master() == c.addr {
		if err := store.Bind(c.addr, common.Address{}); err != nil {
			return err
		}
	}
	if c.reg.UniqueAdapter == a {
		c.reg.UniqueAdapter, c.reg.UniqueStore = nil, nil
	} else {
		c.reg.QuantityAdapter, c.reg.QuantityStore = nil, nil
	}
	c.log.Infow("exchange_deregistered", "adapter", adapterAddr.Hex())
	return nil
}

// Migrate hands every registered adapter and store to next and pauses this
// coordinator for good. No order data moves: next must Register the same
// adapters and stores to pick the books up.
func (c *Coordinator) Migrate(caller common.Address, next *Coordinator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if c.paused {
		return xerr.New(xerr.Paused, xerr.MsgPaused)
	}
	if next == nil || next.addr == (common.Address{}) {
		return xerr.New(xerr.InvalidRegistration, xerr.MsgNullExchange)
	}
	if next == c || next.addr == c.addr {
		return xerr.New(xerr.InvalidRegistration, "cannot migrate to self")
	}

	for _, a := range []adapter.Adapter{c.reg.UniqueAdapter, c.reg.QuantityAdapter} {
		if a == nil {
			continue
		}
		if err := a.SetMaster(c.addr, next.addr); err != nil {
			return err
		}
	}
	for _, s := range []*ledger.Store{c.reg.UniqueStore, c.reg.QuantityStore} {
		if s == nil {
			continue
		}
		if err := s.Bind(c.addr, next.addr); err != nil {
			return err
		}
	}
	c.paused = true
	c.log.Infow("coordinator_migrated", "from", c.addr.Hex(), "to", next.addr.Hex())
	return nil
}
