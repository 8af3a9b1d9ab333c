// Package exchange is the coordinator: the single entry point that matches
// sell and buy requests against the ledger stores, settles every matched leg
// through the asset adapters and the payment custody, and owns the registry
// of active adapters and stores.
package exchange

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/app/core/fee"
	"github.com/uhyunpark/levelbook/pkg/util"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// PaymentCustody is the boundary to the fungible payment tokens.
type PaymentCustody interface {
	BalanceOf(token, owner common.Address) uint256.Int
	Allowance(token, owner, spender common.Address) uint256.Int
	TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error
}

// Journal rolls custody state back when a call fails halfway.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// finaliser is implemented by journals that can drop history once a call
// has committed.
type finaliser interface {
	Finalise()
}

type Config struct {
	Address  common.Address
	Owner    common.Address
	Viewer   common.Address
	Fees     *fee.Engine
	Payments PaymentCustody
	Journal  Journal
	Clock    util.Clock
	Logger   *zap.SugaredLogger
}

// Coordinator serializes every mutating call behind one lock.
type Coordinator struct {
	addr     common.Address
	fees     *fee.Engine
	payments PaymentCustody
	journal  Journal
	clock    util.Clock
	log      *zap.SugaredLogger

	mu     sync.RWMutex
	owner  common.Address
	viewer common.Address
	paused bool
	reg    Registration

	sinkMu sync.RWMutex
	sinks  []EventSink
}

func NewCoordinator(cfg Config) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Coordinator{
		addr:     cfg.Address,
		owner:    cfg.Owner,
		viewer:   cfg.Viewer,
		fees:     cfg.Fees,
		payments: cfg.Payments,
		journal:  cfg.Journal,
		clock:    clock,
		log:      util.OrNop(cfg.Logger),
	}
}

func (c *Coordinator) Address() common.Address { return c.addr }

func (c *Coordinator) Owner() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// Subscribe adds a sink for committed events.
func (c *Coordinator) Subscribe(sink EventSink) {
	c.sinkMu.Lock()
	c.sinks = append(c.sinks, sink)
	c.sinkMu.Unlock()
}

func (c *Coordinator) deliver(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	c.sinkMu.RLock()
	sinks := append([]EventSink(nil), c.sinks...)
	c.sinkMu.RUnlock()
	for _, s := range sinks {
		if err := s.Deliver(ctx, events); err != nil {
			c.log.Warnw("event_sink_failed", "events", len(events), "err", err)
		}
	}
}

// onlyOwner must be called with c.mu held.
func (c *Coordinator) onlyOwner(caller common.Address) error {
	if caller != c.owner {
		return xerr.New(xerr.PermissionDenied, xerr.MsgNotOwner)
	}
	return nil
}

// ==============================
// Ownership and pause
// ==============================

func (c *Coordinator) TransferOwnership(caller, newOwner common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return xerr.New(xerr.InvalidRequest, "Ownable: new owner is the zero address")
	}
	c.log.Infow("ownership_transferred", "from", c.owner.Hex(), "to", newOwner.Hex())
	c.owner = newOwner
	return nil
}

func (c *Coordinator) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Coordinator) Pause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if c.paused {
		return xerr.New(xerr.Paused, xerr.MsgPaused)
	}
	c.paused = true
	c.log.Infow("coordinator_paused", "coordinator", c.addr.Hex())
	return nil
}

func (c *Coordinator) Unpause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if !c.paused {
		return xerr.New(xerr.InvalidRequest, xerr.MsgNotPaused)
	}
	c.paused = false
	c.log.Infow("coordinator_unpaused", "coordinator", c.addr.Hex())
	return nil
}

// ==============================
// Viewer and fees
// ==============================

func (c *Coordinator) Viewer() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewer
}

func (c *Coordinator) SetViewer(caller, viewer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	c.viewer = viewer
	return nil
}

// SetAdapterViewer points a registered adapter at viewer.
func (c *Coordinator) SetAdapterViewer(caller, adapterAddr, viewer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	a := c.reg.adapterAt(adapterAddr)
	if a == nil {
		return xerr.New(xerr.InvalidRegistration, xerr.MsgInvalidExchange)
	}
	return a.SetViewer(c.addr, viewer)
}

// SetBaseFee sets the platform wallet and rate.
func (c *Coordinator) SetBaseFee(caller, wallet common.Address, rate uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if err := c.fees.SetBase(wallet, rate); err != nil {
		return err
	}
	c.log.Infow("base_fee_set", "wallet", wallet.Hex(), "rate", rate)
	return nil
}

// SetFeeBooks sets the project wallet and rate of target.
func (c *Coordinator) SetFeeBooks(caller, target, wallet common.Address, rate uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if err := c.fees.SetProject(target, wallet, rate); err != nil {
		return err
	}
	c.log.Infow("project_fee_set", "target", target.Hex(), "wallet", wallet.Hex(), "rate", rate)
	return nil
}

func (c *Coordinator) FeeBook(target common.Address) fee.Book {
	return c.fees.Book(target)
}
