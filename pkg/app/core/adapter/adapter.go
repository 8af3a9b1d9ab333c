// Package adapter translates match outcomes into custody calls for one asset
// kind and owns the expiry policy for new orders of that kind. Each adapter
// keeps a back-reference to the coordinator currently allowed to drive it.
package adapter

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/util"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

const secondsPerDay = 86400

// UniqueCustody is the boundary to unique ("721") collections.
type UniqueCustody interface {
	IsUnique(target common.Address) bool
	OwnerOf(target common.Address, tokenID *uint256.Int) (common.Address, error)
	IsApprovedForAll(target, owner, operator common.Address) bool
	TransferFrom(target, operator, from, to common.Address, tokenID *uint256.Int) error
}

// QuantityCustody is the boundary to quantity ("1155") collections.
type QuantityCustody interface {
	IsQuantity(target common.Address) bool
	BalanceOf(target, owner common.Address, tokenID *uint256.Int) uint64
	IsApprovedForAll(target, owner, operator common.Address) bool
	SafeTransferFrom(target, operator, from, to common.Address, tokenID *uint256.Int, amount uint64) error
}

// Adapter is what the coordinator and the viewer need from an asset kind.
type Adapter interface {
	Kind() ledger.Kind
	Address() common.Address

	// Master is the coordinator the adapter currently answers to.
	Master() common.Address
	SetMaster(caller, master common.Address) error
	Viewer() common.Address
	SetViewer(caller, viewer common.Address) error

	// Supports reports whether target is a collection of this kind.
	Supports(target common.Address) bool
	// NormalizeAmount validates a requested amount for this kind.
	NormalizeAmount(amount uint64) (uint64, error)
	// Deliverable reports whether owner holds amount units of tokenID and has
	// approved operator to move them.
	Deliverable(target, owner, operator common.Address, tokenID *uint256.Int, amount uint64) bool
	// Transfer moves amount units of tokenID. operator must be the master.
	Transfer(operator, target, from, to common.Address, tokenID *uint256.Int, amount uint64) error
	// ExpireTime turns a window in days into an absolute expiry.
	ExpireTime(days uint64) int64
}

// Config is shared by both adapter kinds.
type Config struct {
	Address common.Address
	Owner   common.Address
	Master  common.Address
	Viewer  common.Address
	Clock   util.Clock
	Logger  *zap.SugaredLogger
}

// base holds the registration state common to both kinds.
type base struct {
	addr  common.Address
	owner common.Address
	clock util.Clock
	log   *zap.SugaredLogger

	mu     sync.RWMutex
	master common.Address
	viewer common.Address
}

func newBase(cfg Config) base {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	return base{
		addr:   cfg.Address,
		owner:  cfg.Owner,
		clock:  clock,
		log:    util.OrNop(cfg.Logger),
		master: cfg.Master,
		viewer: cfg.Viewer,
	}
}

func (b *base) Address() common.Address { return b.addr }

func (b *base) Master() common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.master
}

func (b *base) Viewer() common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewer
}

// SetMaster is allowed for the owner and for the current master, which is
// how a coordinator hands its adapters to a successor or releases them.
func (b *base) SetMaster(caller, master common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if caller != b.owner && (b.master == (common.Address{}) || caller != b.master) {
		return xerr.New(xerr.PermissionDenied, xerr.MsgNotOwner)
	}
	b.log.Infow("adapter_master_set", "adapter", b.addr.Hex(), "master", master.Hex())
	b.master = master
	return nil
}

func (b *base) SetViewer(caller, viewer common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if caller != b.owner && (b.master == (common.Address{}) || caller != b.master) {
		return xerr.New(xerr.PermissionDenied, xerr.MsgNotOwner)
	}
	b.viewer = viewer
	return nil
}

func (b *base) ExpireTime(days uint64) int64 {
	if days == 0 {
		return ledger.NeverExpires
	}
	now := b.clock.Now().Unix()
	if days > uint64(ledger.NeverExpires-now)/secondsPerDay {
		return ledger.NeverExpires
	}
	return now + int64(days)*secondsPerDay
}

func (b *base) checkMaster(operator common.Address) error {
	if m := b.Master(); m == (common.Address{}) || operator != m {
		return xerr.New(xerr.InvalidRegistration, xerr.MsgNotMasterExchange)
	}
	return nil
}
