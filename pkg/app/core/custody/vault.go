// Package custody is an in-memory stand-in for the asset and payment-token
// contracts the exchange settles against: unique collections, quantity
// collections and fungible payment tokens, with approvals and allowances.
// Every mutation is journaled so a failed settlement can be rolled back.
package custody

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Vault groups the three ledgers behind one lock and one journal.
type Vault struct {
	mu      sync.RWMutex
	journal []func()

	Unique   *UniqueLedger
	Quantity *QuantityLedger
	Payments *TokenLedger
}

func NewVault() *Vault {
	v := &Vault{}
	v.Unique = &UniqueLedger{v: v, owners: make(map[common.Address]map[uint256.Int]common.Address), approvals: newApprovals()}
	v.Quantity = &QuantityLedger{v: v, balances: make(map[common.Address]map[uint256.Int]map[common.Address]uint64), approvals: newApprovals()}
	v.Payments = &TokenLedger{v: v, balances: make(map[common.Address]map[common.Address]uint256.Int), allowances: make(map[common.Address]map[common.Address]map[common.Address]uint256.Int)}
	return v
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (v *Vault) Snapshot() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.journal)
}

// RevertToSnapshot undoes every mutation recorded after id.
func (v *Vault) RevertToSnapshot(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for len(v.journal) > id {
		last := len(v.journal) - 1
		v.journal[last]()
		v.journal = v.journal[:last]
	}
}

// Finalise drops the journal once no snapshot can be reverted any more.
func (v *Vault) Finalise() {
	v.mu.Lock()
	v.journal = v.journal[:0]
	v.mu.Unlock()
}

// record must be called with v.mu held.
func (v *Vault) record(undo func()) {
	v.journal = append(v.journal, undo)
}

// approvals maps collection -> owner -> operator.
type approvals map[common.Address]map[common.Address]map[common.Address]bool

func newApprovals() approvals { return make(approvals) }

func (a approvals) get(target, owner, operator common.Address) bool {
	return a[target][owner][operator]
}

func (a approvals) set(v *Vault, target, owner, operator common.Address, ok bool) {
	if a[target] == nil {
		a[target] = make(map[common.Address]map[common.Address]bool)
	}
	if a[target][owner] == nil {
		a[target][owner] = make(map[common.Address]bool)
	}
	prev := a[target][owner][operator]
	a[target][owner][operator] = ok
	v.record(func() { a[target][owner][operator] = prev })
}

func notApproved() error {
	return xerr.New(xerr.PermissionDenied, xerr.MsgAssetNotApproved)
}

func unknownCollection(target common.Address) error {
	return xerr.Newf(xerr.NotFound, "unknown collection %s", target.Hex())
}
