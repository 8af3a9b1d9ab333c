package custody

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// QuantityLedger tracks balances per (tokenId, owner) for each registered
// collection.
type QuantityLedger struct {
	v         *Vault
	balances  map[common.Address]map[uint256.Int]map[common.Address]uint64
	approvals approvals
}

// Create registers a quantity collection at target.
func (l *QuantityLedger) Create(target common.Address) {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	if _, ok := l.balances[target]; !ok {
		l.balances[target] = make(map[uint256.Int]map[common.Address]uint64)
	}
}

func (l *QuantityLedger) IsQuantity(target common.Address) bool {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	_, ok := l.balances[target]
	return ok
}

func (l *QuantityLedger) Mint(target, to common.Address, tokenID *uint256.Int, amount uint64) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	if _, ok := l.balances[target]; !ok {
		return unknownCollection(target)
	}
	l.set(target, *tokenID, to, l.balances[target][*tokenID][to]+amount)
	return nil
}

func (l *QuantityLedger) BalanceOf(target, owner common.Address, tokenID *uint256.Int) uint64 {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	return l.balances[target][*tokenID][owner]
}

func (l *QuantityLedger) SetApprovalForAll(target, owner, operator common.Address, approved bool) {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	l.approvals.set(l.v, target, owner, operator, approved)
}

func (l *QuantityLedger) IsApprovedForAll(target, owner, operator common.Address) bool {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	return l.approvals.get(target, owner, operator)
}

// SafeTransferFrom moves amount units of tokenID on behalf of operator.
func (l *QuantityLedger) SafeTransferFrom(target, operator, from, to common.Address, tokenID *uint256.Int, amount uint64) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	if _, ok := l.balances[target]; !ok {
		return unknownCollection(target)
	}
	if operator != from && !l.approvals.get(target, from, operator) {
		return notApproved()
	}
	if to == (common.Address{}) {
		return xerr.New(xerr.InvalidRequest, "transfer to the zero address")
	}
	if l.balances[target][*tokenID][from] < amount {
		return xerr.New(xerr.PermissionDenied, "insufficient balance for transfer")
	}
	l.set(target, *tokenID, from, l.balances[target][*tokenID][from]-amount)
	l.set(target, *tokenID, to, l.balances[target][*tokenID][to]+amount)
	return nil
}

func (l *QuantityLedger) set(target common.Address, id uint256.Int, owner common.Address, value uint64) {
	byID := l.balances[target]
	if byID[id] == nil {
		byID[id] = make(map[common.Address]uint64)
	}
	prev := byID[id][owner]
	byID[id][owner] = value
	l.v.record(func() { byID[id][owner] = prev })
}
