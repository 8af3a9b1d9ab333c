package custody

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// UniqueLedger tracks one owner per tokenId for each registered collection.
type UniqueLedger struct {
	v         *Vault
	owners    map[common.Address]map[uint256.Int]common.Address
	approvals approvals
}

// Create registers a unique collection at target.
func (l *UniqueLedger) Create(target common.Address) {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	if _, ok := l.owners[target]; !ok {
		l.owners[target] = make(map[uint256.Int]common.Address)
	}
}

func (l *UniqueLedger) IsUnique(target common.Address) bool {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	_, ok := l.owners[target]
	return ok
}

// Mint assigns a new tokenId to to.
func (l *UniqueLedger) Mint(target, to common.Address, tokenID *uint256.Int) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	coll, ok := l.owners[target]
	if !ok {
		return unknownCollection(target)
	}
	if _, exists := coll[*tokenID]; exists {
		return xerr.Newf(xerr.InvalidRequest, "token %s already minted", tokenID.Dec())
	}
	l.setOwner(target, *tokenID, to)
	return nil
}

func (l *UniqueLedger) OwnerOf(target common.Address, tokenID *uint256.Int) (common.Address, error) {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	coll, ok := l.owners[target]
	if !ok {
		return common.Address{}, unknownCollection(target)
	}
	owner, ok := coll[*tokenID]
	if !ok {
		return common.Address{}, xerr.Newf(xerr.NotFound, "owner query for nonexistent token %s", tokenID.Dec())
	}
	return owner, nil
}

func (l *UniqueLedger) SetApprovalForAll(target, owner, operator common.Address, approved bool) {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	l.approvals.set(l.v, target, owner, operator, approved)
}

func (l *UniqueLedger) IsApprovedForAll(target, owner, operator common.Address) bool {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	return l.approvals.get(target, owner, operator)
}

// TransferFrom moves tokenID from from to to on behalf of operator.
func (l *UniqueLedger) TransferFrom(target, operator, from, to common.Address, tokenID *uint256.Int) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	coll, ok := l.owners[target]
	if !ok {
		return unknownCollection(target)
	}
	if coll[*tokenID] != from {
		return xerr.New(xerr.PermissionDenied, "transfer from incorrect owner")
	}
	if operator != from && !l.approvals.get(target, from, operator) {
		return notApproved()
	}
	if to == (common.Address{}) {
		return xerr.New(xerr.InvalidRequest, "transfer to the zero address")
	}
	l.setOwner(target, *tokenID, to)
	return nil
}

func (l *UniqueLedger) setOwner(target common.Address, id uint256.Int, to common.Address) {
	coll := l.owners[target]
	prev, existed := coll[id]
	coll[id] = to
	l.v.record(func() {
		if existed {
			coll[id] = prev
		} else {
			delete(coll, id)
		}
	})
}
