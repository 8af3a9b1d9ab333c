package adapter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Unique drives unique collections: every order is for exactly one token.
type Unique struct {
	base
	custody UniqueCustody
}

func NewUnique(cfg Config, custody UniqueCustody) *Unique {
	return &Unique{base: newBase(cfg), custody: custody}
}

func (u *Unique) Kind() ledger.Kind { return ledger.Unique }

func (u *Unique) Supports(target common.Address) bool { return u.custody.IsUnique(target) }

func (u *Unique) NormalizeAmount(amount uint64) (uint64, error) {
	if amount != 1 {
		return 0, xerr.Newf(xerr.InvalidRequest, "unique order amount must be 1, got %d", amount)
	}
	return 1, nil
}

func (u *Unique) Deliverable(target, owner, operator common.Address, tokenID *uint256.Int, amount uint64) bool {
	if amount > 1 {
		return false
	}
	holder, err := u.custody.OwnerOf(target, tokenID)
	if err != nil || holder != owner {
		return false
	}
	return owner == operator || u.custody.IsApprovedForAll(target, owner, operator)
}

func (u *Unique) Transfer(operator, target, from, to common.Address, tokenID *uint256.Int, amount uint64) error {
	if err := u.checkMaster(operator); err != nil {
		return err
	}
	if amount != 1 {
		return xerr.Newf(xerr.InvalidRequest, "unique transfer amount must be 1, got %d", amount)
	}
	if err := u.custody.TransferFrom(target, operator, from, to, tokenID); err != nil {
		return fmt.Errorf("failed to transfer token %s: %w", tokenID.Dec(), err)
	}
	return nil
}
