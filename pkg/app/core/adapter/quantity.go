package adapter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Quantity drives quantity collections, where orders carry unit counts.
type Quantity struct {
	base
	custody QuantityCustody
}

func NewQuantity(cfg Config, custody QuantityCustody) *Quantity {
	return &Quantity{base: newBase(cfg), custody: custody}
}

func (q *Quantity) Kind() ledger.Kind { return ledger.Quantity }

func (q *Quantity) Supports(target common.Address) bool { return q.custody.IsQuantity(target) }

func (q *Quantity) NormalizeAmount(amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, xerr.New(xerr.InvalidRequest, "order amount must be positive")
	}
	return amount, nil
}

func (q *Quantity) Deliverable(target, owner, operator common.Address, tokenID *uint256.Int, amount uint64) bool {
	if q.custody.BalanceOf(target, owner, tokenID) < amount {
		return false
	}
	return owner == operator || q.custody.IsApprovedForAll(target, owner, operator)
}

func (q *Quantity) Transfer(operator, target, from, to common.Address, tokenID *uint256.Int, amount uint64) error {
	if err := q.checkMaster(operator); err != nil {
		return err
	}
	if err := q.custody.SafeTransferFrom(target, operator, from, to, tokenID, amount); err != nil {
		return fmt.Errorf("failed to transfer %d of token %s: %w", amount, tokenID.Dec(), err)
	}
	return nil
}
