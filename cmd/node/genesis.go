package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/custody"
	"github.com/uhyunpark/levelbook/pkg/crypto"
)

// Genesis seeds the in-memory custody ledgers of a devnet node.
//
//	{
//	  "payments": [{"token": "0x20..01", "balances": {"0xaa..01": "1000"}}],
//	  "unique":   [{"target": "0x72..00", "owners": {"1": "0xaa..01"}}],
//	  "quantity": [{"target": "0x11..00", "balances": [{"owner": "0xaa..01", "tokenId": "1", "amount": 100}]}],
//	  "approveCoordinator": true
//	}
type Genesis struct {
	Payments []struct {
		Token    common.Address                           `json:"token"`
		Balances map[common.Address]*math.HexOrDecimal256 `json:"balances"`
	} `json:"payments"`
	Unique []struct {
		Target common.Address            `json:"target"`
		Owners map[string]common.Address `json:"owners"`
	} `json:"unique"`
	Quantity []struct {
		Target   common.Address `json:"target"`
		Balances []struct {
			Owner   common.Address        `json:"owner"`
			TokenID *math.HexOrDecimal256 `json:"tokenId"`
			Amount  uint64                `json:"amount"`
		} `json:"balances"`
	} `json:"quantity"`
	// ApproveCoordinator grants the coordinator full approval and an
	// unlimited allowance for every seeded holder.
	ApproveCoordinator bool `json:"approveCoordinator"`
}

func loadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return &g, nil
}

func word(v *math.HexOrDecimal256) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig((*big.Int)(v))
	if overflow {
		return nil, fmt.Errorf("value %s overflows 256 bits", (*big.Int)(v))
	}
	return out, nil
}

// apply creates every listed collection and token and mints the balances.
// It returns the number of holders seeded.
func (g *Genesis) apply(v *custody.Vault, coordinator common.Address) (int, error) {
	holders := make(map[common.Address]bool)
	unlimited := new(uint256.Int).SetAllOne()

	for _, p := range g.Payments {
		v.Payments.Create(p.Token)
		for owner, bal := range p.Balances {
			amount, err := word(bal)
			if err != nil {
				return 0, err
			}
			if err := v.Payments.Mint(p.Token, owner, amount); err != nil {
				return 0, err
			}
			holders[owner] = true
		}
	}
	for _, u := range g.Unique {
		v.Unique.Create(u.Target)
		for id, owner := range u.Owners {
			tokenID, err := uint256.FromDecimal(id)
			if err != nil {
				return 0, fmt.Errorf("unique %s token %q: %w", u.Target.Hex(), id, err)
			}
			if err := v.Unique.Mint(u.Target, owner, tokenID); err != nil {
				return 0, err
			}
			holders[owner] = true
		}
	}
	for _, q := range g.Quantity {
		v.Quantity.Create(q.Target)
		for _, b := range q.Balances {
			tokenID, err := word(b.TokenID)
			if err != nil {
				return 0, err
			}
			if err := v.Quantity.Mint(q.Target, b.Owner, tokenID, b.Amount); err != nil {
				return 0, err
			}
			holders[b.Owner] = true
		}
	}

	if g.ApproveCoordinator {
		for owner := range holders {
			for _, p := range g.Payments {
				if err := v.Payments.Approve(p.Token, owner, coordinator, unlimited); err != nil {
					return 0, err
				}
			}
			for _, u := range g.Unique {
				v.Unique.SetApprovalForAll(u.Target, owner, coordinator, true)
			}
			for _, q := range g.Quantity {
				v.Quantity.SetApprovalForAll(q.Target, owner, coordinator, true)
			}
		}
	}
	v.Finalise()
	return len(holders), nil
}

// Feeder traders start with these holdings.
const (
	feederPayment = 1_000_000
	feederUnits   = 1_000
)

// fundTraders seeds every feeder trader with payment and units of tokenID
// and approves the coordinator.
func fundTraders(v *custody.Vault, traders []*crypto.Signer, payment, target common.Address, tokenID uint64, coordinator common.Address) error {
	v.Payments.Create(payment)
	v.Quantity.Create(target)
	id := uint256.NewInt(tokenID)
	for _, s := range traders {
		addr := s.Address()
		if err := v.Payments.Mint(payment, addr, uint256.NewInt(feederPayment)); err != nil {
			return err
		}
		if err := v.Quantity.Mint(target, addr, id, feederUnits); err != nil {
			return err
		}
		if err := v.Payments.Approve(payment, addr, coordinator, new(uint256.Int).SetAllOne()); err != nil {
			return err
		}
		v.Quantity.SetApprovalForAll(target, addr, coordinator, true)
	}
	v.Finalise()
	return nil
}
