package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/custody"
)

func TestGenesisApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	data := `{
	  "payments": [{"token": "0x2000000000000000000000000000000000000001", "balances": {"0xaa00000000000000000000000000000000000001": "0x3e8"}}],
	  "unique": [{"target": "0x7210000000000000000000000000000000000000", "owners": {"7": "0xaa00000000000000000000000000000000000002"}}],
	  "quantity": [{"target": "0x1155000000000000000000000000000000000000", "balances": [{"owner": "0xaa00000000000000000000000000000000000001", "tokenId": "1", "amount": 50}]}],
	  "approveCoordinator": true
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := loadGenesis(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var (
		weth  = common.HexToAddress("0x2000000000000000000000000000000000000001")
		nft   = common.HexToAddress("0x7210000000000000000000000000000000000000")
		sft   = common.HexToAddress("0x1155000000000000000000000000000000000000")
		user1 = common.HexToAddress("0xaa00000000000000000000000000000000000001")
		user2 = common.HexToAddress("0xaa00000000000000000000000000000000000002")
		coord = common.HexToAddress("0x4d00000000000000000000000000000000000001")
	)
	v := custody.NewVault()
	n, err := g.apply(v, coord)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 2 {
		t.Errorf("holders = %d, want 2", n)
	}
	if bal := v.Payments.BalanceOf(weth, user1); bal.Uint64() != 1000 {
		t.Errorf("weth balance = %s, want 1000", bal.Dec())
	}
	if owner, err := v.Unique.OwnerOf(nft, uint256.NewInt(7)); err != nil || owner != user2 {
		t.Errorf("owner of 7 = %s, %v", owner.Hex(), err)
	}
	if got := v.Quantity.BalanceOf(sft, user1, uint256.NewInt(1)); got != 50 {
		t.Errorf("sft balance = %d, want 50", got)
	}
	if !v.Quantity.IsApprovedForAll(sft, user2, coord) || !v.Unique.IsApprovedForAll(nft, user1, coord) {
		t.Error("coordinator not approved")
	}
	if a := v.Payments.Allowance(weth, user2, coord); a.IsZero() {
		t.Error("allowance not granted")
	}
}

func TestLoadGenesisMissing(t *testing.T) {
	if _, err := loadGenesis(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing genesis loaded")
	}
}
