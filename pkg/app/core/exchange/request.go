package exchange

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// MethodSig is the 4-byte operation tag that selects the taker's side.
type MethodSig [4]byte

var (
	SellSig = MethodSig{0x0f, 0x3c, 0xba, 0x00}
	BuySig  = MethodSig{0xb9, 0xf5, 0xa7, 0x20}
)

// ParseMethodSig decodes a 0x-prefixed 4-byte tag. It does not check that
// the tag is a known one; Side does.
func ParseMethodSig(s string) (MethodSig, error) {
	var m MethodSig
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil || len(b) != len(m) {
		return m, xerr.New(xerr.InvalidRequest, xerr.MsgInvalidMethodSig)
	}
	copy(m[:], b)
	return m, nil
}

func (m MethodSig) String() string { return hexutil.Encode(m[:]) }

// Side maps the tag to the side of the party invoking the operation.
func (m MethodSig) Side() (ledger.Side, error) {
	switch m {
	case SellSig:
		return ledger.Sell, nil
	case BuySig:
		return ledger.Buy, nil
	default:
		return 0, xerr.New(xerr.InvalidRequest, xerr.MsgInvalidMethodSig)
	}
}

// SigFor returns the tag of side.
func SigFor(side ledger.Side) MethodSig {
	if side == ledger.Sell {
		return SellSig
	}
	return BuySig
}

// PlaceRequest is a sell or buy at one price. ExpireDays 0 never expires.
type PlaceRequest struct {
	Payment    common.Address
	Target     common.Address
	TokenID    uint256.Int
	Price      uint256.Int
	Amount     uint64
	ExpireDays uint64
}

// OrderRequest addresses a specific queue slot, or a taker acting at a
// price: cancel, adminCancel, assignMatch and marketMatch all take one.
type OrderRequest struct {
	MethodSig  MethodSig
	Payment    common.Address
	Target     common.Address
	Taker      common.Address
	TokenID    uint256.Int
	Price      uint256.Int
	Amount     uint64
	OrderIndex uint64
}

// MatchRequest is a place request tagged with its side.
type MatchRequest struct {
	MethodSig MethodSig
	PlaceRequest
}

func (r PlaceRequest) key(side ledger.Side) ledger.QueueKey {
	return ledger.NewQueueKey(r.Payment, r.Target, &r.TokenID, &r.Price, side)
}

func (r OrderRequest) key(side ledger.Side) ledger.QueueKey {
	return ledger.NewQueueKey(r.Payment, r.Target, &r.TokenID, &r.Price, side)
}

// cost is price*amount, failing on 256-bit overflow.
func cost(price *uint256.Int, amount uint64) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(amount))
	if overflow {
		return nil, xerr.Newf(xerr.InvalidRequest, "payment overflow: %s * %d", price.Dec(), amount)
	}
	return out, nil
}

func (r PlaceRequest) String() string {
	return fmt.Sprintf("%s/%s #%s @%s x%d", r.Payment.Hex(), r.Target.Hex(), r.TokenID.Dec(), r.Price.Dec(), r.Amount)
}
