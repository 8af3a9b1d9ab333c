package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger key schema. Numbers are fixed-width hex so lexicographic order is
// numeric order.
//
//	q:<payment>:<target>:<tokenId>:<price>:<side>:c          -> Cursor
//	q:<payment>:<target>:<tokenId>:<price>:<side>:o:<index>  -> Order
//	px:<payment>:<target>:<side>:<tokenId>:<price>           -> price index
//	id:<payment>:<target>:<side>:<tokenId>                   -> tokenId index
const (
	prefixQueue      = "q:"
	prefixPriceIndex = "px:"
	prefixIDIndex    = "id:"
)

func word(v *uint256.Int) string {
	b := v.Bytes32()
	return hex.EncodeToString(b[:])
}

func parseWord(s string) (uint256.Int, error) {
	var out uint256.Int
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("malformed index word %q", s)
	}
	out.SetBytes(b)
	return out, nil
}

func queuePrefix(k QueueKey) string {
	return fmt.Sprintf("%s%s:%s:%s:%s:%d:", prefixQueue, k.Payment.Hex(), k.Target.Hex(), word(&k.TokenID), word(&k.Price), k.Side)
}

func cursorKey(k QueueKey) []byte {
	return []byte(queuePrefix(k) + "c")
}

func orderKey(k QueueKey, index uint64) []byte {
	return []byte(fmt.Sprintf("%so:%020d", queuePrefix(k), index))
}

func priceIndexPrefix(payment, target common.Address, side Side, tokenID *uint256.Int) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%d:%s:", prefixPriceIndex, payment.Hex(), target.Hex(), side, word(tokenID)))
}

func priceIndexKey(k QueueKey) []byte {
	return append(priceIndexPrefix(k.Payment, k.Target, k.Side, &k.TokenID), word(&k.Price)...)
}

func idIndexPrefix(payment, target common.Address, side Side) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%d:", prefixIDIndex, payment.Hex(), target.Hex(), side))
}

func idIndexKey(k QueueKey) []byte {
	return append(idIndexPrefix(k.Payment, k.Target, k.Side), word(&k.TokenID)...)
}
