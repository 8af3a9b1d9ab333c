package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ComponentAddress derives the address of a node component (coordinator,
// adapter, store, viewer) from the deployer and a label. The same inputs
// always give the same address, so a restarted node finds its Pebble state.
func ComponentAddress(deployer common.Address, label string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(deployer.Bytes())
	h.Write([]byte(label))
	return common.BytesToAddress(h.Sum(nil)[12:])
}

// EIP55 computes the checksummed hex string of a 20-byte address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		nibble := hash[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = hash[i>>1] >> 4
		}
		if c > '9' && nibble >= 8 {
			c = strings.ToUpper(string(c))[0]
		}
		out[2+i] = c
	}
	return string(out)
}
