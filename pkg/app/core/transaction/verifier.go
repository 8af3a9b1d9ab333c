package transaction

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/levelbook/pkg/crypto"
	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/util"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// Verifier checks that a transaction was signed by the owner it names.
type Verifier struct {
	signer *crypto.EIP712Signer
	clock  util.Clock
}

func NewVerifier(domain crypto.EIP712Domain, clock util.Clock) *Verifier {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Verifier{signer: crypto.NewEIP712Signer(domain), clock: clock}
}

// VerifyOrder decodes tx.Order and checks its signature and deadline.
func (v *Verifier) VerifyOrder(tx *SignedTransaction) (*Order, error) {
	if tx.Type != TxTypeOrder || tx.Order == nil {
		return nil, xerr.New(xerr.InvalidRequest, "not an order transaction")
	}
	order, err := tx.Order.Decode()
	if err != nil {
		return nil, fmt.Errorf("invalid order format: %w", err)
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, xerr.Newf(xerr.InvalidRequest, "invalid signature: %v", err)
	}
	signer, err := v.signer.RecoverPlaceSigner(order.EIP712(), sig)
	if err != nil {
		return nil, xerr.Newf(xerr.InvalidRequest, "signature verification failed: %v", err)
	}
	if signer != order.Owner {
		return nil, xerr.New(xerr.PermissionDenied, "signature does not match owner")
	}
	if order.Deadline != 0 && v.clock.Now().Unix() > order.Deadline {
		return nil, xerr.New(xerr.InvalidRequest, "order deadline passed")
	}
	return order, nil
}

// VerifyCancel decodes tx.Cancel and checks its signature.
func (v *Verifier) VerifyCancel(tx *SignedTransaction) (*Cancel, error) {
	if tx.Type != TxTypeCancel || tx.Cancel == nil {
		return nil, xerr.New(xerr.InvalidRequest, "not a cancel transaction")
	}
	cancel, err := tx.Cancel.Decode()
	if err != nil {
		return nil, fmt.Errorf("invalid cancel format: %w", err)
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, xerr.Newf(xerr.InvalidRequest, "invalid signature: %v", err)
	}
	signer, err := v.signer.RecoverCancelSigner(cancel.EIP712(), sig)
	if err != nil {
		return nil, xerr.Newf(xerr.InvalidRequest, "signature verification failed: %v", err)
	}
	if signer != cancel.Owner {
		return nil, xerr.New(xerr.PermissionDenied, "signature does not match owner")
	}
	return cancel, nil
}

// RecoverSigner returns the verified owner of either transaction type.
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	switch tx.Type {
	case TxTypeOrder:
		o, err := v.VerifyOrder(tx)
		if err != nil {
			return common.Address{}, err
		}
		return o.Owner, nil
	case TxTypeCancel:
		c, err := v.VerifyCancel(tx)
		if err != nil {
			return common.Address{}, err
		}
		return c.Owner, nil
	default:
		return common.Address{}, xerr.Newf(xerr.InvalidRequest, "unsupported transaction type: %s", tx.Type)
	}
}

// Nonce key schema:
//
//	n:<owner hex> -> last used nonce (8-byte big endian)
const prefixNonce = "n:"

func nonceKey(owner common.Address) []byte {
	return []byte(prefixNonce + owner.Hex())
}

// NonceGuard rejects replays. Each owner's nonces must strictly increase.
// When backed by a KV every accepted nonce is written before Use returns, so
// the guard survives a restart.
type NonceGuard struct {
	mu   sync.Mutex
	kv   storage.KV
	last map[common.Address]uint64
}

// NewNonceGuard returns a guard that only remembers nonces in memory.
func NewNonceGuard() *NonceGuard {
	return &NonceGuard{last: make(map[common.Address]uint64)}
}

// OpenNonceGuard loads every saved nonce from kv and persists new ones to it.
func OpenNonceGuard(kv storage.KV) (*NonceGuard, error) {
	g := &NonceGuard{kv: kv, last: make(map[common.Address]uint64)}
	err := storage.ScanPrefix(kv, []byte(prefixNonce), func(key, value []byte) error {
		hex := strings.TrimPrefix(string(key), prefixNonce)
		if !common.IsHexAddress(hex) || len(value) != 8 {
			return fmt.Errorf("malformed nonce entry %q", key)
		}
		g.last[common.HexToAddress(hex)] = binary.BigEndian.Uint64(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load nonces: %w", err)
	}
	return g, nil
}

// Use records nonce for owner, failing if it is not above the last one.
func (g *NonceGuard) Use(owner common.Address, nonce uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.last[owner]; ok && nonce <= last {
		return xerr.Newf(xerr.InvalidRequest, "nonce too low: got %d, last %d", nonce, last)
	}
	if g.kv != nil {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], nonce)
		if err := g.kv.Apply([]storage.Write{{Key: nonceKey(owner), Value: buf[:]}}); err != nil {
			return fmt.Errorf("failed to save nonce: %w", err)
		}
	}
	g.last[owner] = nonce
	return nil
}

// Last returns the highest nonce used by owner.
func (g *NonceGuard) Last(owner common.Address) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.last[owner]
	return n, ok
}
