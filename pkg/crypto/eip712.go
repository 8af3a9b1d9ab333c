package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures across deployments and chains.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the coordinator, or zero for off-chain use
}

// DefaultDomain is the local development domain.
func DefaultDomain() EIP712Domain {
	return DomainForChain(1337)
}

// DomainForChain is the default domain bound to chainID.
func DomainForChain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:    "Levelbook",
		Version: "1",
		ChainID: big.NewInt(chainID),
	}
}

// Order modes.
const (
	ModeLimit  uint8 = 1 // sell/buy, leftover rests
	ModeMarket uint8 = 2 // marketMatch, leftover dropped
	ModeAssign uint8 = 3 // assignMatch against one slot
)

// PlaceEIP712 is the typed place request a wallet signs.
type PlaceEIP712 struct {
	Mode       uint8
	MethodSig  [4]byte
	Payment    common.Address
	Target     common.Address
	Taker      common.Address
	TokenID    *big.Int
	Price      *big.Int
	Amount     *big.Int
	ExpireDays *big.Int
	OrderIndex *big.Int
	Nonce      *big.Int
	Deadline   *big.Int // unix seconds, 0 = no deadline
	Owner      common.Address
}

// CancelEIP712 is the typed cancel request. Admin requests are honored
// only when Owner is the coordinator's owner.
type CancelEIP712 struct {
	Admin      bool
	MethodSig  [4]byte
	Payment    common.Address
	Target     common.Address
	TokenID    *big.Int
	Price      *big.Int
	Amount     *big.Int
	OrderIndex *big.Int
	Nonce      *big.Int
	Owner      common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var placeType = []apitypes.Type{
	{Name: "mode", Type: "uint8"},
	{Name: "methodSig", Type: "bytes4"},
	{Name: "payment", Type: "address"},
	{Name: "target", Type: "address"},
	{Name: "taker", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "price", Type: "uint256"},
	{Name: "amount", Type: "uint256"},
	{Name: "expireDays", Type: "uint256"},
	{Name: "orderIndex", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "owner", Type: "address"},
}

var cancelType = []apitypes.Type{
	{Name: "admin", Type: "bool"},
	{Name: "methodSig", Type: "bytes4"},
	{Name: "payment", Type: "address"},
	{Name: "target", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "price", Type: "uint256"},
	{Name: "amount", Type: "uint256"},
	{Name: "orderIndex", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "owner", Type: "address"},
}

// EIP712Signer hashes, signs and verifies typed place and cancel requests.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

// digest returns keccak256("\x19\x01" || domainSeparator || structHash).
func digest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256Hash(raw).Bytes(), nil
}

func dec(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (p *PlaceEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"mode":       fmt.Sprintf("%d", p.Mode),
		"methodSig":  hexutil.Encode(p.MethodSig[:]),
		"payment":    p.Payment.Hex(),
		"target":     p.Target.Hex(),
		"taker":      p.Taker.Hex(),
		"tokenId":    dec(p.TokenID),
		"price":      dec(p.Price),
		"amount":     dec(p.Amount),
		"expireDays": dec(p.ExpireDays),
		"orderIndex": dec(p.OrderIndex),
		"nonce":      dec(p.Nonce),
		"deadline":   dec(p.Deadline),
		"owner":      p.Owner.Hex(),
	}
}

func (c *CancelEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"admin":      c.Admin,
		"methodSig":  hexutil.Encode(c.MethodSig[:]),
		"payment":    c.Payment.Hex(),
		"target":     c.Target.Hex(),
		"tokenId":    dec(c.TokenID),
		"price":      dec(c.Price),
		"amount":     dec(c.Amount),
		"orderIndex": dec(c.OrderIndex),
		"nonce":      dec(c.Nonce),
		"owner":      c.Owner.Hex(),
	}
}

// HashPlace returns the digest a wallet signs for p.
func (e *EIP712Signer) HashPlace(p *PlaceEIP712) ([]byte, error) {
	return digest(e.typedData("Place", placeType, p.message()))
}

// HashCancel returns the digest a wallet signs for c.
func (e *EIP712Signer) HashCancel(c *CancelEIP712) ([]byte, error) {
	return digest(e.typedData("Cancel", cancelType, c.message()))
}

func (e *EIP712Signer) SignPlace(signer *Signer, p *PlaceEIP712) ([]byte, error) {
	hash, err := e.HashPlace(p)
	if err != nil {
		return nil, fmt.Errorf("failed to hash place: %w", err)
	}
	return signer.Sign(hash)
}

func (e *EIP712Signer) SignCancel(signer *Signer, c *CancelEIP712) ([]byte, error) {
	hash, err := e.HashCancel(c)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverPlaceSigner returns the address that produced signature over p.
func (e *EIP712Signer) RecoverPlaceSigner(p *PlaceEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashPlace(p)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash place: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// RecoverCancelSigner returns the address that produced signature over c.
func (e *EIP712Signer) RecoverCancelSigner(c *CancelEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashCancel(c)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// PlaceToJSON renders p in the eth_signTypedData_v4 format.
func (e *EIP712Signer) PlaceToJSON(p *PlaceEIP712) (string, error) {
	return typedJSON(e.typedData("Place", placeType, p.message()))
}

// CancelToJSON renders c in the eth_signTypedData_v4 format.
func (e *EIP712Signer) CancelToJSON(c *CancelEIP712) (string, error) {
	return typedJSON(e.typedData("Cancel", cancelType, c.message()))
}

func typedJSON(td apitypes.TypedData) (string, error) {
	b, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(b), nil
}

// ModeName maps a mode to its API spelling.
func ModeName(mode uint8) string {
	switch mode {
	case ModeLimit:
		return "limit"
	case ModeMarket:
		return "market"
	case ModeAssign:
		return "assign"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of ModeName. It returns 0 for unknown names.
func ParseMode(name string) uint8 {
	switch name {
	case "limit", "":
		return ModeLimit
	case "market":
		return ModeMarket
	case "assign":
		return ModeAssign
	default:
		return 0
	}
}
