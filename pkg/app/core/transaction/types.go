package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/crypto"
	"github.com/uhyunpark/levelbook/pkg/xerr"
)

type TxType string

const (
	TxTypeOrder  TxType = "order"
	TxTypeCancel TxType = "cancel"
)

// SignedTransaction is the JSON envelope accepted by the API and queued in
// the mempool.
type SignedTransaction struct {
	ID        string         `json:"id,omitempty"` // assigned on admission, not signed
	Type      TxType         `json:"type"`
	Order     *OrderPayload  `json:"order,omitempty"`
	Cancel    *CancelPayload `json:"cancel,omitempty"`
	Signature string         `json:"signature"`
}

// OrderPayload is a place request. Numbers are decimal strings.
//
//	{
//	  "mode": "limit",
//	  "methodSig": "0x0f3cba00",
//	  "payment": "0x20..01", "target": "0x11..00",
//	  "tokenId": "1", "price": "10", "amount": "5",
//	  "expireDays": "7", "nonce": "1", "deadline": "0",
//	  "owner": "0xAA..01"
//	}
type OrderPayload struct {
	Mode       string `json:"mode"`
	MethodSig  string `json:"methodSig"`
	Payment    string `json:"payment"`
	Target     string `json:"target"`
	Taker      string `json:"taker,omitempty"`
	TokenID    string `json:"tokenId"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	ExpireDays string `json:"expireDays,omitempty"`
	OrderIndex string `json:"orderIndex,omitempty"`
	Nonce      string `json:"nonce"`
	Deadline   string `json:"deadline,omitempty"`
	Owner      string `json:"owner"`
}

// CancelPayload addresses one slot. Admin cancels are accepted only from the
// coordinator's owner.
type CancelPayload struct {
	Admin      bool   `json:"admin,omitempty"`
	MethodSig  string `json:"methodSig"`
	Payment    string `json:"payment"`
	Target     string `json:"target"`
	TokenID    string `json:"tokenId"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	OrderIndex string `json:"orderIndex"`
	Nonce      string `json:"nonce"`
	Owner      string `json:"owner"`
}

// Order is a decoded OrderPayload.
type Order struct {
	Mode       uint8
	MethodSig  exchange.MethodSig
	Payment    common.Address
	Target     common.Address
	Taker      common.Address
	TokenID    uint256.Int
	Price      uint256.Int
	Amount     uint64
	ExpireDays uint64
	OrderIndex uint64
	Nonce      uint64
	Deadline   int64
	Owner      common.Address
}

// Cancel is a decoded CancelPayload.
type Cancel struct {
	Admin   bool
	Request exchange.OrderRequest
	Nonce   uint64
	Owner   common.Address
}

func (o *OrderPayload) Decode() (*Order, error) {
	var (
		out Order
		err error
	)
	if out.Mode = crypto.ParseMode(o.Mode); out.Mode == 0 {
		return nil, xerr.Newf(xerr.InvalidRequest, "invalid mode: %s", o.Mode)
	}
	if out.MethodSig, err = exchange.ParseMethodSig(o.MethodSig); err != nil {
		return nil, err
	}
	if out.Payment, err = address("payment", o.Payment, false); err != nil {
		return nil, err
	}
	if out.Target, err = address("target", o.Target, false); err != nil {
		return nil, err
	}
	if out.Taker, err = address("taker", o.Taker, true); err != nil {
		return nil, err
	}
	if out.Owner, err = address("owner", o.Owner, false); err != nil {
		return nil, err
	}
	if err = word("tokenId", o.TokenID, &out.TokenID); err != nil {
		return nil, err
	}
	if err = word("price", o.Price, &out.Price); err != nil {
		return nil, err
	}
	if out.Amount, err = number("amount", o.Amount); err != nil {
		return nil, err
	}
	if out.ExpireDays, err = number("expireDays", o.ExpireDays); err != nil {
		return nil, err
	}
	if out.OrderIndex, err = number("orderIndex", o.OrderIndex); err != nil {
		return nil, err
	}
	if out.Nonce, err = number("nonce", o.Nonce); err != nil {
		return nil, err
	}
	deadline, err := number("deadline", o.Deadline)
	if err != nil {
		return nil, err
	}
	out.Deadline = int64(deadline)
	return &out, nil
}

func (c *CancelPayload) Decode() (*Cancel, error) {
	var (
		out Cancel
		err error
	)
	out.Admin = c.Admin
	r := &out.Request
	if r.MethodSig, err = exchange.ParseMethodSig(c.MethodSig); err != nil {
		return nil, err
	}
	if r.Payment, err = address("payment", c.Payment, false); err != nil {
		return nil, err
	}
	if r.Target, err = address("target", c.Target, false); err != nil {
		return nil, err
	}
	if out.Owner, err = address("owner", c.Owner, false); err != nil {
		return nil, err
	}
	if err = word("tokenId", c.TokenID, &r.TokenID); err != nil {
		return nil, err
	}
	if err = word("price", c.Price, &r.Price); err != nil {
		return nil, err
	}
	if r.Amount, err = number("amount", c.Amount); err != nil {
		return nil, err
	}
	if r.OrderIndex, err = number("orderIndex", c.OrderIndex); err != nil {
		return nil, err
	}
	if out.Nonce, err = number("nonce", c.Nonce); err != nil {
		return nil, err
	}
	r.Taker = out.Owner
	return &out, nil
}

// EIP712 is the typed message the owner signed.
func (o *Order) EIP712() *crypto.PlaceEIP712 {
	return &crypto.PlaceEIP712{
		Mode:       o.Mode,
		MethodSig:  o.MethodSig,
		Payment:    o.Payment,
		Target:     o.Target,
		Taker:      o.Taker,
		TokenID:    o.TokenID.ToBig(),
		Price:      o.Price.ToBig(),
		Amount:     new(big.Int).SetUint64(o.Amount),
		ExpireDays: new(big.Int).SetUint64(o.ExpireDays),
		OrderIndex: new(big.Int).SetUint64(o.OrderIndex),
		Nonce:      new(big.Int).SetUint64(o.Nonce),
		Deadline:   big.NewInt(o.Deadline),
		Owner:      o.Owner,
	}
}

func (c *Cancel) EIP712() *crypto.CancelEIP712 {
	r := c.Request
	return &crypto.CancelEIP712{
		Admin:      c.Admin,
		MethodSig:  r.MethodSig,
		Payment:    r.Payment,
		Target:     r.Target,
		TokenID:    r.TokenID.ToBig(),
		Price:      r.Price.ToBig(),
		Amount:     new(big.Int).SetUint64(r.Amount),
		OrderIndex: new(big.Int).SetUint64(r.OrderIndex),
		Nonce:      new(big.Int).SetUint64(c.Nonce),
		Owner:      c.Owner,
	}
}

// Place is the limit form of o.
func (o *Order) Place() exchange.MatchRequest {
	return exchange.MatchRequest{
		MethodSig: o.MethodSig,
		PlaceRequest: exchange.PlaceRequest{
			Payment:    o.Payment,
			Target:     o.Target,
			TokenID:    o.TokenID,
			Price:      o.Price,
			Amount:     o.Amount,
			ExpireDays: o.ExpireDays,
		},
	}
}

// Request is the market or assign form of o. A zero taker acts for the owner.
func (o *Order) Request() exchange.OrderRequest {
	taker := o.Taker
	if taker == (common.Address{}) {
		taker = o.Owner
	}
	return exchange.OrderRequest{
		MethodSig:  o.MethodSig,
		Payment:    o.Payment,
		Target:     o.Target,
		Taker:      taker,
		TokenID:    o.TokenID,
		Price:      o.Price,
		Amount:     o.Amount,
		OrderIndex: o.OrderIndex,
	}
}

// OrderPayloadFrom encodes a decoded order back into its wire form.
func OrderPayloadFrom(o *Order) *OrderPayload {
	p := &OrderPayload{
		Mode:       crypto.ModeName(o.Mode),
		MethodSig:  o.MethodSig.String(),
		Payment:    o.Payment.Hex(),
		Target:     o.Target.Hex(),
		TokenID:    o.TokenID.Dec(),
		Price:      o.Price.Dec(),
		Amount:     strconv.FormatUint(o.Amount, 10),
		ExpireDays: strconv.FormatUint(o.ExpireDays, 10),
		OrderIndex: strconv.FormatUint(o.OrderIndex, 10),
		Nonce:      strconv.FormatUint(o.Nonce, 10),
		Deadline:   strconv.FormatInt(o.Deadline, 10),
		Owner:      o.Owner.Hex(),
	}
	if o.Taker != (common.Address{}) {
		p.Taker = o.Taker.Hex()
	}
	return p
}

// CancelPayloadFrom encodes a decoded cancel back into its wire form.
func CancelPayloadFrom(c *Cancel) *CancelPayload {
	r := c.Request
	return &CancelPayload{
		Admin:      c.Admin,
		MethodSig:  r.MethodSig.String(),
		Payment:    r.Payment.Hex(),
		Target:     r.Target.Hex(),
		TokenID:    r.TokenID.Dec(),
		Price:      r.Price.Dec(),
		Amount:     strconv.FormatUint(r.Amount, 10),
		OrderIndex: strconv.FormatUint(r.OrderIndex, 10),
		Nonce:      strconv.FormatUint(c.Nonce, 10),
		Owner:      c.Owner.Hex(),
	}
}

func address(field, s string, optional bool) (common.Address, error) {
	if s == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, xerr.Newf(xerr.InvalidRequest, "invalid %s address: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func word(field, s string, out *uint256.Int) error {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return xerr.Newf(xerr.InvalidRequest, "invalid %s: %q", field, s)
	}
	out.Set(v)
	return nil
}

// number parses an optional decimal uint64; empty is 0.
func number(field, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, xerr.Newf(xerr.InvalidRequest, "invalid %s: %q", field, s)
	}
	return v, nil
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate checks the envelope shape; payload fields are checked by Decode.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return xerr.New(xerr.InvalidRequest, "missing signature")
	}
	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return xerr.New(xerr.InvalidRequest, "order type requires order payload")
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return xerr.New(xerr.InvalidRequest, "cancel type requires cancel payload")
		}
	case "":
		return xerr.New(xerr.InvalidRequest, "missing transaction type")
	default:
		return xerr.Newf(xerr.InvalidRequest, "unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction decodes and shape-checks a JSON envelope.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Claim returns the owner and nonce the payload names. The signature is not
// checked.
func (tx *SignedTransaction) Claim() (common.Address, uint64, error) {
	switch {
	case tx.Type == TxTypeOrder && tx.Order != nil:
		o, err := tx.Order.Decode()
		if err != nil {
			return common.Address{}, 0, err
		}
		return o.Owner, o.Nonce, nil
	case tx.Type == TxTypeCancel && tx.Cancel != nil:
		c, err := tx.Cancel.Decode()
		if err != nil {
			return common.Address{}, 0, err
		}
		return c.Owner, c.Nonce, nil
	default:
		return common.Address{}, 0, xerr.Newf(xerr.InvalidRequest, "unsupported transaction type: %s", tx.Type)
	}
}
