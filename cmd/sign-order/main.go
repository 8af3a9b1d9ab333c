package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/transaction"
	"github.com/uhyunpark/levelbook/pkg/crypto"
	"github.com/uhyunpark/levelbook/pkg/util"
)

type options struct {
	key      string
	kind     string
	mode     string
	side     string
	payment  string
	target   string
	taker    string
	tokenID  string
	price    string
	amount   uint64
	days     uint64
	index    uint64
	nonce    uint64
	deadline int64
	admin    bool
	chainID  int64
	submit   string
}

func main() {
	var o options
	flag.StringVar(&o.key, "key", "", "hex private key (generated when empty)")
	flag.StringVar(&o.kind, "kind", "order", "order or cancel")
	flag.StringVar(&o.mode, "mode", "limit", "limit, market or assign")
	flag.StringVar(&o.side, "side", "sell", "sell or buy (the caller's side)")
	flag.StringVar(&o.payment, "payment", "", "payment token address")
	flag.StringVar(&o.target, "target", "", "collection address")
	flag.StringVar(&o.taker, "taker", "", "taker for assign orders (defaults to the signer)")
	flag.StringVar(&o.tokenID, "token", "1", "tokenId")
	flag.StringVar(&o.price, "price", "", "unit price")
	flag.Uint64Var(&o.amount, "amount", 1, "units")
	flag.Uint64Var(&o.days, "days", 0, "expiry window in days, 0 = never")
	flag.Uint64Var(&o.index, "index", 0, "slot index for assign and cancel")
	flag.Uint64Var(&o.nonce, "nonce", 1, "strictly increasing per signer")
	flag.Int64Var(&o.deadline, "deadline", 0, "unix seconds after which the node rejects the order, 0 = none")
	flag.BoolVar(&o.admin, "admin", false, "sign an admin cancel")
	flag.Int64Var(&o.chainID, "chain", 1337, "EIP-712 chain id")
	flag.StringVar(&o.submit, "submit", "", "node API base URL to POST the signed request to")
	flag.Parse()

	if err := run(o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSigner(key string, out io.Writer) (*crypto.Signer, error) {
	if key != "" {
		return crypto.FromPrivateKeyHex(key)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Generated key %s (KEEP SECRET!)\n", s.PrivateKeyHex())
	return s, nil
}

func methodSig(side string) (exchange.MethodSig, error) {
	switch side {
	case "sell":
		return exchange.SellSig, nil
	case "buy":
		return exchange.BuySig, nil
	default:
		return exchange.MethodSig{}, fmt.Errorf("invalid side %q", side)
	}
}

// sign builds and signs the request described by o.
func sign(o options, s *crypto.Signer) (*transaction.SignedTransaction, error) {
	sig, err := methodSig(o.side)
	if err != nil {
		return nil, err
	}
	eip := crypto.NewEIP712Signer(crypto.DomainForChain(o.chainID))

	switch o.kind {
	case "order":
		p := &transaction.OrderPayload{
			Mode:       o.mode,
			MethodSig:  sig.String(),
			Payment:    o.payment,
			Target:     o.target,
			Taker:      o.taker,
			TokenID:    o.tokenID,
			Price:      o.price,
			Amount:     strconv.FormatUint(o.amount, 10),
			ExpireDays: strconv.FormatUint(o.days, 10),
			OrderIndex: strconv.FormatUint(o.index, 10),
			Nonce:      strconv.FormatUint(o.nonce, 10),
			Deadline:   strconv.FormatInt(o.deadline, 10),
			Owner:      s.Address().Hex(),
		}
		order, err := p.Decode()
		if err != nil {
			return nil, err
		}
		signature, err := eip.SignPlace(s, order.EIP712())
		if err != nil {
			return nil, err
		}
		return &transaction.SignedTransaction{Type: transaction.TxTypeOrder, Order: p, Signature: hexutil.Encode(signature)}, nil
	case "cancel":
		p := &transaction.CancelPayload{
			Admin:      o.admin,
			MethodSig:  sig.String(),
			Payment:    o.payment,
			Target:     o.target,
			TokenID:    o.tokenID,
			Price:      o.price,
			Amount:     strconv.FormatUint(o.amount, 10),
			OrderIndex: strconv.FormatUint(o.index, 10),
			Nonce:      strconv.FormatUint(o.nonce, 10),
			Owner:      s.Address().Hex(),
		}
		c, err := p.Decode()
		if err != nil {
			return nil, err
		}
		signature, err := eip.SignCancel(s, c.EIP712())
		if err != nil {
			return nil, err
		}
		return &transaction.SignedTransaction{Type: transaction.TxTypeCancel, Cancel: p, Signature: hexutil.Encode(signature)}, nil
	default:
		return nil, fmt.Errorf("invalid kind %q", o.kind)
	}
}

func run(o options, out io.Writer) error {
	s, err := loadSigner(o.key, out)
	if err != nil {
		return err
	}
	tx, err := sign(o, s)
	if err != nil {
		return err
	}

	verifier := transaction.NewVerifier(crypto.DomainForChain(o.chainID), util.RealClock{})
	recovered, err := verifier.RecoverSigner(tx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintf(out, "Signer: %s\n", recovered.Hex())

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(txJSON))

	if o.submit == "" {
		return nil
	}
	path := "/api/v1/orders"
	if tx.Type == transaction.TxTypeCancel {
		path += "/cancel"
	}
	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	resp, err := http.Post(o.submit+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(out, "Submitted: %s %s\n", resp.Status, bytes.TrimSpace(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected request: %s", resp.Status)
	}
	return nil
}
