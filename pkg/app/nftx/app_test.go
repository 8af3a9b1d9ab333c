package nftx

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	xt "github.com/uhyunpark/levelbook/pkg/app/core/exchange/exchangetest"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/app/core/mempool"
	"github.com/uhyunpark/levelbook/pkg/app/core/transaction"
	"github.com/uhyunpark/levelbook/pkg/crypto"
	"github.com/uhyunpark/levelbook/pkg/storage"
)

var ctx = context.Background()

type harness struct {
	f      *xt.Fixture
	app    *App
	seller *crypto.Signer
	buyer  *crypto.Signer
	eip    *crypto.EIP712Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := xt.New(t)
	h := &harness{f: f, eip: crypto.NewEIP712Signer(crypto.DefaultDomain())}
	h.seller, _ = crypto.GenerateKey()
	h.buyer, _ = crypto.GenerateKey()

	v := f.Vault
	if err := v.Quantity.Mint(xt.SFT, h.seller.Address(), xt.Int(xt.SFTTokenID), 100); err != nil {
		t.Fatal(err)
	}
	if err := v.Payments.Mint(xt.WETH, h.buyer.Address(), xt.Int(1000)); err != nil {
		t.Fatal(err)
	}
	v.Quantity.SetApprovalForAll(xt.SFT, h.seller.Address(), xt.CoordinatorAddr, true)
	_ = v.Payments.Approve(xt.WETH, h.buyer.Address(), xt.CoordinatorAddr, xt.Int(1000))
	v.Finalise()

	h.app = h.newApp(nil)
	return h
}

// newApp builds a sequencer over the harness coordinator with a fresh mempool.
func (h *harness) newApp(nonces *transaction.NonceGuard) *App {
	return NewApp(Config{
		Coordinator: h.f.Coordinator,
		Verifier:    transaction.NewVerifier(crypto.DefaultDomain(), h.f.Clock),
		Mempool:     mempool.NewMempool(0),
		Nonces:      nonces,
		Clock:       h.f.Clock,
	})
}

func (h *harness) order(t *testing.T, s *crypto.Signer, mode string, sig exchange.MethodSig, price, amount, nonce uint64) []byte {
	t.Helper()
	p := &transaction.OrderPayload{
		Mode:      mode,
		MethodSig: sig.String(),
		Payment:   xt.WETH.Hex(),
		Target:    xt.SFT.Hex(),
		TokenID:   strconv.Itoa(xt.SFTTokenID),
		Price:     strconv.FormatUint(price, 10),
		Amount:    strconv.FormatUint(amount, 10),
		Nonce:     strconv.FormatUint(nonce, 10),
		Owner:     s.Address().Hex(),
	}
	o, err := p.Decode()
	if err != nil {
		t.Fatal(err)
	}
	signature, err := h.eip.SignPlace(s, o.EIP712())
	if err != nil {
		t.Fatal(err)
	}
	return encode(t, &transaction.SignedTransaction{Type: transaction.TxTypeOrder, Order: p, Signature: hexutil.Encode(signature)})
}

func (h *harness) cancel(t *testing.T, s *crypto.Signer, price, amount, index, nonce uint64) []byte {
	t.Helper()
	p := &transaction.CancelPayload{
		MethodSig:  exchange.SellSig.String(),
		Payment:    xt.WETH.Hex(),
		Target:     xt.SFT.Hex(),
		TokenID:    strconv.Itoa(xt.SFTTokenID),
		Price:      strconv.FormatUint(price, 10),
		Amount:     strconv.FormatUint(amount, 10),
		OrderIndex: strconv.FormatUint(index, 10),
		Nonce:      strconv.FormatUint(nonce, 10),
		Owner:      s.Address().Hex(),
	}
	c, err := p.Decode()
	if err != nil {
		t.Fatal(err)
	}
	signature, err := h.eip.SignCancel(s, c.EIP712())
	if err != nil {
		t.Fatal(err)
	}
	return encode(t, &transaction.SignedTransaction{Type: transaction.TxTypeCancel, Cancel: p, Signature: hexutil.Encode(signature)})
}

func encode(t *testing.T, tx *transaction.SignedTransaction) []byte {
	t.Helper()
	b, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (h *harness) submit(t *testing.T, raw []byte) {
	t.Helper()
	if _, err := h.app.Submit(raw); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSequencerAppliesSignedRequests(t *testing.T) {
	h := newHarness(t)
	buy := h.order(t, h.buyer, "limit", exchange.BuySig, 5, 4, 1)
	h.submit(t, h.order(t, h.seller, "limit", exchange.SellSig, 5, 10, 1))
	h.submit(t, buy)
	if got := h.app.Status().Pending; got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}

	b1 := h.app.Step(ctx)
	if b1.Height != 1 || len(b1.Results) != 2 || b1.Rejected() != 0 {
		t.Fatalf("batch 1 = %+v", b1)
	}
	if got := h.f.Vault.Quantity.BalanceOf(xt.SFT, h.buyer.Address(), xt.Int(xt.SFTTokenID)); got != 4 {
		t.Errorf("buyer units = %d, want 4", got)
	}
	if len(b1.Events) != 2 || b1.Events[1].Type != exchange.EventBuyMatch {
		t.Errorf("events = %+v, want addSell then buyMatch", b1.Events)
	}

	// replayed buy is rejected; the cancel queued after it runs first
	h.submit(t, buy)
	h.submit(t, h.cancel(t, h.seller, 5, 6, 0, 2))
	b2 := h.app.Step(ctx)
	if len(b2.Results) != 2 || b2.Results[0].Type != "cancel" || b2.Results[0].Err != "" {
		t.Fatalf("batch 2 results = %+v", b2.Results)
	}
	if !strings.Contains(b2.Results[1].Err, "nonce too low") {
		t.Errorf("replay err = %q", b2.Results[1].Err)
	}
	key := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 5, ledger.Sell)
	if o := h.f.Slot(t, key, 0); o.Amount != 0 {
		t.Errorf("canceled slot amount = %d", o.Amount)
	}

	if b2.Digest == b1.Digest || b1.Digest == (common.Hash{}) {
		t.Errorf("digests did not chain: %s, %s", b1.Digest.Hex(), b2.Digest.Hex())
	}
	if st := h.app.Status(); st.Height != 2 || st.Digest != b2.Digest || st.Pending != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestOrderThenCancelInOneBatch(t *testing.T) {
	h := newHarness(t)
	h.submit(t, h.order(t, h.seller, "limit", exchange.SellSig, 5, 10, 1))
	if b := h.app.Step(ctx); b.Rejected() != 0 {
		t.Fatalf("batch 1 results = %+v", b.Results)
	}

	// the cancel is drained first but was signed after the order
	h.submit(t, h.order(t, h.seller, "limit", exchange.SellSig, 5, 3, 2))
	h.submit(t, h.cancel(t, h.seller, 5, 3, 1, 3))
	b := h.app.Step(ctx)
	if len(b.Results) != 2 || b.Rejected() != 0 {
		t.Fatalf("batch 2 results = %+v", b.Results)
	}
	if b.Results[0].Type != "order" || b.Results[1].Type != "cancel" {
		t.Errorf("applied %s then %s, want order then cancel", b.Results[0].Type, b.Results[1].Type)
	}
	key := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 5, ledger.Sell)
	if o := h.f.Slot(t, key, 1); o.Amount != 0 {
		t.Errorf("canceled slot amount = %d, want 0", o.Amount)
	}
	if o := h.f.Slot(t, key, 0); o.Amount != 10 {
		t.Errorf("first slot amount = %d, want 10", o.Amount)
	}
	if last, _ := h.app.nonces.Last(h.seller.Address()); last != 3 {
		t.Errorf("last nonce = %d, want 3", last)
	}
}

func TestOrderByNonceKeepsOwnerPositions(t *testing.T) {
	h := newHarness(t)
	a1 := h.order(t, h.seller, "limit", exchange.SellSig, 5, 1, 1)
	a2 := h.order(t, h.seller, "limit", exchange.SellSig, 5, 1, 2)
	b1 := h.order(t, h.buyer, "limit", exchange.BuySig, 5, 1, 1)
	entries := []mempool.Entry{
		{ID: "a2", Bytes: a2},
		{ID: "b1", Bytes: b1},
		{ID: "junk", Bytes: []byte("{")},
		{ID: "a1", Bytes: a1},
	}
	orderByNonce(entries)
	var got []string
	for _, e := range entries {
		got = append(got, e.ID)
	}
	if want := "a1 b1 junk a2"; strings.Join(got, " ") != want {
		t.Errorf("order = %v, want %s", got, want)
	}
}

func TestReplayRejectedAfterRestart(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	open := func() (*storage.PebbleKV, *transaction.NonceGuard) {
		t.Helper()
		kv, err := storage.NewPebbleKV(dir)
		if err != nil {
			t.Fatal(err)
		}
		g, err := transaction.OpenNonceGuard(kv)
		if err != nil {
			t.Fatal(err)
		}
		return kv, g
	}

	kv, nonces := open()
	h.app = h.newApp(nonces)
	sell := h.order(t, h.seller, "limit", exchange.SellSig, 5, 10, 1)
	h.submit(t, sell)
	if b := h.app.Step(ctx); b.Rejected() != 0 {
		t.Fatalf("first run results = %+v", b.Results)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	kv, nonces = open()
	defer kv.Close()
	h.app = h.newApp(nonces)
	h.submit(t, sell)
	b := h.app.Step(ctx)
	if len(b.Results) != 1 || !strings.Contains(b.Results[0].Err, "nonce too low") {
		t.Fatalf("replay after restart results = %+v", b.Results)
	}
	key := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 5, ledger.Sell)
	if cur := h.f.Cursor(t, key); cur.End != 1 {
		t.Errorf("sell cursor = %+v, want one order", cur)
	}
}

func TestMarketModeDropsLeftover(t *testing.T) {
	h := newHarness(t)
	h.submit(t, h.order(t, h.seller, "limit", exchange.SellSig, 5, 3, 1))
	h.submit(t, h.order(t, h.buyer, "market", exchange.BuySig, 5, 10, 1))
	b := h.app.Step(ctx)
	if b.Rejected() != 0 {
		t.Fatalf("results = %+v", b.Results)
	}
	buys := xt.Key(xt.WETH, xt.SFT, xt.SFTTokenID, 5, ledger.Buy)
	if cur := h.f.Cursor(t, buys); cur.End != 0 {
		t.Errorf("market leftover rested: %+v", cur)
	}
	if got := h.f.Balance(xt.WETH, h.buyer.Address()); got != 985 {
		t.Errorf("buyer balance = %d, want 985", got)
	}
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	raw := h.order(t, h.seller, "limit", exchange.SellSig, 5, 1, 1)
	tampered := strings.Replace(string(raw), `"price":"5"`, `"price":"6"`, 1)
	if _, err := h.app.Submit([]byte(tampered)); err == nil {
		t.Error("tampered request admitted")
	}
	if _, err := h.app.Submit([]byte(`{"type":"order"}`)); err == nil {
		t.Error("unsigned request admitted")
	}
	if h.app.Status().Pending != 0 {
		t.Error("rejected requests were queued")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.submit(t, h.order(t, h.seller, "limit", exchange.SellSig, 5, 1, 1))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.app.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.app.Status().Height == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.app.Status().Height == 0 {
		t.Error("run never applied a batch")
	}
}
