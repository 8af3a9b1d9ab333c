package nftx

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/transaction"
	"github.com/uhyunpark/levelbook/pkg/crypto"
)

// FeederConfig controls devnet request generation against one quantity
// collection and payment token.
type FeederConfig struct {
	BatchSize   int           // requests generated per tick
	Interval    time.Duration // tick period
	NumAccounts int           // simulated traders
	Payment     common.Address
	Target      common.Address
	TokenID     uint64
	BasePrice   uint64 // prices are drawn from BasePrice ± 5
}

// DefaultFeederConfig returns a light load: 100 requests per second.
func DefaultFeederConfig(payment, target common.Address) FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 50,
		Payment:     payment,
		Target:      target,
		TokenID:     1,
		BasePrice:   100,
	}
}

// HighLoadConfig returns about 1000 requests per second.
func HighLoadConfig(payment, target common.Address) FeederConfig {
	cfg := DefaultFeederConfig(payment, target)
	cfg.BatchSize = 100
	cfg.NumAccounts = 200
	return cfg
}

// SignedTxGenerator signs random limit and market requests for a fixed set
// of generated traders.
type SignedTxGenerator struct {
	cfg     FeederConfig
	signers []*crypto.Signer
	eip712  *crypto.EIP712Signer

	mu     sync.Mutex
	rng    *rand.Rand
	nonces map[common.Address]uint64
}

func NewSignedTxGenerator(cfg FeederConfig, domain crypto.EIP712Domain, seed int64) (*SignedTxGenerator, error) {
	if cfg.NumAccounts <= 0 {
		return nil, fmt.Errorf("feeder needs at least one account")
	}
	signers := make([]*crypto.Signer, cfg.NumAccounts)
	for i := range signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		signers[i] = s
	}
	return &SignedTxGenerator{
		cfg:     cfg,
		signers: signers,
		eip712:  crypto.NewEIP712Signer(domain),
		rng:     rand.New(rand.NewSource(seed)),
		nonces:  make(map[common.Address]uint64),
	}, nil
}

// Signers returns the simulated traders, for funding.
func (g *SignedTxGenerator) Signers() []*crypto.Signer { return g.signers }

func (g *SignedTxGenerator) nextNonce(addr common.Address) uint64 {
	g.nonces[addr]++
	return g.nonces[addr]
}

// GenerateSignedOrder signs one request: 80% limit, 20% market, either side.
func (g *SignedTxGenerator) GenerateSignedOrder() ([]byte, error) {
	g.mu.Lock()
	signer := g.signers[g.rng.Intn(len(g.signers))]
	sig := exchange.SellSig
	if g.rng.Intn(2) == 1 {
		sig = exchange.BuySig
	}
	mode := "limit"
	if g.rng.Intn(100) >= 80 {
		mode = "market"
	}
	price := g.cfg.BasePrice + uint64(g.rng.Intn(11))
	if price > 5 {
		price -= 5
	}
	amount := uint64(g.rng.Intn(10) + 1)
	nonce := g.nextNonce(signer.Address())
	g.mu.Unlock()

	p := &transaction.OrderPayload{
		Mode:      mode,
		MethodSig: sig.String(),
		Payment:   g.cfg.Payment.Hex(),
		Target:    g.cfg.Target.Hex(),
		TokenID:   strconv.FormatUint(g.cfg.TokenID, 10),
		Price:     strconv.FormatUint(price, 10),
		Amount:    strconv.FormatUint(amount, 10),
		Nonce:     strconv.FormatUint(nonce, 10),
		Owner:     signer.Address().Hex(),
	}
	o, err := p.Decode()
	if err != nil {
		return nil, err
	}
	signature, err := g.eip712.SignPlace(signer, o.EIP712())
	if err != nil {
		return nil, err
	}
	return (&transaction.SignedTransaction{
		Type:      transaction.TxTypeOrder,
		Order:     p,
		Signature: hexutil.Encode(signature),
	}).Serialize()
}

// GenerateSignedCancel signs a cancel of slot index at price on the side
// named by sig, on behalf of trader ownerIndex.
func (g *SignedTxGenerator) GenerateSignedCancel(ownerIndex int, sig exchange.MethodSig, price, amount, index uint64) ([]byte, error) {
	if ownerIndex < 0 || ownerIndex >= len(g.signers) {
		return nil, fmt.Errorf("no trader %d", ownerIndex)
	}
	signer := g.signers[ownerIndex]
	g.mu.Lock()
	nonce := g.nextNonce(signer.Address())
	g.mu.Unlock()

	p := &transaction.CancelPayload{
		MethodSig:  sig.String(),
		Payment:    g.cfg.Payment.Hex(),
		Target:     g.cfg.Target.Hex(),
		TokenID:    strconv.FormatUint(g.cfg.TokenID, 10),
		Price:      strconv.FormatUint(price, 10),
		Amount:     strconv.FormatUint(amount, 10),
		OrderIndex: strconv.FormatUint(index, 10),
		Nonce:      strconv.FormatUint(nonce, 10),
		Owner:      signer.Address().Hex(),
	}
	c, err := p.Decode()
	if err != nil {
		return nil, err
	}
	signature, err := g.eip712.SignCancel(signer, c.EIP712())
	if err != nil {
		return nil, err
	}
	return (&transaction.SignedTransaction{
		Type:      transaction.TxTypeCancel,
		Cancel:    p,
		Signature: hexutil.Encode(signature),
	}).Serialize()
}

// StartTxFeeder submits a generated batch every cfg.Interval until the
// returned cancel function is called or ctx is done.
func StartTxFeeder(ctx context.Context, app *App, gen *SignedTxGenerator) context.CancelFunc {
	cfg := gen.cfg
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		total, rejected := 0, 0
		lastLog := start
		app.log.Infow("txfeeder_started", "batch", cfg.BatchSize, "interval_ms", cfg.Interval.Milliseconds(), "accounts", cfg.NumAccounts)

		for {
			select {
			case <-feedCtx.Done():
				app.log.Infow("txfeeder_stopped", "total", total, "rejected", rejected,
					"elapsed_s", time.Since(start).Round(time.Second).Seconds())
				return
			case <-ticker.C:
				for i := 0; i < cfg.BatchSize; i++ {
					raw, err := gen.GenerateSignedOrder()
					if err != nil {
						app.log.Warnw("txfeeder_sign_failed", "err", err)
						continue
					}
					if _, err := app.Submit(raw); err != nil {
						rejected++
						continue
					}
					total++
				}
				if time.Since(lastLog) >= 10*time.Second {
					lastLog = time.Now()
					elapsed := time.Since(start).Seconds()
					app.log.Infow("txfeeder_stats", "total", total, "rejected", rejected, "rate", float64(total)/elapsed)
				}
			}
		}
	}()

	return cancel
}
