// Package nftx is the node application: a single writer that drains signed
// requests from the mempool into the coordinator and chains a digest over
// every batch it commits.
package nftx

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/mempool"
	"github.com/uhyunpark/levelbook/pkg/app/core/transaction"
	"github.com/uhyunpark/levelbook/pkg/crypto"
	"github.com/uhyunpark/levelbook/pkg/util"
)

// Observer receives per-batch and per-request outcomes.
type Observer interface {
	ObserveTx(r TxResult, took time.Duration)
	ObserveBatch(b BatchResult)
}

type Config struct {
	Coordinator *exchange.Coordinator
	Verifier    *transaction.Verifier
	Mempool     *mempool.Mempool
	// Nonces defaults to an in-memory guard.
	Nonces        *transaction.NonceGuard
	BatchInterval time.Duration
	BatchMax      int
	Clock         util.Clock
	Logger        *zap.SugaredLogger
	Observer      Observer
}

// TxResult is the outcome of one applied request.
type TxResult struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Owner common.Address `json:"owner"`
	Err   string         `json:"error,omitempty"`
}

// BatchResult summarizes one Step.
type BatchResult struct {
	Height    uint64           `json:"height"`
	Timestamp int64            `json:"timestamp"`
	Digest    common.Hash      `json:"digest"`
	Results   []TxResult       `json:"results"`
	Events    []exchange.Event `json:"-"`
}

func (b BatchResult) Rejected() int {
	n := 0
	for _, r := range b.Results {
		if r.Err != "" {
			n++
		}
	}
	return n
}

// Status is the snapshot served by the API.
type Status struct {
	Paused  bool        `json:"paused"`
	Pending int         `json:"pending"`
	Height  uint64      `json:"height"`
	Digest  common.Hash `json:"digest"`
}

type App struct {
	coord    *exchange.Coordinator
	verifier *transaction.Verifier
	nonces   *transaction.NonceGuard
	pool     *mempool.Mempool
	interval time.Duration
	batchMax int
	clock    util.Clock
	log      *zap.SugaredLogger
	observer Observer

	// step serializes batches; the coordinator already serializes calls.
	step sync.Mutex

	mu      sync.RWMutex
	height  uint64
	digest  common.Hash
	pending []exchange.Event

	// OnBatch is called after every non-empty batch.
	OnBatch func(BatchResult)
}

func NewApp(cfg Config) *App {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	interval := cfg.BatchInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = transaction.NewNonceGuard()
	}
	a := &App{
		coord:    cfg.Coordinator,
		verifier: cfg.Verifier,
		nonces:   nonces,
		pool:     cfg.Mempool,
		interval: interval,
		batchMax: cfg.BatchMax,
		clock:    clock,
		log:      util.OrNop(cfg.Logger),
		observer: cfg.Observer,
	}
	a.coord.Subscribe(exchange.SinkFunc(a.collect))
	return a
}

func (a *App) Coordinator() *exchange.Coordinator { return a.coord }

func (a *App) collect(_ context.Context, events []exchange.Event) error {
	a.mu.Lock()
	a.pending = append(a.pending, events...)
	a.mu.Unlock()
	return nil
}

// Submit checks the envelope and signature, then queues raw. The request is
// verified again when applied.
func (a *App) Submit(raw []byte) (string, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return "", err
	}
	if _, err := a.verifier.RecoverSigner(tx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := a.pool.Push(id, raw); err != nil {
		return "", err
	}
	return id, nil
}

// Run applies a batch every interval until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.log.Infow("sequencer_started", "interval_ms", a.interval.Milliseconds(), "batch_max", a.batchMax)
	for {
		select {
		case <-ctx.Done():
			a.log.Infow("sequencer_stopped", "height", a.Status().Height)
			return nil
		case <-a.clock.After(a.interval):
			a.Step(ctx)
		}
	}
}

// Step drains one batch from the mempool and applies it in order. The
// mempool puts cancels first; within one owner the requests are then
// reordered by nonce so an order and the cancel signed after it both apply.
func (a *App) Step(ctx context.Context) BatchResult {
	a.step.Lock()
	defer a.step.Unlock()

	entries := a.pool.Select(a.batchMax, 0)
	if len(entries) == 0 {
		return BatchResult{}
	}
	orderByNonce(entries)
	results := make([]TxResult, 0, len(entries))
	for _, e := range entries {
		start := time.Now()
		r := a.apply(ctx, e)
		if a.observer != nil {
			a.observer.ObserveTx(r, time.Since(start))
		}
		if r.Err != "" {
			a.log.Infow("tx_rejected", "id", r.ID, "type", r.Type, "owner", r.Owner.Hex(), "err", r.Err)
		}
		results = append(results, r)
	}

	a.mu.Lock()
	events := a.pending
	a.pending = nil
	a.height++
	b := BatchResult{
		Height:    a.height,
		Timestamp: a.clock.Now().Unix(),
		Results:   results,
		Events:    events,
	}
	b.Digest = chain(a.digest, b)
	a.digest = b.Digest
	a.mu.Unlock()

	a.log.Infow("batch_committed", "height", b.Height, "txs", len(results), "rejected", b.Rejected(),
		"events", len(events), "digest", b.Digest.Hex())
	if a.observer != nil {
		a.observer.ObserveBatch(b)
	}
	if a.OnBatch != nil {
		a.OnBatch(b)
	}
	return b
}

// orderByNonce sorts each owner's entries by nonce in place, leaving the
// positions each owner holds in the batch unchanged. Entries that do not
// decode keep their place.
func orderByNonce(entries []mempool.Entry) {
	type claimed struct {
		pos   int
		nonce uint64
	}
	byOwner := make(map[common.Address][]claimed)
	for i, e := range entries {
		tx, err := transaction.ParseTransaction(e.Bytes)
		if err != nil {
			continue
		}
		owner, nonce, err := tx.Claim()
		if err != nil {
			continue
		}
		byOwner[owner] = append(byOwner[owner], claimed{pos: i, nonce: nonce})
	}
	for _, cs := range byOwner {
		if len(cs) < 2 {
			continue
		}
		picked := make([]mempool.Entry, len(cs))
		for i, c := range cs {
			picked[i] = entries[c.pos]
		}
		order := make([]int, len(cs))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return cs[order[i]].nonce < cs[order[j]].nonce })
		for i, c := range cs {
			entries[c.pos] = picked[order[i]]
		}
	}
}

func (a *App) apply(ctx context.Context, e mempool.Entry) TxResult {
	r := TxResult{ID: e.ID, Type: e.Type.String()}
	tx, err := transaction.ParseTransaction(e.Bytes)
	if err != nil {
		r.Err = err.Error()
		return r
	}
	switch tx.Type {
	case transaction.TxTypeOrder:
		err = a.applyOrder(ctx, tx, &r)
	case transaction.TxTypeCancel:
		err = a.applyCancel(ctx, tx, &r)
	}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

func (a *App) applyOrder(ctx context.Context, tx *transaction.SignedTransaction, r *TxResult) error {
	o, err := a.verifier.VerifyOrder(tx)
	if err != nil {
		return err
	}
	r.Owner = o.Owner
	if err := a.nonces.Use(o.Owner, o.Nonce); err != nil {
		return err
	}
	switch o.Mode {
	case crypto.ModeMarket:
		return a.coord.MarketMatch(ctx, o.Owner, o.Request())
	case crypto.ModeAssign:
		return a.coord.AssignMatch(ctx, o.Owner, o.Request())
	default:
		return a.coord.Match(ctx, o.Owner, o.Place())
	}
}

func (a *App) applyCancel(ctx context.Context, tx *transaction.SignedTransaction, r *TxResult) error {
	c, err := a.verifier.VerifyCancel(tx)
	if err != nil {
		return err
	}
	r.Owner = c.Owner
	if err := a.nonces.Use(c.Owner, c.Nonce); err != nil {
		return err
	}
	if c.Admin {
		return a.coord.AdminCancel(ctx, c.Owner, c.Request)
	}
	return a.coord.Cancel(ctx, c.Owner, c.Request)
}

// chain hashes the previous digest, the batch header, every request outcome
// and every committed event, in order.
func chain(prev common.Hash, b BatchResult) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(prev[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.Height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Timestamp))
	h.Write(buf[:])
	for _, r := range b.Results {
		fmt.Fprintf(h, "%s|%s|%s|%s;", r.ID, r.Type, r.Owner.Hex(), r.Err)
	}
	for _, e := range b.Events {
		enc, _ := json.Marshal(e)
		h.Write(enc)
	}
	return common.BytesToHash(h.Sum(nil))
}

func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{
		Paused:  a.coord.Paused(),
		Pending: a.pool.Len(),
		Height:  a.height,
		Digest:  a.digest,
	}
}
