package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/levelbook/params"
	"github.com/uhyunpark/levelbook/pkg/api"
	"github.com/uhyunpark/levelbook/pkg/app/core/adapter"
	"github.com/uhyunpark/levelbook/pkg/app/core/custody"
	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/core/fee"
	"github.com/uhyunpark/levelbook/pkg/app/core/ledger"
	"github.com/uhyunpark/levelbook/pkg/app/core/mempool"
	"github.com/uhyunpark/levelbook/pkg/app/core/transaction"
	"github.com/uhyunpark/levelbook/pkg/app/core/viewer"
	"github.com/uhyunpark/levelbook/pkg/app/nftx"
	"github.com/uhyunpark/levelbook/pkg/crypto"
	"github.com/uhyunpark/levelbook/pkg/metrics"
	"github.com/uhyunpark/levelbook/pkg/p2p"
	"github.com/uhyunpark/levelbook/pkg/sink"
	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/util"
)

const mempoolCapacity = 10_000

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Infow("node_stopped")
}

// components are the addresses of every deployed part, derived from the owner.
type components struct {
	coordinator, viewer            common.Address
	uniqueAdapter, quantityAdapter common.Address
	uniqueStore, quantityStore     common.Address
}

func deriveComponents(owner common.Address) components {
	return components{
		coordinator:     crypto.ComponentAddress(owner, "coordinator"),
		viewer:          crypto.ComponentAddress(owner, "viewer"),
		uniqueAdapter:   crypto.ComponentAddress(owner, "adapter/unique"),
		quantityAdapter: crypto.ComponentAddress(owner, "adapter/quantity"),
		uniqueStore:     crypto.ComponentAddress(owner, "store/unique"),
		quantityStore:   crypto.ComponentAddress(owner, "store/quantity"),
	}
}

// openKV returns a Pebble database under the data dir, or an in-memory KV
// for the memory backend.
func openKV(cfg params.Storage, name string) (storage.KV, error) {
	if cfg.Backend == "memory" {
		return storage.NewMemKV(), nil
	}
	return storage.NewPebbleKV(filepath.Join(cfg.DataDir, name))
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	owner := common.HexToAddress(cfg.Exchange.Owner)
	addrs := deriveComponents(owner)
	clock := util.RealClock{}

	// ---- Storage ----
	var kvs []storage.KV
	defer func() {
		for _, kv := range kvs {
			if err := kv.Close(); err != nil {
				sugar.Warnw("kv_close_failed", "err", err)
			}
		}
	}()
	open := func(name string) (storage.KV, error) {
		kv, err := openKV(cfg.Storage, name)
		if err == nil {
			kvs = append(kvs, kv)
		}
		return kv, err
	}
	uniqueKV, err := open("unique")
	if err != nil {
		return err
	}
	quantityKV, err := open("quantity")
	if err != nil {
		return err
	}
	eventsKV, err := open("events")
	if err != nil {
		return err
	}
	eventLog, err := storage.NewEventLog(eventsKV)
	if err != nil {
		return err
	}
	noncesKV, err := open("nonces")
	if err != nil {
		return err
	}
	nonces, err := transaction.OpenNonceGuard(noncesKV)
	if err != nil {
		return err
	}
	sugar.Infow("storage_ready", "backend", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir, "event_seq", eventLog.Seq())

	// ---- Custody ----
	vault := custody.NewVault()
	if cfg.Node.Genesis != "" {
		g, err := loadGenesis(cfg.Node.Genesis)
		if err != nil {
			return err
		}
		holders, err := g.apply(vault, addrs.coordinator)
		if err != nil {
			return err
		}
		sugar.Infow("genesis_applied", "file", cfg.Node.Genesis, "holders", holders)
	} else {
		sugar.Warnw("genesis_empty", "hint", "set GENESIS_FILE to seed custody")
	}

	// ---- Exchange ----
	fees, err := fee.NewEngine(common.HexToAddress(cfg.Exchange.FeeWallet), uint16(cfg.Exchange.BaseFeeRate))
	if err != nil {
		return err
	}
	coord := exchange.NewCoordinator(exchange.Config{
		Address:  addrs.coordinator,
		Owner:    owner,
		Viewer:   addrs.viewer,
		Fees:     fees,
		Payments: vault.Payments,
		Journal:  vault,
		Clock:    clock,
		Logger:   sugar.Named("exchange"),
	})
	adapterCfg := func(addr common.Address) adapter.Config {
		return adapter.Config{
			Address: addr,
			Owner:   owner,
			Master:  addrs.coordinator,
			Viewer:  addrs.viewer,
			Clock:   clock,
			Logger:  sugar.Named("adapter"),
		}
	}
	unique := adapter.NewUnique(adapterCfg(addrs.uniqueAdapter), vault.Unique)
	quantity := adapter.NewQuantity(adapterCfg(addrs.quantityAdapter), vault.Quantity)
	uniqueStore := ledger.NewStore(ledger.StoreConfig{Kind: ledger.Unique, Address: addrs.uniqueStore, Owner: owner, KV: uniqueKV, Logger: sugar.Named("store")})
	quantityStore := ledger.NewStore(ledger.StoreConfig{Kind: ledger.Quantity, Address: addrs.quantityStore, Owner: owner, KV: quantityKV, Logger: sugar.Named("store")})
	if err := coord.Register(owner, unique, uniqueStore, quantity, quantityStore); err != nil {
		return err
	}
	sugar.Infow("exchange_registered",
		"coordinator", addrs.coordinator.Hex(),
		"unique_adapter", addrs.uniqueAdapter.Hex(),
		"quantity_adapter", addrs.quantityAdapter.Hex())

	view := viewer.New(viewer.Config{
		Address:  addrs.viewer,
		Source:   coord,
		Payments: vault.Payments,
		Clock:    clock,
		Logger:   sugar.Named("viewer"),
	})

	// ---- Sequencer ----
	m := metrics.New()
	app := nftx.NewApp(nftx.Config{
		Coordinator:   coord,
		Verifier:      transaction.NewVerifier(crypto.DomainForChain(cfg.Exchange.ChainID), clock),
		Mempool:       mempool.NewMempool(mempoolCapacity),
		Nonces:        nonces,
		BatchInterval: cfg.Node.BatchInterval,
		BatchMax:      cfg.Node.BatchMax,
		Clock:         clock,
		Logger:        sugar.Named("sequencer"),
		Observer:      m,
	})

	// ---- Event sinks ----
	coord.Subscribe(m)
	coord.Subscribe(sink.NewEventLogSink(eventLog))
	if len(cfg.Kafka.Brokers) > 0 {
		ks := sink.NewKafkaSink(sink.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), 5*time.Second, sugar.Named("kafka"))
		defer ks.Close()
		coord.Subscribe(ks)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	server := api.NewServer(api.Config{
		App:         app,
		Viewer:      view,
		Fees:        coord,
		Events:      eventLog,
		Metrics:     m.Handler(),
		CORSOrigins: cfg.API.AllowedOrigins,
		Logger:      sugar.Named("api"),
	})
	coord.Subscribe(server.Hub())

	g, ctx := errgroup.WithContext(ctx)

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.TxGen.Enabled {
		payment, target := common.HexToAddress(cfg.TxGen.Payment), common.HexToAddress(cfg.TxGen.Target)
		feedCfg := nftx.DefaultFeederConfig(payment, target)
		if cfg.TxGen.Mode == "high" {
			feedCfg = nftx.HighLoadConfig(payment, target)
		}
		gen, err := nftx.NewSignedTxGenerator(feedCfg, crypto.DomainForChain(cfg.Exchange.ChainID), time.Now().UnixNano())
		if err != nil {
			return err
		}
		if err := fundTraders(vault, gen.Signers(), payment, target, feedCfg.TokenID, addrs.coordinator); err != nil {
			return err
		}
		cancelFeeder := nftx.StartTxFeeder(ctx, app, gen)
		defer cancelFeeder()
		sugar.Infow("txgen_enabled", "mode", cfg.TxGen.Mode, "accounts", feedCfg.NumAccounts)
	}

	if cfg.P2P.Enabled {
		relay, err := p2p.NewRelay(ctx, p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			return err
		}
		relay.SetHandlers(p2p.Handlers{
			OnTx: func(_ context.Context, raw []byte) {
				if _, err := app.Submit(raw); err != nil {
					sugar.Debugw("relayed_tx_rejected", "err", err)
				}
			},
			OnEvents: func(_ context.Context, origin string, events []exchange.Event) {
				sugar.Debugw("peer_events", "origin", origin, "count", len(events))
			},
		})
		coord.Subscribe(relay)
		sugar.Infow("p2p_enabled", "addrs", relay.Addrs())
		g.Go(func() error {
			<-ctx.Done()
			return relay.Close()
		})
	}

	g.Go(func() error { return app.Run(ctx) })
	g.Go(func() error {
		err := server.Start(ctx, cfg.API.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	sugar.Infow("node_started", "api", cfg.API.Addr, "batch_interval_ms", cfg.Node.BatchInterval.Milliseconds())
	return g.Wait()
}
