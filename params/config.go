package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Exchange struct {
	// Owner is the admin identity of the coordinator, adapters and stores.
	Owner string
	// FeeWallet receives the platform cut. BaseFeeRate is out of RateBase (1000).
	FeeWallet   string
	BaseFeeRate uint64
	ChainID     int64
}

type Storage struct {
	DataDir string
	// Backend is "pebble" (durable) or "memory" (ephemeral devnet).
	Backend string
}

type Node struct {
	// BatchInterval is how often the sequencer drains the mempool.
	BatchInterval time.Duration
	// BatchMax caps requests applied per drain; 0 means no cap.
	BatchMax int
	LogFile  string
	Verbose  bool
	// Genesis is an optional JSON file seeding the devnet custody ledgers.
	Genesis string
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type P2P struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

// TxGen drives the devnet request feeder.
type TxGen struct {
	Enabled bool
	// Mode is "default" or "high".
	Mode    string
	Payment string
	Target  string
}

type Config struct {
	Exchange Exchange
	Storage  Storage
	Node     Node
	API      API
	P2P      P2P
	Kafka    Kafka
	TxGen    TxGen
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Owner:       "0xAD00000000000000000000000000000000000000",
			FeeWallet:   "0xFE00000000000000000000000000000000000000",
			BaseFeeRate: 0,
			ChainID:     1337,
		},
		Storage: Storage{
			DataDir: "data",
			Backend: "pebble",
		},
		Node: Node{
			BatchInterval: 200 * time.Millisecond,
			BatchMax:      0,
			LogFile:       "data/node.log",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		P2P: P2P{
			Enabled:    false,
			ListenAddr: "/ip4/0.0.0.0/tcp/4001",
		},
		Kafka: Kafka{
			Topic: "levelbook.events",
		},
		TxGen: TxGen{
			Mode:    "default",
			Payment: "0x2000000000000000000000000000000000000001",
			Target:  "0x1155000000000000000000000000000000000000",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Exchange.Owner = getEnv("EXCHANGE_OWNER", cfg.Exchange.Owner)
	cfg.Exchange.FeeWallet = getEnv("FEE_WALLET", cfg.Exchange.FeeWallet)
	if rate := os.Getenv("BASE_FEE_RATE"); rate != "" {
		if v, err := strconv.ParseUint(rate, 10, 64); err == nil {
			cfg.Exchange.BaseFeeRate = v
		}
	}
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Exchange.ChainID = v
		}
	}

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)

	if ms := os.Getenv("NODE_BATCH_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Node.BatchInterval = time.Duration(v) * time.Millisecond
		}
	}
	if n := os.Getenv("NODE_BATCH_MAX"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Node.BatchMax = v
		}
	}
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"
	cfg.Node.Genesis = getEnv("GENESIS_FILE", cfg.Node.Genesis)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := splitList(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.API.AllowedOrigins = origins
	}

	if enabled := os.Getenv("P2P_ENABLED"); enabled != "" {
		cfg.P2P.Enabled = enabled == "true"
	}
	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	cfg.P2P.Bootstrap = splitList(os.Getenv("P2P_BOOTSTRAP"))

	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.TxGen.Enabled = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.TxGen.Mode = getEnv("TXGEN_MODE", cfg.TxGen.Mode)
	cfg.TxGen.Payment = getEnv("TXGEN_PAYMENT", cfg.TxGen.Payment)
	cfg.TxGen.Target = getEnv("TXGEN_TARGET", cfg.TxGen.Target)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses "a,b, c" into trimmed non-empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
