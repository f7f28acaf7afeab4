package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Feed struct {
	// NodeURL is the websocket endpoint of the DEX node that delivers
	// order-book notices and answers bootstrap calls.
	NodeURL string
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// CallTimeout bounds one RPC round trip (e.g. a book bootstrap).
	CallTimeout time.Duration
}

type Market struct {
	// BaseAssetID anchors every subscribed book. Markets are always
	// quoted against this asset; it never gets a book of its own.
	BaseAssetID string
	// DefaultFeeBps applies when an asset carries no fee options.
	DefaultFeeBps int64
	// BookDepthLimit caps how many orders per side a bootstrap requests.
	BookDepthLimit int
}

type Node struct {
	APIAddr string
	DataDir string
	LogFile string
	UserID  string
}

type Config struct {
	Feed   Feed
	Market Market
	Node   Node
}

func Default() Config {
	return Config{
		Feed: Feed{
			NodeURL:     "ws://127.0.0.1:8090/ws",
			DialTimeout: 5 * time.Second,
			CallTimeout: 10 * time.Second,
		},
		Market: Market{
			BaseAssetID:    "1.3.0",
			DefaultFeeBps:  0,
			BookDepthLimit: 100,
		},
		Node: Node{
			APIAddr: ":8080",
			DataDir: "data",
			LogFile: "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("FEED_NODE_URL"); v != "" {
		cfg.Feed.NodeURL = v
	}
	if v := os.Getenv("FEED_DIAL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Feed.DialTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("FEED_CALL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Feed.CallTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("BASE_ASSET_ID"); v != "" {
		cfg.Market.BaseAssetID = v
	}
	if v := os.Getenv("DEFAULT_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.DefaultFeeBps = bps
		}
	}
	if v := os.Getenv("BOOK_DEPTH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Market.BookDepthLimit = n
		}
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.UserID = getEnv("USER_ID", cfg.Node.UserID)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
