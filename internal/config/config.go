package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBDriver string
	DBDSN    string
	DBSchema string
	DBPath   string

	ListenAddr string
	APIToken   string
	Network    string

	CoinCacheSize int
	VerifyScripts bool

	BrokerDriver       string
	BrokerURL          string
	BrokerTopic        string
	BrokerPollInterval time.Duration
	BrokerBatchSize    int
}

func FromFlags() Config {
	var cfg Config

	flag.StringVar(&cfg.DBDriver, "db-driver", getenv("TXINDEX_DB_DRIVER", "pebble"), "Database driver (pebble, postgres, mysql)")
	flag.StringVar(&cfg.DBDSN, "db-dsn", getenv("TXINDEX_DB_DSN", ""), "Database DSN for postgres/mysql")
	flag.StringVar(&cfg.DBSchema, "db-schema", getenv("TXINDEX_DB_SCHEMA", ""), "Postgres schema for txindex tables (optional)")
	flag.StringVar(&cfg.DBPath, "db-path", getenv("TXINDEX_DB_PATH", "txindex.db"), "Pebble database path (when db-driver=pebble)")

	flag.StringVar(&cfg.ListenAddr, "listen", getenv("TXINDEX_LISTEN", "127.0.0.1:8080"), "HTTP listen address")
	flag.StringVar(&cfg.APIToken, "api-token", getenv("TXINDEX_API_TOKEN", ""), "Bearer token required on API requests (empty disables auth)")
	flag.StringVar(&cfg.Network, "network", getenv("TXINDEX_NETWORK", "mainnet"), "Chain network (mainnet, testnet, regtest, simnet)")

	flag.IntVar(&cfg.CoinCacheSize, "coin-cache-size", getenvInt("TXINDEX_COIN_CACHE_SIZE", 10000), "Per-wallet coin cache capacity")
	flag.BoolVar(&cfg.VerifyScripts, "verify-scripts", getenvBool("TXINDEX_VERIFY_SCRIPTS", false), "Script-verify wallet inputs on insert")

	flag.StringVar(&cfg.BrokerDriver, "broker-driver", getenv("TXINDEX_BROKER_DRIVER", "none"), "Message broker driver (none, kafka, nats, rabbitmq)")
	flag.StringVar(&cfg.BrokerURL, "broker-url", getenv("TXINDEX_BROKER_URL", ""), "Message broker URL/DSN")
	flag.StringVar(&cfg.BrokerTopic, "broker-topic", getenv("TXINDEX_BROKER_TOPIC", "txindex.events"), "Message broker topic/subject/queue name")
	flag.DurationVar(&cfg.BrokerPollInterval, "broker-poll-interval", getenvDuration("TXINDEX_BROKER_POLL_INTERVAL", 500*time.Millisecond), "Broker outbox poll interval")
	flag.IntVar(&cfg.BrokerBatchSize, "broker-batch-size", getenvInt("TXINDEX_BROKER_BATCH_SIZE", 1000), "Broker outbox batch size")

	flag.Parse()
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
