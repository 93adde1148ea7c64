// Package storage opens the configured kv.Store driver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/walletkit/txindex/internal/kv"
	"github.com/walletkit/txindex/internal/kv/pebbledb"
	"github.com/walletkit/txindex/internal/kv/postgres"
)

type Config struct {
	Driver string

	DSN    string
	Schema string
	Path   string
}

func Open(ctx context.Context, cfg Config) (kv.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "pebble":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: db path is required for pebble")
		}
		return pebbledb.Open(cfg.Path)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN, cfg.Schema)
	case "mysql":
		return openMySQL(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
