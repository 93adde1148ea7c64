//go:build mysql

package storage

import (
	"context"

	"github.com/walletkit/txindex/internal/kv"
	"github.com/walletkit/txindex/internal/kv/mysql"
)

func openMySQL(ctx context.Context, dsn string) (kv.Store, error) {
	return mysql.Open(ctx, dsn)
}
