//go:build !mysql

package storage

import (
	"context"
	"errors"

	"github.com/walletkit/txindex/internal/kv"
)

func openMySQL(context.Context, string) (kv.Store, error) {
	return nil, errors.New("storage: mysql adapter is not built; rebuild with -tags=mysql")
}
