// Package backends builds the configured storage.Store.
package backends

import (
	"context"
	"fmt"
	"io"

	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/jrsteele09/smartstudy-sync/storage/filestore"
	"github.com/jrsteele09/smartstudy-sync/storage/memstore"
	"github.com/jrsteele09/smartstudy-sync/storage/pgstore"
	"github.com/jrsteele09/smartstudy-sync/storage/redisstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the store selected by cfg together with a closer for its
// underlying connection.
func New(ctx context.Context, cfg config.StorageConfig) (storage.Store, io.Closer, error) {
	switch backend := cfg.GetStorageBackend(); backend {
	case config.BackendFile, "":
		s, err := filestore.New(cfg.GetDataFolder())
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case config.BackendMemory:
		return memstore.New(), nopCloser{}, nil
	case config.BackendRedis:
		s, err := redisstore.New(ctx, cfg.GetRedisURL())
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendPostgres:
		s, err := pgstore.New(cfg.GetPostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage backend %q", errors.ErrInvalidInput, backend)
	}
}
