// Package pgstore backs storage.Store with a single Postgres key/value table.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
	_ "github.com/lib/pq"
)

const (
	defaultTableName    = "smartstudy_kv"
	operationTimeout    = 5 * time.Second
	likeEscapeCharacter = `\`
)

var _ storage.Store = (*Store)(nil)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type Store struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

type Option func(*Store)

// WithTableName overrides the table used for storage.
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = name
	}
}

// New validates the DSN. The connection and table are created lazily on first
// use.
func New(dsn string, options ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "postgres dsn is required")
	}
	s := &Store{
		dsn:       dsn,
		tableName: defaultTableName,
		openDB:    sql.Open,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DropTable removes the backing table. Used by integration tests.
func (s *Store) DropTable(ctx context.Context) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(s.tableName)))
	return err
}

func (s *Store) Get(ctx context.Context, key storage.Key) ([]byte, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", quoteIdentifier(s.tableName))
	var value []byte
	err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key storage.Key, value []byte) error {
	if key == "" {
		return errors.ErrInvalidKey
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, quoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, string(key), value)
	return err
}

func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", quoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, string(key))
	return err
}

func (s *Store) Keys(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE $1 ESCAPE '\'`, quoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, escapeLike(string(prefix))+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]storage.Key, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, storage.Key(key))
	}
	return keys, rows.Err()
}

func (s *Store) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		initCtx, cancel := context.WithTimeout(ctx, operationTimeout)
		defer cancel()
		if err := db.PingContext(initCtx); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, quoteIdentifier(s.tableName))
		if _, err := db.ExecContext(initCtx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscapeCharacter, likeEscapeCharacter+likeEscapeCharacter, "%", likeEscapeCharacter+"%", "_", likeEscapeCharacter+"_")
	return r.Replace(s)
}
