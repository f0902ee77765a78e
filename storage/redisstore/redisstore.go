// Package redisstore backs storage.Store with Redis so several processes can
// share the same durable state.
package redisstore

import (
	"context"
	"strings"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/redis/go-redis/v9"
)

var _ storage.Store = (*Store)(nil)

const scanBatch = 100

type Store struct {
	client *redis.Client
}

// New parses redisURL and checks the connection.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, errors.Wrapf(err, "parse redis url")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis")
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key storage.Key) ([]byte, error) {
	data, err := s.client.Get(ctx, string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key storage.Key, value []byte) error {
	if key == "" {
		return errors.ErrInvalidKey
	}
	return s.client.Set(ctx, string(key), value, 0).Err()
}

func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	return s.client.Del(ctx, string(key)).Err()
}

func (s *Store) Keys(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	keys := make([]storage.Key, 0)
	iter := s.client.Scan(ctx, 0, escapeGlob(string(prefix))+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, storage.Key(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
