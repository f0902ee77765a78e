// Package credentials persists the current access/refresh token pair.
package credentials

import (
	"context"

	"github.com/jrsteele09/smartstudy-sync/storage"
)

const tokenPairSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["access_token", "expires_at"],
	"properties": {
		"access_token": {"type": "string", "minLength": 1},
		"refresh_token": {"type": "string"},
		"expires_at": {"type": "integer"}
	}
}`

var tokenPairValidator = storage.MustCompileSchema("token-pair", tokenPairSchema)

// Store owns the persisted TokenPair. It never talks to the network.
type Store struct {
	store storage.Store
}

func NewStore(store storage.Store) *Store {
	return &Store{store: store}
}

// Set persists tokens, replacing any previous pair.
func (s *Store) Set(ctx context.Context, tokens TokenPair) error {
	return storage.SaveJSON(ctx, s.store, storage.TokensKey, tokens)
}

// Get returns the current pair, or nil when none is stored or the stored
// value is corrupt. Only storage backend failures are returned as errors.
func (s *Store) Get(ctx context.Context) (*TokenPair, error) {
	var tokens TokenPair
	found, err := storage.LoadJSON(ctx, s.store, storage.TokensKey, tokenPairValidator, &tokens)
	if err != nil || !found {
		return nil, err
	}
	return &tokens, nil
}

// Clear removes the pair unconditionally.
func (s *Store) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, storage.TokensKey)
}
