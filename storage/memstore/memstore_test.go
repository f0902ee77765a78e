package memstore_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/jrsteele09/smartstudy-sync/storage/memstore"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Get(ctx, storage.TokensKey)
	require.ErrorIs(t, err, errors.ErrNotFound)

	value := []byte(`{"a":1}`)
	require.NoError(t, s.Set(ctx, storage.TokensKey, value))
	value[0] = 'X'

	got, err := s.Get(ctx, storage.TokensKey)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, s.Delete(ctx, storage.TokensKey))
	require.NoError(t, s.Delete(ctx, storage.TokensKey))
	_, err = s.Get(ctx, storage.TokensKey)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStoreKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Set(ctx, "smartstudy:cache:a:1", nil))
	require.NoError(t, s.Set(ctx, "smartstudy:cache:b:1", nil))
	require.NoError(t, s.Set(ctx, storage.QueueKey, nil))

	keys, err := s.Keys(ctx, storage.CacheNamespace)
	require.NoError(t, err)
	require.ElementsMatch(t, []storage.Key{"smartstudy:cache:a:1", "smartstudy:cache:b:1"}, keys)
}
