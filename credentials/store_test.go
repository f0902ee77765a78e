package credentials_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/smartstudy-sync/credentials"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/jrsteele09/smartstudy-sync/storage/filestore"
	"github.com/jrsteele09/smartstudy-sync/storage/memstore"
	"github.com/stretchr/testify/require"
)

func TestNewTokenPairExpiry(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)

	pair := credentials.NewTokenPair("a", "r", 0, issued)
	require.Equal(t, issued.Unix()+900, pair.ExpiresAt)

	pair = credentials.NewTokenPair("a", "r", 60, issued)
	require.Equal(t, issued.Unix()+60, pair.ExpiresAt)
}

func TestValidFor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pair := credentials.TokenPair{AccessToken: "a", ExpiresAt: now.Unix() + 6}
	require.True(t, pair.ValidFor(now, 5*time.Second))

	pair.ExpiresAt = now.Unix() + 5
	require.False(t, pair.ValidFor(now, 5*time.Second))
}

func TestOAuth2SetsBearerHeader(t *testing.T) {
	pair := credentials.TokenPair{AccessToken: "abc", RefreshToken: "r", ExpiresAt: 10}
	req := httptest.NewRequest("GET", "/", nil)
	pair.OAuth2().SetAuthHeader(req)
	require.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
}

func TestStoreSetGetClear(t *testing.T) {
	ctx := context.Background()
	s := credentials.NewStore(memstore.New())

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	first := credentials.TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: 100}
	second := credentials.TokenPair{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: 200}
	require.NoError(t, s.Set(ctx, first))
	require.NoError(t, s.Set(ctx, second))

	got, err = s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, &second, got)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	got, err = s.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStoreCorruptValueReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	s := credentials.NewStore(backing)

	for _, raw := range []string{"not json", `{"access_token":""}`, `{"access_token":"a","expires_at":"soon"}`, `[]`} {
		require.NoError(t, backing.Set(ctx, storage.TokensKey, []byte(raw)))
		got, err := s.Get(ctx)
		require.NoError(t, err, raw)
		require.Nil(t, got, raw)
	}
}

func TestStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := filestore.New(dir)
	require.NoError(t, err)
	pair := credentials.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresAt: 42}
	require.NoError(t, credentials.NewStore(fs).Set(ctx, pair))

	reopened, err := filestore.New(dir)
	require.NoError(t, err)
	got, err := credentials.NewStore(reopened).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, &pair, got)
}
