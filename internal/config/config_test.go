package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("API_BASE", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("ENV", "")
	t.Setenv("METRICS_ADDR", "")

	c := config.New()
	require.Equal(t, config.DefaultAPIBase, c.GetAPIBase())
	require.Equal(t, config.BackendFile, c.GetStorageBackend())
	require.Equal(t, "DEV", c.GetEnv())
	require.Empty(t, c.GetMetricsAddr())
	require.Equal(t, 900*time.Second, c.GetDefaultTokenLifetime())
	require.Equal(t, 5*time.Second, c.GetRefreshLeeway())
	require.Equal(t, "http://localhost:8080/", c.GetProbeURL())
	require.Equal(t, ":8081", c.GetListenAddr())
	require.Contains(t, c.GetShellAssets(), "/index.html")
}

func TestDurationEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")
	require.Equal(t, 15*time.Second, config.New().GetRequestTimeout())

	t.Setenv("REQUEST_TIMEOUT", "3s")
	require.Equal(t, 3*time.Second, config.New().GetRequestTimeout())
}

func TestProbeJitterIsClamped(t *testing.T) {
	t.Setenv("PROBE_JITTER", "1.7")
	require.Equal(t, 1.0, config.New().GetProbeJitter())

	t.Setenv("PROBE_JITTER", "-0.5")
	require.Equal(t, 0.0, config.New().GetProbeJitter())
}

func TestListEnv(t *testing.T) {
	t.Setenv("SHELL_ASSETS", " /a.js, ,/b.css ")
	require.Equal(t, []string{"/a.js", "/b.css"}, config.New().GetShellAssets())
}

func TestStorageBackendIsLowercased(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "Redis")
	require.Equal(t, config.BackendRedis, config.New().GetStorageBackend())
}
