package collections_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/smartstudy-sync/collections"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu     sync.Mutex
	online bool
}

func (p *fakeProber) set(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
}

func (p *fakeProber) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online {
		return nil
	}
	return errors.ErrNetworkUnavailable
}

type fakeFlusher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeFlusher) FlushQueue(context.Context) (collections.FlushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return collections.FlushResult{}, nil
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestMonitorFlushesOnReconnectOnly(t *testing.T) {
	prober := &fakeProber{}
	flusher := &fakeFlusher{}
	var changes []bool
	m := collections.NewMonitor(prober, flusher, collections.WithOnChange(func(online bool) {
		changes = append(changes, online)
	}))
	ctx := context.Background()

	require.False(t, m.Check(ctx))
	require.Zero(t, flusher.count())

	prober.set(true)
	require.True(t, m.Check(ctx))
	require.True(t, m.Check(ctx))
	require.Equal(t, 1, flusher.count())

	prober.set(false)
	require.False(t, m.Check(ctx))
	prober.set(true)
	require.True(t, m.Check(ctx))
	require.Equal(t, 2, flusher.count())
	require.Equal(t, []bool{true, false, true}, changes)
	require.True(t, m.Online())
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	prober := &fakeProber{online: true}
	flusher := &fakeFlusher{}
	m := collections.NewMonitor(prober, flusher,
		collections.WithInterval(time.Millisecond),
		collections.WithJitter(0),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return flusher.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	require.Equal(t, 1, flusher.count())
}

func TestJitteredInterval(t *testing.T) {
	base := 10 * time.Second
	require.Equal(t, base, collections.JitteredInterval(base, 0, 0.9))
	require.Equal(t, 8*time.Second, collections.JitteredInterval(base, 0.2, 0))
	require.Equal(t, base, collections.JitteredInterval(base, 0.2, 0.5))
	require.Equal(t, 12*time.Second, collections.JitteredInterval(base, 0.2, 1))
	require.Equal(t, 20*time.Second, collections.JitteredInterval(base, 5, 1))
	require.Equal(t, time.Millisecond, collections.JitteredInterval(0, 0.2, 0.5))
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	prober := &collections.HTTPProber{URL: server.URL, Client: server.Client()}
	require.NoError(t, prober.Probe(context.Background()), "any response means reachable")

	server.Close()
	require.ErrorIs(t, prober.Probe(context.Background()), errors.ErrNetworkUnavailable)
}
