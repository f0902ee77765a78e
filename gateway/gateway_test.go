package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/credentials"
	"github.com/jrsteele09/smartstudy-sync/gateway"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/jrsteele09/smartstudy-sync/queue"
	"github.com/jrsteele09/smartstudy-sync/storage/memstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

type testFixture struct {
	server   *httptest.Server
	creds    *credentials.Store
	queue    *queue.Queue
	gateway  *gateway.Gateway
	refreshN atomic.Int32
}

// setupTestFixture serves handler for every selector except "refresh", which
// is answered by refresh and counted.
func setupTestFixture(t *testing.T, handler, refresh http.HandlerFunc, options ...gateway.Option) *testFixture {
	t.Helper()
	f := &testFixture{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("p") == apimodel.PathRefresh {
			f.refreshN.Add(1)
			refresh(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)

	backing := memstore.New()
	f.creds = credentials.NewStore(backing)
	f.queue = queue.New(backing)
	options = append([]gateway.Option{
		gateway.WithNowFunc(func() time.Time { return testNow }),
		gateway.WithHTTPClient(f.server.Client()),
	}, options...)
	f.gateway = gateway.New(f.server.URL+"/api/index.php?p=", f.creds, f.queue, options...)
	return f
}

func (f *testFixture) storeTokens(t *testing.T, access, refresh string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.creds.Set(context.Background(), credentials.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.Unix(),
	}))
}

func failRefresh(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "invalid refresh token", http.StatusUnauthorized)
}

func TestRequestAttachesHeadersAndDecodesJSON(t *testing.T) {
	var gotAuth, gotContentType, gotCorrelation string
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		_, _ = w.Write([]byte(`[{"id":"c1","title":"Algebra"}]`))
	}, failRefresh)
	f.storeTokens(t, "access-1", "refresh-1", testNow.Add(time.Hour))

	body, err := f.gateway.Request(context.Background(), apimodel.PathCourses, apimodel.RequestOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"c1","title":"Algebra"}]`, string(body))
	require.Equal(t, "Bearer access-1", gotAuth)
	require.Equal(t, "application/json", gotContentType)
	require.NotEmpty(t, gotCorrelation)
}

func TestRequestWithoutTokensSendsNoAuthorization(t *testing.T) {
	var gotAuth string
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, failRefresh)

	body, err := f.gateway.Request(context.Background(), apimodel.PathCourses, apimodel.RequestOptions{})
	require.NoError(t, err)
	require.Nil(t, body)
	require.Empty(t, gotAuth)
}

func TestHTTPErrorCarriesBody(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "title required", http.StatusBadRequest)
	}, failRefresh)

	_, err := f.gateway.Request(context.Background(), apimodel.PathNotes, apimodel.RequestOptions{Method: http.MethodPost, Body: json.RawMessage(`{}`)})
	var httpErr *errors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	require.Equal(t, "title required", err.Error())

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "server rejections are not queued")
}

func TestHTTPErrorFallsBackToStatusText(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, failRefresh)

	_, err := f.gateway.Request(context.Background(), apimodel.PathCourses, apimodel.RequestOptions{})
	require.EqualError(t, err, "Internal Server Error")
	require.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, func(w http.ResponseWriter, r *http.Request) {
		var req apimodel.RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "refresh-1", req.RefreshToken)
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"access_token":"fresh"}`))
	})
	f.storeTokens(t, "stale", "refresh-1", testNow.Add(-time.Minute))

	body, err := f.gateway.Request(context.Background(), apimodel.PathProfile, apimodel.RequestOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(body))
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int32(1), f.refreshN.Load())

	tokens, err := f.creds.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tokens)
	require.Equal(t, "fresh", tokens.AccessToken)
	require.Equal(t, "refresh-1", tokens.RefreshToken, "refresh token is kept when not rotated")
	require.Equal(t, testNow.Add(900*time.Second).Unix(), tokens.ExpiresAt)
}

func TestRefreshRotatesRefreshTokenAndUsesDeclaredLifetime(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","expires_in":60}`))
	})
	f.storeTokens(t, "a1", "r1", testNow.Add(2*time.Second))

	require.NoError(t, f.gateway.Refresh(context.Background()))
	tokens, err := f.creds.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, credentials.TokenPair{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: testNow.Unix() + 60}, *tokens)
}

func TestConsecutiveUnauthorizedDoesNotLoop(t *testing.T) {
	var calls atomic.Int32
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"fresh","expires_in":900}`))
	})
	f.storeTokens(t, "stale", "refresh-1", testNow.Add(-time.Minute))

	_, err := f.gateway.Request(context.Background(), apimodel.PathCourses, apimodel.RequestOptions{})
	require.ErrorIs(t, err, errors.ErrRequestFailedAfterRefresh)
	require.Equal(t, http.StatusUnauthorized, errors.StatusCode(err))
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int32(1), f.refreshN.Load())
}

func TestRefreshSkipsNetworkWhileTokenValid(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL)
	}, failRefresh)
	f.storeTokens(t, "a1", "r1", testNow.Add(6*time.Second))

	require.NoError(t, f.gateway.Refresh(context.Background()))
	require.Zero(t, f.refreshN.Load())
}

func TestFailedRefreshClearsCredentials(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, failRefresh)
	f.storeTokens(t, "expired", "bad-refresh", testNow.Add(-time.Hour))

	_, err := f.gateway.Request(context.Background(), apimodel.PathCourses, apimodel.RequestOptions{})
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	require.ErrorIs(t, err, errors.ErrRefreshFailed)

	tokens, err := f.creds.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, tokens)

	_, err = f.gateway.Request(context.Background(), apimodel.PathNotes, apimodel.RequestOptions{})
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	require.Equal(t, int32(1), f.refreshN.Load(), "no refresh token left to exchange")
}

func TestRefreshNetworkFailureClearsCredentials(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {}, failRefresh)
	f.storeTokens(t, "expired", "r1", testNow.Add(-time.Hour))
	f.server.Close()

	err := f.gateway.Refresh(context.Background())
	require.ErrorIs(t, err, errors.ErrRefreshFailed)
	require.ErrorIs(t, err, errors.ErrNetworkUnavailable)

	tokens, err := f.creds.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, tokens)
}

func TestOfflineMutationsAreQueuedInOrder(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {}, failRefresh)
	f.server.Close()
	ctx := context.Background()

	_, err := f.gateway.Request(ctx, apimodel.PathNotes, apimodel.RequestOptions{Method: "post", Body: json.RawMessage(`{"title":"first"}`)})
	require.ErrorIs(t, err, errors.ErrOfflineQueued)
	_, err = f.gateway.Request(ctx, apimodel.PathCourses+"&id=c1", apimodel.RequestOptions{Method: http.MethodDelete})
	require.ErrorIs(t, err, errors.ErrOfflineQueued)

	actions, err := f.queue.Peek(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, apimodel.PathNotes, actions[0].Path)
	require.JSONEq(t, `{"title":"first"}`, string(actions[0].Opts.Body))
	require.Equal(t, testNow.UnixMilli(), actions[0].Timestamp)
	require.Equal(t, http.MethodDelete, actions[1].Opts.Method)
}

func TestOfflineReadIsNotQueued(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {}, failRefresh)
	f.server.Close()

	_, err := f.gateway.Request(context.Background(), apimodel.PathCourses, apimodel.RequestOptions{})
	require.ErrorIs(t, err, errors.ErrNetworkUnavailable)
	require.NotErrorIs(t, err, errors.ErrOfflineQueued)
	var netErr *errors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.MethodGet, netErr.Op)

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCancelledRequestIsNotQueued(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {}, failRefresh)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gateway.Request(ctx, apimodel.PathNotes, apimodel.RequestOptions{Method: http.MethodPost})
	require.ErrorIs(t, err, context.Canceled)

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReplayNeverQueues(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {}, failRefresh)
	f.server.Close()

	action := queue.NewAction(apimodel.PathNotes, apimodel.RequestOptions{Method: http.MethodPost}, testNow)
	err := f.gateway.Replay(context.Background(), action)
	require.ErrorIs(t, err, errors.ErrNetworkUnavailable)

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReplaySendsStoredRequest(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Client")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}, failRefresh)

	action := queue.NewAction(apimodel.PathNotes, apimodel.RequestOptions{
		Method:  http.MethodPut,
		Headers: map[string]string{"X-Client": "cli"},
		Body:    json.RawMessage(`{"title":"edited"}`),
	}, testNow)
	require.NoError(t, f.gateway.Replay(context.Background(), action))
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "cli", gotHeader)
	require.JSONEq(t, `{"title":"edited"}`, gotBody)
}

func TestPostJSONSurfacesServerMessage(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		http.Error(w, `{"error":"Invalid credentials"}`, http.StatusUnauthorized)
	}, failRefresh)
	f.storeTokens(t, "a1", "r1", testNow.Add(time.Hour))

	var out apimodel.AuthResponse
	err := f.gateway.PostJSON(context.Background(), apimodel.PathLogin, apimodel.LoginRequest{Email: "a@b.c", Password: "x"}, &out)
	require.EqualError(t, err, `{"error":"Invalid credentials"}`)
	require.Zero(t, f.refreshN.Load())
}

// refreshUnreachable fails the refresh exchange at the transport and lets
// every other call through.
type refreshUnreachable struct {
	next http.RoundTripper
}

func (t refreshUnreachable) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Query().Get("p") == apimodel.PathRefresh {
		return nil, fmt.Errorf("dial %s: network is unreachable", req.URL.Host)
	}
	return t.next.RoundTrip(req)
}

func TestUnreachableRefreshIsUnauthorizedNotQueued(t *testing.T) {
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, failRefresh)
	f.gateway = gateway.New(f.server.URL+"/api/index.php?p=", f.creds, f.queue,
		gateway.WithNowFunc(func() time.Time { return testNow }),
		gateway.WithHTTPClient(&http.Client{Transport: refreshUnreachable{next: f.server.Client().Transport}}),
	)
	f.storeTokens(t, "expired", "r1", testNow.Add(-time.Hour))
	ctx := context.Background()

	_, err := f.gateway.Request(ctx, apimodel.PathNotes, apimodel.RequestOptions{Method: http.MethodPost, Body: json.RawMessage(`{"title":"x"}`)})
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	require.ErrorIs(t, err, errors.ErrRefreshFailed)
	require.NotErrorIs(t, err, errors.ErrOfflineQueued)

	tokens, err := f.creds.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, tokens)
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "a signed out write is not kept for later")
}

func TestQueuedAuthorizationHeaderIsNotReplayed(t *testing.T) {
	var gotAuth string
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, failRefresh)

	action := queue.NewAction(apimodel.PathNotes, apimodel.RequestOptions{
		Method:  http.MethodPost,
		Headers: map[string]string{"Authorization": "Bearer stale"},
	}, testNow)
	require.NoError(t, f.gateway.Replay(context.Background(), action))
	require.Empty(t, gotAuth)

	f.storeTokens(t, "access-2", "r2", testNow.Add(time.Hour))
	require.NoError(t, f.gateway.Replay(context.Background(), action))
	require.Equal(t, "Bearer access-2", gotAuth)
}

func counterValues(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				label += lp.GetName() + "=" + lp.GetValue() + ","
			}
			values[label] = m.GetCounter().GetValue()
		}
	}
	return values
}

func TestMetricsRecordRefreshesAndQueuedWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	var calls atomic.Int32
	f := setupTestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a2","expires_in":900}`))
	}, gateway.WithMetrics(metrics.NewCollector(reg)))
	f.storeTokens(t, "expired", "r1", testNow.Add(-time.Hour))
	ctx := context.Background()

	_, err := f.gateway.Request(ctx, apimodel.PathCourses, apimodel.RequestOptions{})
	require.NoError(t, err)

	f.server.Close()
	_, err = f.gateway.Request(ctx, apimodel.PathNotes, apimodel.RequestOptions{Method: http.MethodPost, Body: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, errors.ErrOfflineQueued)

	require.Equal(t, map[string]float64{"outcome=success,": 1}, counterValues(t, reg, "smartstudy_gateway_refresh_total"))
	require.Equal(t, map[string]float64{"": 1}, counterValues(t, reg, "smartstudy_queue_pushed_total"))
	requests := counterValues(t, reg, "smartstudy_gateway_requests_total")
	require.Equal(t, 1.0, requests["method=GET,status_code=401,"])
	require.Equal(t, 1.0, requests["method=GET,status_code=200,"])
	require.Equal(t, 1.0, requests["method=POST,status_code=200,"], "the refresh exchange")
	require.Equal(t, 1.0, requests["method=POST,status_code=0,"])
}
