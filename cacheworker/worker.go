// Package cacheworker is an intercepting proxy that sits between the app and
// its origin. It pre-caches the app shell on install, drops stale caches on
// activate, and then answers each request according to a Policy.
package cacheworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// hop-by-hop headers are not forwarded in either direction.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

type Worker struct {
	upstream    *url.URL
	client      *http.Client
	caches      *CacheStorage
	policy      Policy
	shellCache  string
	shellAssets []string
	metrics     metrics.Recorder
	logger      zerolog.Logger

	mu    sync.RWMutex
	state State
}

type Option func(*Worker)

func WithHTTPClient(client *http.Client) Option {
	return func(w *Worker) {
		w.client = client
	}
}

func WithPolicy(policy Policy) Option {
	return func(w *Worker) {
		w.policy = policy
	}
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(w *Worker) {
		w.metrics = recorder
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(cfg config.CacheConfig, caches *CacheStorage, options ...Option) (*Worker, error) {
	upstream, err := url.Parse(cfg.GetUpstreamURL())
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "invalid upstream URL %q", cfg.GetUpstreamURL())
	}
	w := &Worker{
		upstream:    upstream,
		caches:      caches,
		policy:      DefaultPolicy(cfg),
		shellCache:  cfg.GetShellCacheName(),
		shellAssets: cfg.GetShellAssets(),
		logger:      log.Logger,
		state:       StateNew,
	}
	for _, opt := range options {
		opt(w)
	}
	if w.client == nil {
		w.client = &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if w.metrics == nil {
		w.metrics = metrics.Noop{}
	}
	return w, nil
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

// Install fetches every shell asset and stores them in the shell cache. If
// any asset cannot be fetched nothing is stored and the worker becomes
// redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)

	cache, err := w.caches.Open(w.shellCache)
	if err != nil {
		w.setState(StateRedundant)
		return err
	}

	fetched := make(map[string]*CachedResponse, len(w.shellAssets))
	for _, asset := range w.shellAssets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
		if err != nil {
			w.setState(StateRedundant)
			return errors.Wrapf(errors.ErrInvalidInput, "asset %q: %v", asset, err)
		}
		resp, err := w.fetch(req)
		if err == nil && (resp.Status < 200 || resp.Status > 299) {
			err = fmt.Errorf("status %d", resp.Status)
		}
		if err != nil {
			w.setState(StateRedundant)
			return errors.Wrapf(err, "install %s", asset)
		}
		fetched[cacheURL(req)] = resp
	}
	for u, resp := range fetched {
		if err := cache.Put(ctx, u, resp); err != nil {
			w.setState(StateRedundant)
			return err
		}
	}

	w.setState(StateInstalled)
	w.logger.Info().Str("cache", w.shellCache).Int("assets", len(fetched)).Msg("cache worker installed")
	return nil
}

// Activate deletes every cache the policy no longer uses and starts
// intercepting requests.
func (w *Worker) Activate(ctx context.Context) error {
	switch w.State() {
	case StateInstalled, StateActivated:
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "cannot activate a worker in state %s", w.State())
	}

	keep := make(map[string]bool)
	for _, name := range w.policy.CacheNames() {
		keep[name] = true
	}
	names, err := w.caches.Names(ctx)
	if err != nil {
		return err
	}
	var deleted []string
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := w.caches.Delete(ctx, name); err != nil {
			return err
		}
		deleted = append(deleted, name)
	}

	w.setState(StateActivated)
	w.logger.Info().Strs("deleted", deleted).Msg("cache worker activated")
	return nil
}

// ServeHTTP answers a request. Until activation every request goes straight
// to the network.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.State() != StateActivated {
		w.networkOnly(rw, r)
		return
	}

	rule := w.policy.Match(r)
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.networkOnly(rw, r)
		return
	}
	switch rule.Strategy {
	case CacheFirst:
		w.cacheFirst(rw, r, rule)
	case NetworkFirst:
		w.networkFirst(rw, r, rule)
	default:
		w.networkOnly(rw, r)
	}
}

func (w *Worker) cacheFirst(rw http.ResponseWriter, r *http.Request, rule Rule) {
	if cached := w.match(r, rule); cached != nil {
		w.metrics.RecordCacheLookup(string(rule.Strategy), true)
		cached.Write(rw)
		return
	}
	w.metrics.RecordCacheLookup(string(rule.Strategy), false)
	w.networkOnly(rw, r)
}

func (w *Worker) networkFirst(rw http.ResponseWriter, r *http.Request, rule Rule) {
	resp, err := w.fetch(r)
	if err == nil {
		if r.Method == http.MethodGet && resp.Status >= 200 && resp.Status <= 299 {
			w.put(r, rule, resp)
		}
		resp.Write(rw)
		return
	}

	if cached := w.match(r, rule); cached != nil {
		w.metrics.RecordCacheLookup(string(rule.Strategy), true)
		cached.Write(rw)
		return
	}
	w.metrics.RecordCacheLookup(string(rule.Strategy), false)
	w.logger.Debug().Err(err).Str("url", r.URL.String()).Msg("offline and not cached")
	http.Error(rw, "Offline", http.StatusServiceUnavailable)
}

func (w *Worker) networkOnly(rw http.ResponseWriter, r *http.Request) {
	resp, err := w.fetch(r)
	if err != nil {
		w.logger.Debug().Err(err).Str("url", r.URL.String()).Msg("network request failed")
		http.Error(rw, "Bad Gateway", http.StatusBadGateway)
		return
	}
	resp.Write(rw)
}

func (w *Worker) match(r *http.Request, rule Rule) *CachedResponse {
	if rule.Cache == "" {
		return nil
	}
	cache, err := w.caches.Open(rule.Cache)
	if err != nil {
		w.logger.Err(err).Str("cache", rule.Cache).Msg("invalid cache")
		return nil
	}
	cached, err := cache.Match(r.Context(), cacheURL(r))
	if err != nil {
		w.logger.Err(err).Str("cache", rule.Cache).Msg("cache lookup failed")
		return nil
	}
	return cached
}

func (w *Worker) put(r *http.Request, rule Rule, resp *CachedResponse) {
	if rule.Cache == "" {
		return
	}
	cache, err := w.caches.Open(rule.Cache)
	if err == nil {
		err = cache.Put(r.Context(), cacheURL(r), resp)
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("cache", rule.Cache).Msg("could not cache response")
	}
}

// fetch sends r to the upstream, or to its own host when r carries an
// absolute URL, and buffers the response.
func (w *Worker) fetch(r *http.Request) (*CachedResponse, error) {
	target := w.target(r.URL)

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := w.client.Do(out)
	if err != nil {
		return nil, &errors.NetworkError{Op: r.Method, URL: target.String(), Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.NetworkError{Op: r.Method, URL: target.String(), Err: err}
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")
	return &CachedResponse{URL: target.String(), Status: resp.StatusCode, Header: header, Body: payload}, nil
}

func (w *Worker) target(u *url.URL) *url.URL {
	if u.IsAbs() {
		return u
	}
	target := *w.upstream
	target.Path = strings.TrimRight(w.upstream.Path, "/") + u.Path
	target.RawPath = ""
	target.RawQuery = u.RawQuery
	return &target
}

// cacheURL is the cache key of a request: the full URL for proxied requests
// to other hosts, the request URI for the origin.
func cacheURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	return r.URL.RequestURI()
}

// CacheNames lists the caches currently holding entries.
func (w *Worker) CacheNames(ctx context.Context) ([]string, error) {
	return w.caches.Names(ctx)
}
