// Package gateway issues authenticated calls against the SmartStudy API. It
// attaches the stored bearer token, refreshes once on a 401 and queues
// mutations that could not reach the server.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/credentials"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/jrsteele09/smartstudy-sync/internal/utils"
	"github.com/jrsteele09/smartstudy-sync/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRefreshLeeway = 5 * time.Second
	correlationHeader    = "X-Correlation-Id"
)

type Gateway struct {
	apiBase  string
	creds    *credentials.Store
	queue    *queue.Queue
	client   *http.Client
	metrics  metrics.Recorder
	logger   zerolog.Logger
	nowFunc  func() time.Time
	leeway   time.Duration
	lifetime time.Duration

	refreshMu sync.Mutex
}

type Option func(*Gateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(g *Gateway) {
		g.metrics = recorder
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(g *Gateway) {
		g.nowFunc = now
	}
}

// WithRefreshLeeway sets how close to expiry a token may be before Refresh
// contacts the server.
func WithRefreshLeeway(leeway time.Duration) Option {
	return func(g *Gateway) {
		g.leeway = leeway
	}
}

// WithDefaultLifetime applies when a refresh response omits expires_in.
func WithDefaultLifetime(lifetime time.Duration) Option {
	return func(g *Gateway) {
		g.lifetime = lifetime
	}
}

// New creates a Gateway for apiBase. Paths are appended verbatim, so apiBase
// usually ends with the operation selector (for example "index.php?p=").
func New(apiBase string, creds *credentials.Store, q *queue.Queue, options ...Option) *Gateway {
	g := &Gateway{
		apiBase: strings.TrimSpace(apiBase),
		creds:   creds,
		queue:   q,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: 15 * time.Second}
	}
	if g.metrics == nil {
		g.metrics = metrics.Noop{}
	}
	if g.nowFunc == nil {
		g.nowFunc = time.Now
	}
	if g.leeway <= 0 {
		g.leeway = DefaultRefreshLeeway
	}
	if g.lifetime <= 0 {
		g.lifetime = credentials.DefaultLifetime
	}
	return g
}

// Request performs an authenticated call and returns the JSON response body,
// or nil when the server sent none.
//
// A 401 triggers one Refresh and at most one retry. When a POST, PUT or DELETE
// cannot reach the server it is pushed onto the queue and the call fails with
// errors.ErrOfflineQueued, which callers should treat as accepted for later
// delivery. Reads that cannot reach the server return the *errors.NetworkError.
// A failed refresh is returned as errors.ErrUnauthorized and never queued.
func (g *Gateway) Request(ctx context.Context, path string, opts apimodel.RequestOptions) (json.RawMessage, error) {
	body, err := g.send(ctx, path, opts)
	if err == nil {
		return body, nil
	}
	if !opts.IsMutating() || !errors.Is(err, errors.ErrNetworkUnavailable) {
		return nil, err
	}
	// A refresh that could not reach the server has already cleared the
	// credentials, so the write belongs to nobody.
	if errors.Is(err, errors.ErrUnauthorized) {
		return nil, err
	}

	action := queue.NewAction(path, opts, g.nowFunc())
	if qerr := g.queue.Push(ctx, action); qerr != nil {
		g.logger.Err(qerr).Str("path", path).Msg("could not queue offline action")
		return nil, errors.Wrapf(qerr, "queue %s %s", opts.NormalizedMethod(), path)
	}
	g.metrics.RecordQueued(path)
	g.logger.Warn().Err(err).
		Str("path", path).
		Str("method", opts.NormalizedMethod()).
		Str("action_id", action.ID).
		Msg("queued offline action")
	return nil, fmt.Errorf("%w: %s %s", errors.ErrOfflineQueued, opts.NormalizedMethod(), path)
}

// Replay sends a previously queued action. Unlike Request it never queues on
// failure; the caller decides whether to push the action back.
func (g *Gateway) Replay(ctx context.Context, action queue.Action) error {
	_, err := g.send(ctx, action.Path, action.Opts)
	if err != nil {
		g.metrics.RecordReplay(metrics.OutcomeFailure)
		return err
	}
	g.metrics.RecordReplay(metrics.OutcomeSuccess)
	return nil
}

func (g *Gateway) send(ctx context.Context, path string, opts apimodel.RequestOptions) (json.RawMessage, error) {
	resp, err := g.do(ctx, path, opts, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if err := g.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrUnauthorized, err)
		}
		resp, err = g.do(ctx, path, opts, true)
		if err != nil {
			return nil, err
		}
		if !resp.ok() {
			return nil, fmt.Errorf("%w: %w", errors.ErrRequestFailedAfterRefresh, resp.httpError())
		}
	}

	if !resp.ok() {
		return nil, resp.httpError()
	}
	return resp.json(path)
}

// Refresh makes sure a usable access token is stored. A token that is valid
// for longer than the leeway is trusted without asking the server. Otherwise
// the refresh token is exchanged; any failure clears the stored credentials.
func (g *Gateway) Refresh(ctx context.Context) error {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	tokens, err := g.creds.Get(ctx)
	if err != nil {
		return errors.Wrapf(err, "read credentials")
	}
	if tokens == nil || tokens.RefreshToken == "" {
		g.metrics.RecordRefresh(metrics.OutcomeFailure)
		return errors.Wrapf(errors.ErrRefreshFailed, "no refresh token stored")
	}
	if tokens.ValidFor(g.nowFunc(), g.leeway) {
		g.metrics.RecordRefresh(metrics.OutcomeSkipped)
		return nil
	}

	var out apimodel.RefreshResponse
	err = g.PostJSON(ctx, apimodel.PathRefresh, apimodel.RefreshRequest{RefreshToken: tokens.RefreshToken}, &out)
	if err == nil && out.AccessToken == "" {
		err = fmt.Errorf("refresh response without access token")
	}
	if err != nil {
		g.metrics.RecordRefresh(metrics.OutcomeFailure)
		g.logger.Err(err).Msg("refresh failed, clearing credentials")
		if clearErr := g.creds.Clear(ctx); clearErr != nil {
			g.logger.Err(clearErr).Msg("could not clear credentials")
		}
		return fmt.Errorf("%w: %w", errors.ErrRefreshFailed, err)
	}

	refreshToken := utils.ValueOr(out.RefreshToken, tokens.RefreshToken)
	expiresIn := out.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = int(g.lifetime / time.Second)
	}
	next := credentials.NewTokenPair(out.AccessToken, refreshToken, expiresIn, g.nowFunc())
	if err := g.creds.Set(ctx, next); err != nil {
		g.metrics.RecordRefresh(metrics.OutcomeFailure)
		return fmt.Errorf("%w: %w", errors.ErrRefreshFailed, err)
	}
	g.metrics.RecordRefresh(metrics.OutcomeSuccess)
	return nil
}

// PostJSON sends in to path without credentials or refresh handling and
// decodes a 2xx response into out. It is used for login, register and
// refresh, which must not recurse into the 401 handling of Request.
func (g *Gateway) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := apimodel.JSONBody(in)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", path)
	}
	resp, err := g.do(ctx, path, apimodel.RequestOptions{Method: http.MethodPost, Body: body}, false)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.httpError()
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

// URL returns the address used for path.
func (g *Gateway) URL(path string) string {
	return g.apiBase + path
}

type response struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (r *response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func (r *response) httpError() error {
	return &errors.HTTPError{
		StatusCode: r.StatusCode,
		Status:     strings.TrimSpace(strings.TrimPrefix(r.Status, fmt.Sprint(r.StatusCode))),
		Body:       strings.TrimSpace(string(r.Body)),
	}
}

func (r *response) json(path string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON response from %s", path)
	}
	return json.RawMessage(trimmed), nil
}

func (g *Gateway) do(ctx context.Context, path string, opts apimodel.RequestOptions, authenticated bool) (*response, error) {
	method := opts.NormalizedMethod()
	url := g.URL(path)

	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "build request %s %s: %v", method, url, err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Del("Authorization")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlationHeader, uuid.New().String())
	if authenticated {
		tokens, err := g.creds.Get(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "read credentials")
		}
		if tokens != nil && tokens.AccessToken != "" {
			tokens.OAuth2().SetAuthHeader(req)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.RecordRequest(method, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errors.NetworkError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		g.metrics.RecordRequest(method, 0)
		return nil, &errors.NetworkError{Op: method, URL: url, Err: err}
	}
	g.metrics.RecordRequest(method, resp.StatusCode)
	return &response{StatusCode: resp.StatusCode, Status: resp.Status, Body: payload}, nil
}
