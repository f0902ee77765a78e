// Package collections keeps the signed in user's courses, notes and quizzes
// in step with the API, falling back to the last local snapshot when a read
// fails and replaying queued writes once the network is back.
package collections

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/jrsteele09/smartstudy-sync/queue"
	"github.com/jrsteele09/smartstudy-sync/session"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const snapshotSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"courses": {"type": ["array", "null"]},
		"notes": {"type": ["array", "null"]},
		"quizzes": {"type": ["array", "null"]}
	}
}`

var snapshotValidator = storage.MustCompileSchema("snapshot", snapshotSchema)

// Requester is the part of the gateway the syncer needs.
type Requester interface {
	Request(ctx context.Context, path string, opts apimodel.RequestOptions) (json.RawMessage, error)
	Replay(ctx context.Context, action queue.Action) error
}

type Syncer struct {
	gateway  Requester
	queue    *queue.Queue
	store    storage.Store
	app      *session.AppContext
	renderer session.Renderer
	metrics  metrics.Recorder
	logger   zerolog.Logger
}

type Option func(*Syncer)

func WithRenderer(renderer session.Renderer) Option {
	return func(s *Syncer) {
		s.renderer = renderer
	}
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *Syncer) {
		s.metrics = recorder
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

func NewSyncer(gw Requester, q *queue.Queue, store storage.Store, app *session.AppContext, options ...Option) *Syncer {
	s := &Syncer{
		gateway: gw,
		queue:   q,
		store:   store,
		app:     app,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = session.NopRenderer{}
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	return s
}

// FetchAll reads every collection through the gateway. A collection that
// cannot be read is taken from the user's snapshot, or left empty. The merged
// result becomes the app data and the new snapshot, and is rendered. The
// snapshot is left alone when it could not be read. It never fails.
func (s *Syncer) FetchAll(ctx context.Context) apimodel.Collections {
	result := apimodel.EmptyCollections()
	var snapshot *apimodel.Collections
	var snapshotErr error

	for _, name := range apimodel.CollectionNames {
		records, err := s.fetch(ctx, name)
		if err != nil {
			s.metrics.RecordSnapshotFallback(name)
			s.logger.Warn().Err(err).Str("collection", name).Msg("read failed, using local snapshot")
			if snapshot == nil {
				loaded, loadErr := s.LoadSnapshot(ctx)
				if loadErr != nil {
					s.logger.Err(loadErr).Msg("could not load snapshot")
					snapshotErr = loadErr
				}
				snapshot = &loaded
			}
			records = snapshot.Get(name)
		}
		result.Set(name, records)
	}

	s.app.SetData(result)
	// The stored snapshot could not be read, so the fallback arrays are not
	// known to be current and must not replace it.
	if snapshotErr == nil {
		if err := s.saveSnapshot(ctx, result); err != nil {
			s.logger.Err(err).Msg("could not save snapshot")
		}
	}
	s.renderer.Render(s.app.View())
	return result
}

func (s *Syncer) fetch(ctx context.Context, name string) ([]json.RawMessage, error) {
	body, err := s.gateway.Request(ctx, name, apimodel.RequestOptions{})
	if err != nil {
		return nil, err
	}
	records := []json.RawMessage{}
	if len(body) == 0 || string(body) == "null" {
		return records, nil
	}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	return records, nil
}

// LoadSnapshot returns the signed in user's last known data. Missing or
// corrupt snapshots, or no signed in user, read as three empty collections.
func (s *Syncer) LoadSnapshot(ctx context.Context) (apimodel.Collections, error) {
	key, ok := s.snapshotKey()
	if !ok {
		return apimodel.EmptyCollections(), nil
	}
	var snapshot apimodel.Collections
	found, err := storage.LoadJSON(ctx, s.store, key, snapshotValidator, &snapshot)
	if err != nil || !found {
		return apimodel.EmptyCollections(), err
	}
	return snapshot.Normalized(), nil
}

func (s *Syncer) saveSnapshot(ctx context.Context, data apimodel.Collections) error {
	key, ok := s.snapshotKey()
	if !ok {
		return nil
	}
	return storage.SaveJSON(ctx, s.store, key, data)
}

func (s *Syncer) snapshotKey() (storage.Key, bool) {
	user := s.app.User()
	if user == nil {
		return "", false
	}
	key, err := storage.SnapshotKey(user.ID.String())
	if err != nil {
		s.logger.Debug().Err(err).Msg("no snapshot for user")
		return "", false
	}
	return key, true
}

// FlushResult describes one pass over the queue.
type FlushResult struct {
	Replayed int
	Requeued int
	// Err is the replay failure that stopped the pass, if any.
	Err error
}

// FlushQueue replays queued writes in order. The first failure stops the
// pass; the failed action and everything after it go back on the queue.
// When anything was drained the collections are fetched again. Only queue
// storage failures are returned.
func (s *Syncer) FlushQueue(ctx context.Context) (FlushResult, error) {
	var result FlushResult

	pending, err := s.queue.Peek(ctx)
	if err != nil || len(pending) == 0 {
		return result, err
	}

	actions, err := s.queue.Drain(ctx)
	if err != nil {
		return result, err
	}
	s.logger.Info().Int("actions", len(actions)).Msg("flushing queued actions")

	for i, action := range actions {
		if err := s.gateway.Replay(ctx, action); err != nil {
			remaining := actions[i:]
			s.logger.Warn().Err(err).
				Str("action_id", action.ID).
				Str("path", action.Path).
				Int("requeued", len(remaining)).
				Msg("queued action failed, stopping flush")
			result.Err = err
			result.Requeued = len(remaining)
			if qerr := s.queue.Requeue(ctx, remaining); qerr != nil {
				return result, errors.Wrapf(qerr, "requeue %d actions", len(remaining))
			}
			break
		}
		result.Replayed++
	}

	s.logger.Info().Int("replayed", result.Replayed).Int("requeued", result.Requeued).Msg("flush finished")
	s.FetchAll(ctx)
	return result, nil
}

// SaveResult is the outcome of a write. Queued means the server could not be
// reached and the write will be sent on the next flush; callers should treat
// it as saved.
type SaveResult struct {
	Queued   bool
	Response json.RawMessage
}

// Save sends a write for one of the collections. path is the collection name,
// optionally followed by extra selector parameters ("notes&id=7").
func (s *Syncer) Save(ctx context.Context, path, method string, body any) (SaveResult, error) {
	collection, _, _ := strings.Cut(path, "&")
	if !apimodel.IsCollection(collection) {
		return SaveResult{}, errors.Wrapf(errors.ErrInvalidInput, "unknown collection %q", collection)
	}
	if !apimodel.IsMutatingMethod(method) {
		return SaveResult{}, errors.Wrapf(errors.ErrInvalidInput, "method %s does not write", method)
	}
	raw, err := apimodel.JSONBody(body)
	if err != nil {
		return SaveResult{}, errors.Wrapf(errors.ErrInvalidInput, "encode body: %v", err)
	}

	resp, err := s.gateway.Request(ctx, path, apimodel.RequestOptions{Method: strings.ToUpper(method), Body: raw})
	if errors.Is(err, errors.ErrOfflineQueued) {
		return SaveResult{Queued: true}, nil
	}
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Response: resp}, nil
}

// Bootstrap renders the local snapshot straight away and, when online,
// fetches fresh data and flushes the queue.
func (s *Syncer) Bootstrap(ctx context.Context, online bool) {
	snapshot, err := s.LoadSnapshot(ctx)
	if err != nil {
		s.logger.Err(err).Msg("could not load snapshot")
	}
	s.app.SetData(snapshot)
	s.renderer.Render(s.app.View())
	if !online {
		return
	}
	s.FetchAll(ctx)
	if _, err := s.FlushQueue(ctx); err != nil {
		s.logger.Err(err).Msg("flush failed")
	}
}
