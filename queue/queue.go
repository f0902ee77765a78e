// Package queue is the durable FIFO of mutations that could not be delivered.
//
// Push, Drain and Peek are serialised inside one process. Two processes
// sharing the same storage are not coordinated: a Drain in one can race a
// Push or Drain in the other and lose entries.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
)

// Action is a queued mutation. Timestamp is epoch milliseconds.
type Action struct {
	ID        string                  `json:"id,omitempty"`
	Path      string                  `json:"path"`
	Opts      apimodel.RequestOptions `json:"opts"`
	Timestamp int64                   `json:"timestamp"`
}

// NewAction stamps a mutation with a fresh id and at.
func NewAction(path string, opts apimodel.RequestOptions, at time.Time) Action {
	return Action{
		ID:        uuid.New().String(),
		Path:      path,
		Opts:      opts,
		Timestamp: at.UnixMilli(),
	}
}

const actionsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {
		"type": "object",
		"required": ["path", "opts", "timestamp"],
		"properties": {
			"id": {"type": "string"},
			"path": {"type": "string"},
			"timestamp": {"type": "integer"},
			"opts": {
				"type": "object",
				"properties": {
					"method": {"type": "string"},
					"headers": {"type": "object", "additionalProperties": {"type": "string"}}
				}
			}
		}
	}
}`

var actionsValidator = storage.MustCompileSchema("pending-writes", actionsSchema)

type Queue struct {
	store storage.Store
	mu    sync.Mutex
}

func New(store storage.Store) *Queue {
	return &Queue{store: store}
}

// Push appends action and persists the queue before returning. Only mutating
// methods are accepted.
func (q *Queue) Push(ctx context.Context, action Action) error {
	if !action.Opts.IsMutating() {
		return errors.Wrapf(errors.ErrInvalidInput, "queue only accepts POST, PUT or DELETE, got %s", action.Opts.NormalizedMethod())
	}
	if action.ID == "" {
		action.ID = uuid.New().String()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.loadLocked(ctx)
	if err != nil {
		return err
	}
	actions = append(actions, action)
	return storage.SaveJSON(ctx, q.store, storage.QueueKey, actions)
}

// Requeue puts actions back at the head of the queue, ahead of anything
// pushed since they were drained, so replay order is preserved.
func (q *Queue) Requeue(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	for _, a := range actions {
		if !a.Opts.IsMutating() {
			return errors.Wrapf(errors.ErrInvalidInput, "queue only accepts POST, PUT or DELETE, got %s", a.Opts.NormalizedMethod())
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.loadLocked(ctx)
	if err != nil {
		return err
	}
	merged := make([]Action, 0, len(actions)+len(current))
	merged = append(merged, actions...)
	merged = append(merged, current...)
	return storage.SaveJSON(ctx, q.store, storage.QueueKey, merged)
}

// Drain returns every queued action and empties the persisted queue. The
// caller owns replay and must push back anything it fails to deliver.
func (q *Queue) Drain(ctx context.Context) ([]Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if err := q.store.Delete(ctx, storage.QueueKey); err != nil {
		return nil, errors.Wrapf(err, "clear queue")
	}
	return actions, nil
}

// Peek returns the queued actions without removing them.
func (q *Queue) Peek(ctx context.Context) ([]Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	actions, err := q.Peek(ctx)
	return len(actions), err
}

func (q *Queue) loadLocked(ctx context.Context) ([]Action, error) {
	actions := make([]Action, 0)
	if _, err := storage.LoadJSON(ctx, q.store, storage.QueueKey, actionsValidator, &actions); err != nil {
		return nil, err
	}
	if actions == nil {
		actions = make([]Action, 0)
	}
	return actions, nil
}
