// Package storage is the durable key/value layer shared by the credential
// store, the pending-write queue, the session controller, collection sync and
// the cache worker.
package storage

import "context"

// Key addresses a value in a Store. Build keys with the helpers in keys.go.
type Key string

func (k Key) String() string {
	return string(k)
}

// Store persists opaque values. Get returns errors.ErrNotFound for missing
// keys. Keys lists every stored key starting with prefix, in no particular
// order.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
	Keys(ctx context.Context, prefix Key) ([]Key, error)
}
