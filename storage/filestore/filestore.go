// Package filestore persists each key as its own file inside a directory.
// Writes go through a temp file and rename so readers in other processes never
// observe a partial value.
package filestore

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"github.com/rs/zerolog/log"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "filestore directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Get(ctx context.Context, key storage.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key storage.Key, value []byte) error {
	if key == "" {
		return errors.ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(key), value, 0o600)
}

func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]storage.Key, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := keyFromFileName(entry.Name())
		if !ok || !strings.HasPrefix(string(key), string(prefix)) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Watch calls onChange with the affected key whenever another writer creates,
// replaces or removes a value in the directory. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(storage.Key)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return errors.Wrapf(err, "watch %s", s.dir)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			key, ok := keyFromFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			onChange(key)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", s.dir).Msg("filestore watch error")
		}
	}
}

func (s *Store) path(key storage.Key) string {
	return filepath.Join(s.dir, url.QueryEscape(string(key)))
}

func keyFromFileName(name string) (storage.Key, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	raw, err := url.QueryUnescape(name)
	if err != nil {
		return "", false
	}
	return storage.Key(raw), true
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
