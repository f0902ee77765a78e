package cacheworker

import (
	"context"
	"encoding/hex"
	"net/http"
	"sort"
	"time"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
	"golang.org/x/crypto/blake2b"
)

// CachedResponse is a stored GET response.
type CachedResponse struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt int64       `json:"stored_at"`
}

const cachedResponseSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["url", "status"],
	"properties": {
		"url": {"type": "string"},
		"status": {"type": "integer", "minimum": 100, "maximum": 599},
		"header": {"type": ["object", "null"]},
		"body": {"type": ["string", "null"]},
		"stored_at": {"type": "integer"}
	}
}`

var cachedResponseValidator = storage.MustCompileSchema("cached-response", cachedResponseSchema)

// Write copies the stored response to w.
func (c *CachedResponse) Write(w http.ResponseWriter) {
	for key, values := range c.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(c.Status)
	_, _ = w.Write(c.Body)
}

// CacheStorage is the set of named caches kept in a storage.Store.
type CacheStorage struct {
	store   storage.Store
	nowFunc func() time.Time
}

func NewCacheStorage(store storage.Store) *CacheStorage {
	return &CacheStorage{store: store, nowFunc: time.Now}
}

// Open returns the named cache. Nothing is written until the first Put.
func (cs *CacheStorage) Open(name string) (*Cache, error) {
	if _, err := storage.CachePrefix(name); err != nil {
		return nil, err
	}
	return &Cache{name: name, storage: cs}, nil
}

// Names lists caches holding at least one entry, sorted.
func (cs *CacheStorage) Names(ctx context.Context) ([]string, error) {
	keys, err := cs.store.Keys(ctx, storage.CacheNamespace)
	if err != nil {
		return nil, errors.Wrapf(err, "list caches")
	}
	seen := make(map[string]bool)
	var names []string
	for _, key := range keys {
		name, err := storage.CacheNameFromKey(key)
		if err != nil || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes every entry of the named cache and reports whether it had any.
func (cs *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	prefix, err := storage.CachePrefix(name)
	if err != nil {
		return false, err
	}
	keys, err := cs.store.Keys(ctx, prefix)
	if err != nil {
		return false, errors.Wrapf(err, "list cache %s", name)
	}
	for _, key := range keys {
		if err := cs.store.Delete(ctx, key); err != nil {
			return false, errors.Wrapf(err, "delete %s", key)
		}
	}
	return len(keys) > 0, nil
}

type Cache struct {
	name    string
	storage *CacheStorage
}

func (c *Cache) Name() string {
	return c.name
}

// Put stores resp under url, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, url string, resp *CachedResponse) error {
	key, err := c.key(url)
	if err != nil {
		return err
	}
	entry := *resp
	entry.URL = url
	entry.StoredAt = c.storage.nowFunc().Unix()
	return storage.SaveJSON(ctx, c.storage.store, key, entry)
}

// Match returns the entry stored under url, nil on a miss. Corrupt entries
// count as misses.
func (c *Cache) Match(ctx context.Context, url string) (*CachedResponse, error) {
	key, err := c.key(url)
	if err != nil {
		return nil, err
	}
	var entry CachedResponse
	found, err := storage.LoadJSON(ctx, c.storage.store, key, cachedResponseValidator, &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

func (c *Cache) key(url string) (storage.Key, error) {
	sum := blake2b.Sum256([]byte(url))
	return storage.CacheEntryKey(c.name, hex.EncodeToString(sum[:]))
}
