package storage

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
)

// Namespace prefixes every key written by this module.
const Namespace = "smartstudy:"

const (
	TokensKey      Key = Namespace + "tokens"
	QueueKey       Key = Namespace + "queue"
	CurrentUserKey Key = Namespace + "currentUser"
	CacheNamespace Key = Namespace + "cache:"
)

const snapshotNamespace = Namespace + "data:"

// SnapshotKey is the per-user key of the last known collection snapshot.
func SnapshotKey(userID string) (Key, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.Wrapf(errors.ErrInvalidKey, "snapshot key requires a user id")
	}
	return Key(snapshotNamespace + userID), nil
}

// CachePrefix returns the prefix under which every entry of cacheName lives.
func CachePrefix(cacheName string) (Key, error) {
	cacheName = strings.TrimSpace(cacheName)
	if cacheName == "" || strings.Contains(cacheName, ":") {
		return "", errors.Wrapf(errors.ErrInvalidKey, "invalid cache name %q", cacheName)
	}
	return CacheNamespace + Key(cacheName+":"), nil
}

// CacheEntryKey addresses a single cached response.
func CacheEntryKey(cacheName, digest string) (Key, error) {
	prefix, err := CachePrefix(cacheName)
	if err != nil {
		return "", err
	}
	if digest == "" {
		return "", errors.Wrapf(errors.ErrInvalidKey, "cache entry requires a digest")
	}
	return prefix + Key(digest), nil
}

// CacheNameFromKey extracts the cache name from a cache entry key.
func CacheNameFromKey(key Key) (string, error) {
	rest, ok := strings.CutPrefix(string(key), string(CacheNamespace))
	if !ok {
		return "", fmt.Errorf("%w: %q is not a cache key", errors.ErrInvalidKey, key)
	}
	name, _, found := strings.Cut(rest, ":")
	if !found || name == "" {
		return "", fmt.Errorf("%w: %q is not a cache key", errors.ErrInvalidKey, key)
	}
	return name, nil
}
