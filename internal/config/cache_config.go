package config

import "fmt"

type CacheConfig interface {
	GetListenAddr() string
	GetUpstreamURL() string
	GetShellCacheName() string
	GetRuntimeCacheName() string
	GetShellAssets() []string
	GetAPIMarker() string
	GetAPIQueryParam() string
	GetRuntimeHostSuffixes() []string
}

// DefaultShellAssets is the union of both historical app-shell manifests.
var DefaultShellAssets = []string{
	"/",
	"/index.html",
	"/auth.html",
	"/manifest.json",
	"/app.api.js",
	"/js/app.js",
	"/js/db.js",
	"/js/api.js",
	"/js/lessons.js",
	"/js/quizzes.js",
	"/assets/icons/icon-192.png",
	"/assets/icons/icon-512.png",
}

type Cache struct{}

var _ CacheConfig = Cache{}

func (Cache) GetListenAddr() string {
	port := GetEnv("PORT", "8081")
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (Cache) GetUpstreamURL() string {
	return GetEnv("UPSTREAM_URL", "http://localhost:8080")
}

func (Cache) GetShellCacheName() string {
	return GetEnv("SHELL_CACHE", "smartstudy-shell-v1")
}

func (Cache) GetRuntimeCacheName() string {
	return GetEnv("RUNTIME_CACHE", "runtime-v1")
}

func (Cache) GetShellAssets() []string {
	return GetListEnv("SHELL_ASSETS", DefaultShellAssets)
}

func (Cache) GetAPIMarker() string {
	return GetEnv("API_MARKER", "/api/")
}

func (Cache) GetAPIQueryParam() string {
	return GetEnv("API_QUERY_PARAM", "p")
}

func (Cache) GetRuntimeHostSuffixes() []string {
	return GetListEnv("RUNTIME_HOSTS", []string{"wikipedia.org"})
}
