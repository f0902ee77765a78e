package config

type Config interface {
	EnvConfig
	APIConfig
	StorageConfig
	CacheConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetMetricsAddr() string
}

type StorageConfig interface {
	GetStorageBackend() string
	GetDataFolder() string
	GetRedisURL() string
	GetPostgresDSN() string
}

type mainConfig struct {
	EnvVars
	API
	Storage
	Cache
}

func New() Config {
	return mainConfig{}
}
