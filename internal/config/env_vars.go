package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	appNameVar        = "APP_NAME"
	envVar            = "ENV"
	logLevelVar       = "LOG_LEVEL"
	metricsAddrVar    = "METRICS_ADDR"
	folderEnvVar      = "FOLDER"
	storageBackendVar = "STORAGE_BACKEND"
	redisURLVar       = "REDIS_URL"
	postgresDSNVar    = "DATABASE_URL"
)

// Storage backends understood by the backends factory
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "SmartStudy")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetMetricsAddr is the listen address for the prometheus endpoint served by
// the run command. Empty disables it.
func (EnvVars) GetMetricsAddr() string {
	return GetEnv(metricsAddrVar, "")
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() string {
	return strings.ToLower(GetEnv(storageBackendVar, BackendFile))
}

func (Storage) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (Storage) GetRedisURL() string {
	return GetEnv(redisURLVar, "redis://localhost:6379/0")
}

func (Storage) GetPostgresDSN() string {
	return GetEnv(postgresDSNVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(envVar))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDurationEnv parses envVar with time.ParseDuration, logging and falling
// back to defaultValue when it is missing or malformed.
func GetDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		log.Warn().Str("var", envVar).Str("value", raw).Dur("fallback", defaultValue).Msg("invalid duration, using fallback")
		return defaultValue
	}
	return value
}

func GetFloatEnv(envVar string, defaultValue float64) float64 {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", raw).Float64("fallback", defaultValue).Msg("invalid float, using fallback")
		return defaultValue
	}
	return value
}

// GetListEnv splits a comma separated variable, dropping empty entries.
func GetListEnv(envVar string, defaultValue []string) []string {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
