package config

import (
	"net/url"
	"time"
)

type APIConfig interface {
	GetAPIBase() string
	GetRequestTimeout() time.Duration
	GetDefaultTokenLifetime() time.Duration
	GetRefreshLeeway() time.Duration
	GetProbeURL() string
	GetProbeInterval() time.Duration
	GetProbeJitter() float64
}

const (
	apiBaseVar        = "API_BASE"
	requestTimeoutVar = "REQUEST_TIMEOUT"
	probeURLVar       = "PROBE_URL"
	probeIntervalVar  = "PROBE_INTERVAL"
	probeJitterVar    = "PROBE_JITTER"
)

// DefaultAPIBase is the API entry point plus the operation selector parameter.
const DefaultAPIBase = "http://localhost:8080/api/index.php?p="

type API struct{}

var _ APIConfig = API{}

func (API) GetAPIBase() string {
	return GetEnv(apiBaseVar, DefaultAPIBase)
}

func (API) GetRequestTimeout() time.Duration {
	return GetDurationEnv(requestTimeoutVar, 15*time.Second)
}

func (API) GetDefaultTokenLifetime() time.Duration {
	return 900 * time.Second
}

func (API) GetRefreshLeeway() time.Duration {
	return 5 * time.Second
}

// GetProbeURL defaults to the root of the API host.
func (a API) GetProbeURL() string {
	if probe := GetEnv(probeURLVar, ""); probe != "" {
		return probe
	}
	u, err := url.Parse(a.GetAPIBase())
	if err != nil || u.Host == "" {
		return a.GetAPIBase()
	}
	return u.Scheme + "://" + u.Host + "/"
}

func (API) GetProbeInterval() time.Duration {
	return GetDurationEnv(probeIntervalVar, 10*time.Second)
}

func (API) GetProbeJitter() float64 {
	jitter := GetFloatEnv(probeJitterVar, 0.2)
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}
