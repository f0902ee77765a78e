package collections

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prober reports whether the API host is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber treats any HTTP response from URL as reachable. Only transport
// failures count as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

var _ Prober = (*HTTPProber)(nil)

func (p *HTTPProber) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "probe %s: %v", p.URL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &errors.NetworkError{Op: http.MethodHead, URL: p.URL, Err: err}
	}
	return resp.Body.Close()
}

// Flusher replays queued writes.
type Flusher interface {
	FlushQueue(ctx context.Context) (FlushResult, error)
}

// Monitor probes connectivity on a jittered interval and flushes the queue
// whenever the API becomes reachable again.
type Monitor struct {
	prober   Prober
	flusher  Flusher
	interval time.Duration
	jitter   float64
	sample   func() float64
	onChange func(online bool)
	logger   zerolog.Logger

	mu     sync.Mutex
	online bool
}

type MonitorOption func(*Monitor)

func WithInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = interval
	}
}

// WithJitter spreads each wait uniformly over interval * (1 +/- ratio).
func WithJitter(ratio float64) MonitorOption {
	return func(m *Monitor) {
		m.jitter = ratio
	}
}

// WithSampleFunc replaces the random source used for jitter.
func WithSampleFunc(sample func() float64) MonitorOption {
	return func(m *Monitor) {
		m.sample = sample
	}
}

// WithOnChange is called after every connectivity transition.
func WithOnChange(onChange func(online bool)) MonitorOption {
	return func(m *Monitor) {
		m.onChange = onChange
	}
}

func WithMonitorLogger(logger zerolog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor starts out offline, so the first successful probe flushes.
func NewMonitor(prober Prober, flusher Flusher, options ...MonitorOption) *Monitor {
	m := &Monitor{
		prober:   prober,
		flusher:  flusher,
		interval: 10 * time.Second,
		jitter:   0.2,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.sample == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		m.sample = rng.Float64
	}
	return m
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes once. On an offline to online transition the queue is flushed
// before Check returns.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.prober.Probe(ctx) == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return online
	}
	if m.onChange != nil {
		m.onChange(online)
	}
	if !online {
		m.logger.Warn().Msg("API unreachable, writes will be queued")
		return online
	}

	m.logger.Info().Msg("API reachable, flushing queue")
	result, err := m.flusher.FlushQueue(ctx)
	if err != nil {
		m.logger.Err(err).Msg("flush failed")
	} else if result.Err != nil {
		m.logger.Warn().Err(result.Err).Int("requeued", result.Requeued).Msg("flush stopped early")
	}
	return online
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	timer := time.NewTimer(jitteredInterval(m.interval, m.jitter, m.sample()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Err(ctx.Err()).Msg("monitor stopping")
			return nil
		case <-timer.C:
			m.Check(ctx)
			timer.Reset(jitteredInterval(m.interval, m.jitter, m.sample()))
		}
	}
}

func jitteredInterval(base time.Duration, ratio, sample float64) time.Duration {
	if base <= 0 {
		return time.Millisecond
	}
	ratio = clamp(ratio)
	if ratio == 0 {
		return base
	}
	factor := 1 + ((clamp(sample)*2)-1)*ratio
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
