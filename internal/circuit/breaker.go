// Package circuit stops repeated dials to hosts that keep failing at the
// connection level.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/sharefs/sharefs/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets dials through.
	StateClosed State = iota
	// StateOpen rejects dials until the open timeout passes.
	StateOpen
	// StateHalfOpen lets a single probe dial through.
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Consecutive tripping failures that open the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// How long the breaker stays open before allowing a probe.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// Trips reports whether err counts against the host. Defaults to
	// connection-level codes only.
	Trips func(err error) bool `yaml:"-"`

	// Called on every state change.
	OnStateChange func(key string, from, to State) `yaml:"-"`
}

// Counts holds the outcome counters of a breaker.
type Counts struct {
	Requests            uint32    `json:"requests"`
	Rejected            uint32    `json:"rejected"`
	TotalFailures       uint32    `json:"total_failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastActivity        time.Time `json:"last_activity"`
}

// Breaker guards dials to a single host.
type Breaker struct {
	key    string
	config Config
	now    func() time.Time

	mu      sync.Mutex
	state   State
	counts  Counts
	expiry  time.Time
	probing bool
	lastErr error
}

// NewBreaker creates a closed breaker for key.
func NewBreaker(key string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.Trips == nil {
		config.Trips = connectionFailure
	}
	return &Breaker{key: key, config: config, now: time.Now}
}

// connectionFailure counts errors that say the host itself is unreachable.
// Authentication and lookup failures prove the host answered.
func connectionFailure(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrCodeTimeout, errors.ErrCodeUnknownHost, errors.ErrCodeIO:
		return true
	}
	return false
}

// Execute runs fn unless the breaker is open. A rejected call returns an
// error carrying the code of the failure that opened the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.after(probe, err)
	return err
}

func (b *Breaker) before() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.counts.LastActivity = now
	if b.state == StateOpen && !now.Before(b.expiry) {
		b.setState(StateHalfOpen)
	}

	switch b.state {
	case StateOpen:
		b.counts.Rejected++
		return false, b.rejection(b.expiry.Sub(now))
	case StateHalfOpen:
		if b.probing {
			b.counts.Rejected++
			return false, b.rejection(0)
		}
		b.probing = true
		b.counts.Requests++
		return true, nil
	}
	b.counts.Requests++
	return false, nil
}

func (b *Breaker) after(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	switch {
	case err == nil:
		b.counts.ConsecutiveFailures = 0
		b.setState(StateClosed)
	case errors.IsCode(err, errors.ErrCodeCancelled):
		// the caller gave up; nothing learned about the host
	case b.config.Trips(err):
		b.lastErr = err
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		if probe || int(b.counts.ConsecutiveFailures) >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	default:
		b.counts.ConsecutiveFailures = 0
		if probe {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) rejection(retryAfter time.Duration) error {
	code := errors.CodeOf(b.lastErr)
	if code == "" {
		code = errors.ErrCodeUnknownHost
	}
	return errors.NewError(code, "host unavailable, circuit open").
		WithComponent("circuit").
		WithContext("host", b.key).
		WithContext("retry_after", retryAfter.Round(time.Millisecond).String()).
		WithCause(b.lastErr)
}

func (b *Breaker) setState(state State) {
	prev := b.state
	if prev == state {
		return
	}
	b.state = state
	switch state {
	case StateOpen:
		b.expiry = b.now().Add(b.config.OpenTimeout)
	case StateClosed:
		b.lastErr = nil
		b.expiry = time.Time{}
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.key, prev, state)
	}
}

// State returns the current state, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.expiry) {
		b.setState(StateHalfOpen)
	}
	return b.state
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = Counts{}
	b.probing = false
	b.setState(StateClosed)
}

// Key returns the host key the breaker guards.
func (b *Breaker) Key() string {
	return b.key
}

// Manager hands out one breaker per host key.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager creates a new circuit breaker manager
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Get gets or creates the breaker for key.
func (m *Manager) Get(key string) *Breaker {
	m.mu.RLock()
	if breaker, exists := m.breakers[key]; exists {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[key]; exists {
		return breaker
	}
	breaker := NewBreaker(key, m.config)
	m.breakers[key] = breaker
	return breaker
}

// Remove drops the breaker for key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, key)
}

// Stats represents statistics for a single breaker
type Stats struct {
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// Stats returns statistics for every known host.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}
	m.mu.RUnlock()

	stats := make(map[string]Stats, len(breakers))
	for _, breaker := range breakers {
		stats[breaker.Key()] = Stats{State: breaker.State(), Counts: breaker.Counts()}
	}
	return stats
}

// Open lists the hosts whose breaker is currently open.
func (m *Manager) Open() []string {
	var open []string
	for key, stat := range m.Stats() {
		if stat.State == StateOpen {
			open = append(open, key)
		}
	}
	return open
}
