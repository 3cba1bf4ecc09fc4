// Package keys manages the pool of upstream API credentials.
//
// Each credential carries a three-state health machine:
//
//	StateHealthy     — normal operation; preferred for selection.
//	StateDegraded    — recent failures; selected only when no healthy key exists.
//	StateCircuitOpen — circuit tripped; skipped until the cooldown elapses.
//
// Transitions are driven only by reported outcomes and time. A failure
// streak of DegradedThreshold demotes a key, OpenThreshold opens its
// circuit, and terminal errors (auth rejection, exhausted quota) open it
// immediately. A success or an elapsed cooldown restores the key to healthy.
//
// The manager never returns an error for expected conditions: an exhausted
// pool is signalled by Acquire returning (nil, false), and reports against
// released or unknown leases are ignored.
package keys

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heygpt/heygpt/internal/upstream"
)

// State is the health state of a single credential.
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateCircuitOpen
)

// String returns the state label used in logs and the health document.
func (s State) String() string {
	switch s {
	case StateDegraded:
		return "degraded"
	case StateCircuitOpen:
		return "circuit_open"
	default:
		return "healthy"
	}
}

// Config holds the pool thresholds. Zero values fall back to the defaults.
type Config struct {
	// DegradedThreshold is the consecutive-failure count that demotes a
	// healthy credential to degraded. Default: 3.
	DegradedThreshold int

	// OpenThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	OpenThreshold int

	// Cooldown is how long an open circuit stays open before the
	// credential becomes eligible again. Default: 60s.
	Cooldown time.Duration
}

const (
	defaultDegradedThreshold = 3
	defaultOpenThreshold     = 5
	defaultCooldown          = 60 * time.Second
)

func (c Config) degradedThreshold() int {
	if c.DegradedThreshold > 0 {
		return c.DegradedThreshold
	}
	return defaultDegradedThreshold
}

func (c Config) openThreshold() int {
	if c.OpenThreshold > 0 {
		return c.OpenThreshold
	}
	return defaultOpenThreshold
}

func (c Config) cooldown() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return defaultCooldown
}

// credential is the mutable per-key record. Owned exclusively by the
// Manager; callers only ever see the opaque key value via a Lease.
type credential struct {
	value string
	state State

	streak      int // consecutive failures since the last success
	successes   uint64
	failures    uint64
	lastFailure time.Time
	openUntil   time.Time // circuit-open expiry; zero unless state is circuit-open
	lastUsed    time.Time // selection recency for round-robin within a tier
}

// Lease identifies one selected credential. Pass it back to ReportSuccess
// or ReportError once the upstream call resolves.
type Lease struct {
	// Key is the secret credential value to authenticate the call with.
	Key string

	index int
}

// Manager owns the credential pool. Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	creds []*credential
	cfg   Config
	log   *slog.Logger
}

// NewManager creates a Manager from the configured key values.
// State is in-memory only and resets on process restart.
func NewManager(keyValues []string, cfg Config, log *slog.Logger) (*Manager, error) {
	if len(keyValues) == 0 {
		return nil, fmt.Errorf("keys: at least one credential is required")
	}
	if log == nil {
		log = slog.Default()
	}

	creds := make([]*credential, len(keyValues))
	for i, v := range keyValues {
		if v == "" {
			return nil, fmt.Errorf("keys: credential %d is empty", i)
		}
		creds[i] = &credential{value: v, state: StateHealthy}
	}

	return &Manager{creds: creds, cfg: cfg, log: log}, nil
}

// Acquire selects a credential for the next upstream call.
//
// Circuit-open credentials inside their cooldown are skipped; one whose
// cooldown has elapsed is restored to healthy and competes normally.
// Healthy credentials are preferred over degraded, and within a tier the
// least recently used key wins so load spreads across the pool.
//
// Returns (nil, false) when every credential is circuit-open — callers
// must treat this as "service temporarily unavailable", not a hard error.
func (m *Manager) Acquire() (*Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	var best *credential
	bestIdx := -1

	for i, c := range m.creds {
		if c.state == StateCircuitOpen {
			if now.Before(c.openUntil) {
				continue
			}
			// Cooldown elapsed — eventual recovery.
			c.state = StateHealthy
			c.streak = 0
			c.openUntil = time.Time{}
			m.log.Info("credential circuit reset",
				slog.Int("key_index", i),
			)
		}

		if best == nil || prefer(c, best) {
			best = c
			bestIdx = i
		}
	}

	if best == nil {
		return nil, false
	}

	best.lastUsed = now
	return &Lease{Key: best.value, index: bestIdx}, true
}

// prefer reports whether a should be selected over b.
func prefer(a, b *credential) bool {
	if a.state != b.state {
		return a.state < b.state // healthy < degraded
	}
	return a.lastUsed.Before(b.lastUsed)
}

// ReportSuccess records a successful call on the leased credential,
// resetting its failure streak and restoring it to healthy.
func (m *Manager) ReportSuccess(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.lookup(l)
	if c == nil {
		return
	}

	c.successes++
	c.streak = 0
	if c.state != StateHealthy {
		m.log.Info("credential recovered",
			slog.Int("key_index", l.index),
			slog.String("from", c.state.String()),
		)
	}
	c.state = StateHealthy
	c.openUntil = time.Time{}
}

// ReportError records a failed call on the leased credential. Terminal
// error kinds open the circuit immediately; transient kinds count toward
// the degraded and open thresholds. Never returns an error.
func (m *Manager) ReportError(l *Lease, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.lookup(l)
	if c == nil {
		return
	}

	now := time.Now()
	c.failures++
	c.lastFailure = now

	kind := upstream.Classify(err)

	if kind.Terminal() {
		m.open(c, l.index, now, kind)
		return
	}

	c.streak++
	switch {
	case c.streak >= m.cfg.openThreshold():
		m.open(c, l.index, now, kind)

	case c.streak >= m.cfg.degradedThreshold() && c.state == StateHealthy:
		c.state = StateDegraded
		m.log.Warn("credential degraded",
			slog.Int("key_index", l.index),
			slog.Int("streak", c.streak),
			slog.String("kind", kind.String()),
		)
	}
}

func (m *Manager) open(c *credential, idx int, now time.Time, kind upstream.ErrorKind) {
	c.state = StateCircuitOpen
	c.openUntil = now.Add(m.cfg.cooldown())
	m.log.Warn("credential circuit opened",
		slog.Int("key_index", idx),
		slog.Int("streak", c.streak),
		slog.String("kind", kind.String()),
		slog.Time("open_until", c.openUntil),
	)
}

// lookup returns the credential for a lease, or nil when the lease does not
// match the pool. Stale and foreign leases are ignored.
func (m *Manager) lookup(l *Lease) *credential {
	if l == nil || l.index < 0 || l.index >= len(m.creds) {
		return nil
	}
	c := m.creds[l.index]
	if c.value != l.Key {
		return nil
	}
	return c
}

// Status is the aggregate pool health used by the health endpoint.
type Status struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Degraded    int `json:"degraded"`
	CircuitOpen int `json:"circuit_open"`
}

// HealthStatus returns aggregate counts over the pool. A circuit-open
// credential whose cooldown has already elapsed counts as healthy — the
// snapshot is a pure function of stored state and the current time.
func (m *Manager) HealthStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	st := Status{Total: len(m.creds)}

	for _, c := range m.creds {
		switch {
		case c.state == StateCircuitOpen && now.Before(c.openUntil):
			st.CircuitOpen++
		case c.state == StateDegraded:
			st.Degraded++
		default:
			st.Healthy++
		}
	}

	return st
}

// UsageAlerts returns human-readable warnings for the health endpoint.
// Empty when the pool is fully healthy.
func (m *Manager) UsageAlerts() []string {
	st := m.HealthStatus()

	var alerts []string
	switch {
	case st.CircuitOpen == st.Total:
		alerts = append(alerts,
			fmt.Sprintf("critical: all %d keys circuit-open", st.Total))
	case st.CircuitOpen > 0:
		alerts = append(alerts,
			fmt.Sprintf("critical: %d of %d keys circuit-open", st.CircuitOpen, st.Total))
	}
	if st.Degraded > 0 {
		alerts = append(alerts,
			fmt.Sprintf("warning: %d of %d keys degraded", st.Degraded, st.Total))
	}
	return alerts
}
