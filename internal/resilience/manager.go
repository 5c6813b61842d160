// Package resilience owns the lifecycle of connections to the backing
// stores. Startup failure after the bounded retry sequence is fatal; after a
// successful start the store is probed periodically and transient outages
// are ridden out with indefinite, backed-off reconnection attempts while
// callers fail fast.
package resilience

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the connection state of a single backing store. It is owned and
// exclusively mutated by the Manager.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// ErrStoreUnavailable is returned to callers that issue operations while the
// store is not connected. They fail fast instead of queuing.
var ErrStoreUnavailable = errors.New("store unavailable")

// Pinger executes a trivial round-trip against a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBPinger probes a SQL connection pool.
type DBPinger struct {
	DB *sql.DB
}

func (p DBPinger) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// RedisPinger probes the shared cache-store client.
type RedisPinger struct {
	Client *redis.Client
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

const (
	defaultAttempts      = 3
	defaultBaseBackoff   = 5 * time.Second
	defaultMaxBackoff    = 2 * time.Minute
	defaultProbeInterval = time.Minute
	defaultPingTimeout   = 5 * time.Second
)

// Manager supervises the connection to one backing store.
type Manager struct {
	name   string
	pinger Pinger
	log    *slog.Logger

	attempts      int
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	probeInterval time.Duration
	pingTimeout   time.Duration
	onState       func(store string, up bool)

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithAttempts bounds the startup connection attempts.
func WithAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// WithBackoff sets the initial retry delay; it doubles on each retry.
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.baseBackoff = d
		}
	}
}

// WithMaxBackoff caps the post-startup reconnection delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxBackoff = d
		}
	}
}

// WithProbeInterval sets the health probe period.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.probeInterval = d
		}
	}
}

// WithPingTimeout bounds each round-trip probe.
func WithPingTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pingTimeout = d
		}
	}
}

// WithStateHook registers a callback invoked on up/down transitions
// (e.g. to feed the store_up gauge).
func WithStateHook(fn func(store string, up bool)) Option {
	return func(m *Manager) {
		m.onState = fn
	}
}

// New constructs a Manager for the named store.
func New(name string, pinger Pinger, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		name:          name,
		pinger:        pinger,
		log:           log.With(slog.String("store", name)),
		attempts:      defaultAttempts,
		baseBackoff:   defaultBaseBackoff,
		maxBackoff:    defaultMaxBackoff,
		probeInterval: defaultProbeInterval,
		pingTimeout:   defaultPingTimeout,
		state:         Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Healthy reports whether the store currently accepts operations.
func (m *Manager) Healthy() bool {
	return m.State() == Connected
}

// Start performs the bounded startup connection sequence and, on success,
// launches the periodic health probe. If every attempt fails the error is
// fatal: the process must not serve traffic without its primary store.
func (m *Manager) Start(ctx context.Context) error {
	m.setState(Connecting)

	var lastErr error
	backoff := m.baseBackoff
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if lastErr = m.ping(ctx); lastErr == nil {
			m.setState(Connected)
			m.notify(true)
			m.log.Info("store connected", slog.Int("attempt", attempt))
			m.startProbe()
			return nil
		}
		m.log.Warn("store connect failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", m.attempts),
			slog.Duration("retry_in", backoff),
			slog.String("error", lastErr.Error()),
		)
		if attempt == m.attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			m.setState(Disconnected)
			return ctx.Err()
		}
		backoff *= 2
	}

	m.setState(Disconnected)
	m.notify(false)
	return fmt.Errorf("resilience: %s unreachable after %d attempts: %w", m.name, m.attempts, lastErr)
}

// Stop terminates the health probe loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Do runs fn against the store. While the store is not connected the call
// fails fast with ErrStoreUnavailable rather than queuing. A connection-class
// failure from fn flips the store to Degraded immediately instead of waiting
// for the next probe tick, so concurrent callers fail fast too.
func (m *Manager) Do(ctx context.Context, fn func(context.Context) error) error {
	if !m.Healthy() {
		return fmt.Errorf("%s: %w", m.name, ErrStoreUnavailable)
	}
	err := fn(ctx)
	if err == nil || !isConnectionError(err) {
		return err
	}
	// Confirm with a round trip before degrading: a single reset connection
	// inside a live pool is not an outage.
	if m.ping(ctx) == nil {
		return err
	}
	if m.Healthy() {
		m.degrade(err)
	}
	return fmt.Errorf("%s: %w: %v", m.name, ErrStoreUnavailable, err)
}

// isConnectionError reports whether err indicates the store connection is
// gone, as opposed to a domain failure like a missing row.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ProbeHealth executes a round-trip now and returns the resulting state.
// The periodic loop uses the same path.
func (m *Manager) ProbeHealth(ctx context.Context) State {
	if err := m.ping(ctx); err != nil {
		return Degraded
	}
	return Connected
}

func (m *Manager) startProbe() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go m.probeLoop(ctx, done)
}

func (m *Manager) probeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ping(ctx); err != nil {
				m.degrade(err)
				if !m.reconnect(ctx) {
					return
				}
			} else if !m.Healthy() {
				// Do degraded the store mid-window and it came back
				// before this tick.
				m.setState(Connected)
				m.notify(true)
				m.log.Info("store recovered")
			}
		}
	}
}

func (m *Manager) degrade(err error) {
	m.setState(Degraded)
	m.notify(false)
	m.log.Error("store degraded", slog.String("error", err.Error()))
}

// reconnect retries indefinitely with doubling, capped backoff until the
// store answers again or the manager is stopped. Reports false on shutdown.
func (m *Manager) reconnect(ctx context.Context) bool {
	backoff := m.baseBackoff
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if err := m.ping(ctx); err == nil {
			m.setState(Connected)
			m.notify(true)
			m.log.Info("store recovered")
			return true
		}
		m.log.Warn("store still degraded", slog.Duration("retry_in", backoff))
		backoff *= 2
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
	}
}

func (m *Manager) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()
	return m.pinger.Ping(ctx)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) notify(up bool) {
	if m.onState != nil {
		m.onState(m.name, up)
	}
}
