// Package connection owns the lifecycle of a single logical connection to one test host:
// connect with timeout, idempotent "ensure connected" and disconnect.
//
// A Manager is not shared across sessions. Discovery ( and execution ) sessions each hold their own.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/internal/metrics"
	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
	"ocm.software/open-component-model/bindings/go/testhost/manager/provider"
	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// DefaultConnectTimeout is the default time to wait for a host to become ready.
const DefaultConnectTimeout = 30 * time.Second

type Options struct {
	ConnectTimeout time.Duration
	IdleTimeout    *time.Duration
	ConnectionType types.ConnectionType
	Metrics        *metrics.Metrics
}

type OptionFn func(*Options)

// WithConnectTimeout configures the maximum amount of time to wait for the host to become ready.
func WithConnectTimeout(d time.Duration) OptionFn {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

// WithIdleTimeout configures the maximum amount of time for a host to quit if it's idle.
func WithIdleTimeout(d time.Duration) OptionFn {
	return func(o *Options) {
		o.IdleTimeout = &d
	}
}

// WithConnectionType forces a connection type instead of detecting it.
func WithConnectionType(t types.ConnectionType) OptionFn {
	return func(o *Options) {
		o.ConnectionType = t
	}
}

// WithMetrics records connection attempts.
func WithMetrics(m *metrics.Metrics) OptionFn {
	return func(o *Options) {
		o.Metrics = m
	}
}

// Manager manages the connection to a single test host.
type Manager struct {
	id       string
	provider provider.Provider
	opts     Options

	mu       sync.Mutex
	state    State
	attempts int
	host     *types.Host
	endpoint host.Endpoint
}

// NewManager creates a connection manager for the host with the given id.
// No work happens until EnsureConnected is called.
func NewManager(id string, p provider.Provider, opts ...OptionFn) *Manager {
	o := Options{ConnectTimeout: DefaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		id:       id,
		provider: p,
		opts:     o,
		state:    Uninitialized,
	}
}

func (m *Manager) ID() string {
	return m.id
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how often a connection handshake was performed.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// EnsureConnected connects to the host if that did not happen yet. Only the first call performs
// work, subsequent calls on a healthy connection return immediately. A connection that faulted
// is not retried, ErrConnectionClosed is returned instead.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Connected:
		return nil
	case Faulted, Terminated:
		return fmt.Errorf("%w: host %s is %s", ErrConnectionClosed, m.id, m.state)
	}

	ctx = slogcontext.With(ctx, "host", m.id)
	m.state = Connecting
	m.attempts++

	conf := types.Config{
		ID:          m.id,
		Type:        m.opts.ConnectionType,
		IdleTimeout: m.opts.IdleTimeout,
	}

	h, err := m.provider.Start(ctx, conf)
	if err != nil {
		m.state = Faulted
		m.opts.Metrics.ConnectAttempt(metrics.ResultFailure)
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	m.host = h

	endpoint, err := host.WaitForHost(ctx, h, m.opts.ConnectTimeout)
	if err != nil {
		m.state = Faulted
		if errors.Is(err, host.ErrTimeout) {
			m.opts.Metrics.ConnectAttempt(metrics.ResultTimeout)
			return fmt.Errorf("%w after %s: %w", ErrConnectionTimeout, m.opts.ConnectTimeout, err)
		}
		m.opts.Metrics.ConnectAttempt(metrics.ResultFailure)
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	m.endpoint = endpoint
	m.state = Connected
	m.opts.Metrics.ConnectAttempt(metrics.ResultConnected)
	slogcontext.Log(ctx, slog.LevelDebug, "connected to test host", "location", endpoint.Location)

	return nil
}

// Disconnect releases the host and moves the connection to Terminated. Repeated calls are no-ops.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Terminated {
		return nil
	}

	previous := m.state
	m.state = Terminated

	if m.endpoint.Client != nil {
		m.endpoint.Client.CloseIdleConnections()
	}

	if m.host == nil {
		return nil
	}

	slog.DebugContext(ctx, "terminating test host", "host", m.id, "previous", previous.String())
	if err := m.provider.Terminate(ctx, m.host); err != nil {
		return fmt.Errorf("failed to terminate host %s: %w", m.id, err)
	}

	return nil
}

// Call sends a request to path on the connected host.
func (m *Manager) Call(ctx context.Context, path, method string, opts ...host.RequestOptionFn) error {
	endpoint, err := m.connected()
	if err != nil {
		return err
	}
	return endpoint.Call(ctx, method, path, opts...)
}

// OpenStream sends a request to path on the connected host and returns the response body.
func (m *Manager) OpenStream(ctx context.Context, path, method string, opts ...host.RequestOptionFn) (io.ReadCloser, error) {
	endpoint, err := m.connected()
	if err != nil {
		return nil, err
	}
	return endpoint.Open(ctx, method, path, opts...)
}

func (m *Manager) connected() (host.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Connected {
		return host.Endpoint{}, fmt.Errorf("%w: host %s is %s", ErrConnectionClosed, m.id, m.state)
	}

	return m.endpoint, nil
}
