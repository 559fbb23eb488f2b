package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/internal/metrics"
	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
	"ocm.software/open-component-model/bindings/go/testhost/manager/connection"
	"ocm.software/open-component-model/bindings/go/testhost/manager/provider"
)

// DefaultEndSessionTimeout bounds the end session message sent to the host.
const DefaultEndSessionTimeout = 5 * time.Second

// ExtensionSource provides the extension configuration pushed to the host during initialization.
// The extension registry implements it.
type ExtensionSource interface {
	AdditionalExtensions() []string
	LoadOnlyWellKnown() bool
}

type Options struct {
	ID                string
	ConnectionOptions []connection.OptionFn
	EndSessionTimeout time.Duration
	Metrics           *metrics.Metrics
}

type OptionFn func(*Options)

// WithID sets the session id. A random id is generated otherwise.
func WithID(id string) OptionFn {
	return func(o *Options) {
		o.ID = id
	}
}

// WithConnectionOptions configures the connection that is owned by the session.
func WithConnectionOptions(opts ...connection.OptionFn) OptionFn {
	return func(o *Options) {
		o.ConnectionOptions = append(o.ConnectionOptions, opts...)
	}
}

// WithEndSessionTimeout bounds the time spent notifying the host that the session ended.
func WithEndSessionTimeout(d time.Duration) OptionFn {
	return func(o *Options) {
		o.EndSessionTimeout = d
	}
}

// WithMetrics records session outcomes. The metrics are handed to the connection as well.
func WithMetrics(m *metrics.Metrics) OptionFn {
	return func(o *Options) {
		o.Metrics = m
	}
}

// Manager drives a single discovery session against one test host.
type Manager struct {
	id      string
	conn    *connection.Manager
	client  v1.DiscoveryHostContract
	opts    Options
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	started time.Time
	status  v1.Status

	endOnce sync.Once
	ending  atomic.Bool
}

// NewManager creates a session whose host is started through p. The session owns the connection.
func NewManager(p provider.Provider, opts ...OptionFn) *Manager {
	o := Options{EndSessionTimeout: DefaultEndSessionTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	connOpts := append([]connection.OptionFn{connection.WithMetrics(o.Metrics)}, o.ConnectionOptions...)
	conn := connection.NewManager("discovery-"+o.ID, p, connOpts...)

	return &Manager{
		id:      o.ID,
		conn:    conn,
		client:  NewHostClient(conn),
		opts:    o,
		metrics: o.Metrics,
		state:   Created,
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

// Connection returns the connection owned by this session.
func (m *Manager) Connection() *connection.Manager {
	return m.conn
}

// Initialize connects to the host and pushes the extension paths to it. The initialization message
// is only sent if there is at least one path. Initialize may only be called once. If the host cannot
// be connected, it is released before the error is returned.
func (m *Manager) Initialize(ctx context.Context, extensionPaths []string, loadOnlyWellKnown bool) error {
	ctx = m.logContext(ctx)

	m.mu.Lock()
	if m.state != Created {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: initialize called on session %s in state %s", ErrUsage, m.id, state)
	}
	// claim the transition so concurrent callers cannot initialize twice
	m.state = Initialized
	m.mu.Unlock()

	if err := m.conn.EnsureConnected(ctx); err != nil {
		// a host that was started but never became ready is released right away
		if derr := m.conn.Disconnect(ctx); derr != nil {
			err = errors.Join(err, derr)
		}
		return fmt.Errorf("failed to connect to test host for session %s: %w", m.id, err)
	}

	paths := normalizePaths(extensionPaths)
	if len(paths) == 0 {
		slogcontext.Log(ctx, slog.LevelDebug, "no extensions to initialize on test host")
		return nil
	}

	slogcontext.Log(ctx, slog.LevelDebug, "initializing test host with extensions", "extensions", paths, "loadOnlyWellKnown", loadOnlyWellKnown)
	if err := m.client.InitializeDiscovery(ctx, &v1.InitializeDiscoveryRequest{
		ExtensionPaths:    paths,
		LoadOnlyWellKnown: loadOnlyWellKnown,
	}); err != nil {
		return err
	}

	return nil
}

// InitializeFromRegistry initializes the session with the extension configuration of src.
func (m *Manager) InitializeFromRegistry(ctx context.Context, src ExtensionSource) error {
	return m.Initialize(ctx, src.AdditionalExtensions(), src.LoadOnlyWellKnown())
}

// RunDiscovery dispatches a discovery request to the host and returns once it was sent.
// Results are delivered to sink from a separate goroutine. The session ends when the host
// reports completion, the stream breaks or EndSession is called. If the request cannot be
// dispatched or the host does not answer its health check, a failure is delivered to sink, the session ends and the error is returned.
// RunDiscovery may only be called once per session.
func (m *Manager) RunDiscovery(ctx context.Context, criteria v1.DiscoveryCriteria, sink EventSink) (*Handle, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: an event sink is required", ErrUsage)
	}
	ctx = m.logContext(ctx)

	m.mu.Lock()
	if m.state == SessionActive || m.state == SessionEnded {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: discovery already requested on session %s (state %s)", ErrUsage, m.id, state)
	}
	m.state = SessionActive
	m.started = time.Now()
	receiverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.conn.EnsureConnected(ctx); err != nil {
		err = fmt.Errorf("failed to connect to test host for session %s: %w", m.id, err)
		m.dispatchFailed(ctx, sink, err)
		return nil, err
	}

	// the host may have died since Initialize connected it
	if err := m.client.Ping(ctx); err != nil {
		err = fmt.Errorf("test host for session %s is not responsive: %w", m.id, err)
		m.dispatchFailed(ctx, sink, err)
		return nil, err
	}

	slogcontext.Log(ctx, slog.LevelDebug, "dispatching discovery request", "sources", criteria.Sources)
	stream, err := m.client.DiscoverTests(receiverCtx, &v1.DiscoverTestsRequest{Criteria: criteria})
	if err != nil {
		m.dispatchFailed(ctx, sink, err)
		return nil, err
	}

	handle := newHandle()
	go m.receive(receiverCtx, stream, sink, handle)

	return handle, nil
}

func (m *Manager) dispatchFailed(ctx context.Context, sink EventSink, err error) {
	slogcontext.Log(ctx, slog.LevelError, "discovery request could not be dispatched", "error", err.Error())
	complete := v1.DiscoveryComplete{Status: v1.StatusFailure, Error: err.Error()}
	m.setStatus(complete.Status)
	sink.HandleDiscoveryComplete(ctx, complete)
	m.EndSession(ctx)
}

// receive is the only goroutine that talks to the sink once the request was dispatched.
func (m *Manager) receive(ctx context.Context, stream v1.EventStream, sink EventSink, handle *Handle) {
	var complete v1.DiscoveryComplete
	defer func() {
		m.setStatus(complete.Status)
		m.EndSession(ctx)
		handle.finish(complete)
	}()
	defer func() {
		if err := stream.Close(); err != nil {
			slogcontext.Log(ctx, slog.LevelDebug, "failed to close discovery stream", "error", err.Error())
		}
	}()

	for {
		event, err := stream.Next()
		if err != nil {
			complete = m.interrupted(ctx, err)
			sink.HandleDiscoveryComplete(ctx, complete)
			return
		}
		if m.aborted(ctx) {
			complete = m.interrupted(ctx, ctx.Err())
			sink.HandleDiscoveryComplete(ctx, complete)
			return
		}

		switch event.Type {
		case v1.EventTestsFound:
			m.metrics.TestsDiscovered(len(event.Tests))
			sink.HandleDiscoveredTests(ctx, event.Tests)
		case v1.EventLog:
			if event.Log != nil {
				sink.HandleLogMessage(ctx, *event.Log)
			}
		case v1.EventComplete:
			if event.Complete == nil {
				complete = v1.DiscoveryComplete{Status: v1.StatusFailure, Error: "test host sent a complete event without payload"}
			} else {
				complete = *event.Complete
				m.metrics.TestsDiscovered(len(complete.LastChunk))
			}
			sink.HandleDiscoveryComplete(ctx, complete)
			return
		default:
			slogcontext.Log(ctx, slog.LevelWarn, "ignoring unknown discovery event", "type", string(event.Type))
		}
	}
}

// interrupted builds the terminal event for a discovery that ended before the host completed it.
func (m *Manager) interrupted(ctx context.Context, err error) v1.DiscoveryComplete {
	if m.aborted(ctx) {
		slogcontext.Log(ctx, slog.LevelDebug, "discovery aborted by end of session")
		return v1.DiscoveryComplete{Status: v1.StatusAborted, Error: "discovery session ended before completion"}
	}

	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	slogcontext.Log(ctx, slog.LevelError, "test host disconnected during discovery", "error", err.Error())
	return v1.DiscoveryComplete{
		Status: v1.StatusFailure,
		Error:  fmt.Sprintf("test host disconnected before discovery completed: %v", err),
	}
}

// EndSession notifies the host that the session is over, stops result delivery and disconnects.
// Only the first call has an effect. The host is notified on a best effort basis.
func (m *Manager) EndSession(ctx context.Context) {
	m.endOnce.Do(func() {
		m.ending.Store(true)
		ctx = m.logContext(context.WithoutCancel(ctx))

		m.mu.Lock()
		previous := m.state
		m.state = SessionEnded
		cancel := m.cancel
		started := m.started
		status := m.status
		m.mu.Unlock()

		if m.conn.State() == connection.Connected {
			endCtx, endCancel := context.WithTimeout(ctx, m.opts.EndSessionTimeout)
			if err := m.client.EndSession(endCtx, &v1.EndSessionRequest{}); err != nil {
				slogcontext.Log(ctx, slog.LevelDebug, "failed to notify test host about end of session", "error", err.Error())
			}
			endCancel()
		}

		if cancel != nil {
			cancel()
		}

		if err := m.conn.Disconnect(ctx); err != nil {
			slogcontext.Log(ctx, slog.LevelWarn, "failed to disconnect from test host", "error", err.Error())
		}

		if previous == SessionActive {
			if status == "" {
				status = v1.StatusAborted
			}
			m.metrics.SessionEnded(string(status), started)
		}
		slogcontext.Log(ctx, slog.LevelDebug, "discovery session ended", "previous", previous.String())
	})
}

// aborted reports whether the session is being ended while the receiver is still running.
func (m *Manager) aborted(ctx context.Context) bool {
	return ctx.Err() != nil || m.ending.Load()
}

func (m *Manager) setStatus(status v1.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == "" {
		m.status = status
	}
}

func (m *Manager) logContext(ctx context.Context) context.Context {
	return slogcontext.With(ctx, "session", m.id)
}

func normalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var result []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
