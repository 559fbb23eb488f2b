package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// Host contains configuration for a single test host and further details for life-cycle management.
// Idle time tracks server work. If the server is not processing requests and not getting new ones
// it shuts down automatically after the configured idle timeout. A new request resets this timer.
type Host struct {
	Config types.Config

	discoverer    Discoverer
	server        *http.Server
	interrupt     chan struct{}
	workerCounter atomic.Int64
	location      string
	output        io.Writer
	baseCtx       context.Context
	// this should be a logger using stderr, stdout is reserved for the location.
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	running     bool
	ended       bool
	cancelRun   context.CancelFunc
	extensions  []string
}

// NewHost creates a new test host. Register a discoverer before starting it. The location the host
// listens on is printed to output so the orchestrator can pick it up.
func NewHost(ctx context.Context, logger *slog.Logger, conf types.Config, output io.Writer) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		Config:    conf,
		interrupt: make(chan struct{}, 1),
		output:    output,
		baseCtx:   ctx, // base context is used for graceful shutdown operation to finish properly
		logger:    logger,
	}
}

// RegisterDiscoverer sets the discoverer serving discovery requests.
func (h *Host) RegisterDiscoverer(d Discoverer) error {
	if d == nil {
		return errors.New("discoverer is required")
	}
	h.discoverer = d
	return nil
}

// Extensions returns the extension paths the orchestrator initialized the host with.
func (h *Host) Extensions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.extensions...)
}

func (h *Host) startIdleChecker(ctx context.Context) {
	interval := time.Hour
	if h.Config.IdleTimeout != nil {
		interval = *h.Config.IdleTimeout
	}

	timer := time.NewTimer(interval)

	for {
		select {
		case <-timer.C:
			timer.Stop()

			h.logger.InfoContext(ctx, "idle check timer expired for test host", "id", h.Config.ID)
			if err := h.GracefulShutdown(ctx); err != nil {
				h.logger.ErrorContext(ctx, "failed to gracefully shutdown test host", "error", err)
			}

			return
		case <-h.interrupt:
			if h.workerCounter.Load() == 0 {
				// no longer working, start the idle timeout
				timer.Stop()
				timer.Reset(interval)
			} else {
				// we received work, stop the timer.
				timer.Stop()
			}
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (h *Host) StartWork() {
	h.workerCounter.Add(1)
	h.wakeIdleChecker()
}

func (h *Host) StopWork() {
	h.workerCounter.Add(-1)
	h.wakeIdleChecker()
}

// wakeIdleChecker never blocks. The idle checker looks at the worker counter when it wakes up,
// so a single pending wake up covers any number of changes.
func (h *Host) wakeIdleChecker() {
	select {
	case h.interrupt <- struct{}{}:
	default:
	}
}

// Start starts the host and sets up a graceful shutdown catch for interrupts.
func (h *Host) Start(ctx context.Context) error {
	if h.discoverer == nil {
		return errors.New("no discoverer registered")
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func(ctx context.Context) {
		sig := <-sigs

		h.logger.InfoContext(ctx, "Received signal. Shutting down.", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.GracefulShutdown(ctx); err != nil {
			h.logger.ErrorContext(ctx, "Error shutting down test host", "error", err)
		}
	}(ctx)

	if err := h.listen(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Handler returns the routes of the host.
func (h *Host) Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc(host.HealthEndpoint, h.Healthz)
	m.HandleFunc("/shutdown", h.Shutdown)
	m.HandleFunc("POST /discovery/initialize", h.workerHandler(h.initializeDiscovery))
	m.HandleFunc("POST /discovery/run", h.workerHandler(h.runDiscovery))
	m.HandleFunc("POST /session/end", h.workerHandler(h.endSession))
	return m
}

func (h *Host) Healthz(w http.ResponseWriter, r *http.Request) {
	h.StartWork()
	defer h.StopWork()

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	host.NewError(
		errors.New(
			"this endpoint may only be called with either HEAD or GET method"),
		http.StatusMethodNotAllowed).
		Write(w)
}

func (h *Host) initializeDiscovery(w http.ResponseWriter, r *http.Request) {
	schema, err := v1.InitializeDiscoveryRequestSchema()
	if err != nil {
		host.NewError(err, http.StatusInternalServerError).Write(w)
		return
	}

	request, err := host.DecodeRequest[v1.InitializeDiscoveryRequest](r, schema)
	if err != nil {
		host.NewError(err, http.StatusBadRequest).Write(w)
		return
	}

	h.mu.Lock()
	if h.initialized || h.ended {
		h.mu.Unlock()
		host.NewError(errors.New("discovery was already initialized"), http.StatusConflict).Write(w)
		return
	}
	h.initialized = true
	h.extensions = append([]string(nil), request.ExtensionPaths...)
	h.mu.Unlock()

	h.logger.DebugContext(r.Context(), "initializing discovery", "extensions", request.ExtensionPaths, "loadOnlyWellKnown", request.LoadOnlyWellKnown)

	if initializer, ok := h.discoverer.(ExtensionInitializer); ok {
		if err := initializer.InitializeExtensions(r.Context(), request.ExtensionPaths, request.LoadOnlyWellKnown); err != nil {
			host.NewError(fmt.Errorf("failed to initialize extensions: %w", err), http.StatusInternalServerError).Write(w)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Host) runDiscovery(w http.ResponseWriter, r *http.Request) {
	schema, err := v1.DiscoverTestsRequestSchema()
	if err != nil {
		host.NewError(err, http.StatusInternalServerError).Write(w)
		return
	}

	request, err := host.DecodeRequest[v1.DiscoverTestsRequest](r, schema)
	if err != nil {
		host.NewError(err, http.StatusBadRequest).Write(w)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.mu.Lock()
	if h.running || h.ended {
		h.mu.Unlock()
		host.NewError(errors.New("discovery was already requested in this session"), http.StatusConflict).Write(w)
		return
	}
	h.running = true
	h.cancelRun = cancel
	h.mu.Unlock()

	w.Header().Set("Content-Type", host.MediaTypeNDJSON)
	w.WriteHeader(http.StatusOK)
	// the orchestrator treats the response headers as the acknowledgement of the request
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	emitter := newStreamEmitter(ctx, w, request.Criteria.FrequencyOfDiscoveredTestsEvent)
	stopFlush := emitter.flushEvery(request.Criteria.DiscoveredTestEventTimeout)

	h.logger.DebugContext(ctx, "running discovery", "sources", request.Criteria.Sources)
	status, cause := v1.StatusSuccess, h.discover(ctx, request.Criteria, emitter)
	stopFlush()
	switch {
	case ctx.Err() != nil:
		status = v1.StatusAborted
	case cause != nil:
		status = v1.StatusFailure
	}

	if err := emitter.complete(status, cause); err != nil {
		h.logger.ErrorContext(ctx, "failed to send discovery result", "error", err)
	}
}

// discover shields the host from panicking discoverers.
func (h *Host) discover(ctx context.Context, criteria v1.DiscoveryCriteria, emit Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discoverer panicked: %v", r)
		}
	}()

	return h.discoverer.Discover(ctx, criteria, emit)
}

func (h *Host) endSession(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.ended = true
	cancel := h.cancelRun
	h.mu.Unlock()

	h.logger.DebugContext(r.Context(), "session ended by orchestrator", "id", h.Config.ID)
	if cancel != nil {
		cancel()
	}

	w.WriteHeader(http.StatusOK)
}

// listen starts listening for connections from the orchestrator.
func (h *Host) listen(ctx context.Context) error {
	loc, err := h.determineLocation()
	if err != nil {
		return fmt.Errorf("could not determine location: %w", err)
	}
	h.location = loc

	conn, err := net.Listen(string(h.Config.Type), loc)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", loc, err)
	}

	server := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	h.mu.Lock()
	h.server = server
	h.mu.Unlock()

	// start idle checker.
	go h.startIdleChecker(ctx)

	// output the location before starting the server
	if _, err := fmt.Fprintln(h.output, host.FormatLocation(h.Config.Type, loc)); err != nil {
		return fmt.Errorf("failed to write location to output writer: %w", err)
	}

	return server.Serve(conn)
}

func (h *Host) determineLocation() (_ string, err error) {
	switch h.Config.Type {
	case types.Socket:
		loc := filepath.Join(os.TempDir(), h.Config.ID+"-testhost.socket")
		if _, err := os.Stat(loc); err == nil {
			return "", fmt.Errorf("test host location already exists: %s", loc)
		}

		return loc, nil
	case types.TCP:
		// Listen `:0` gives back a random _free_ port for the host to listen on.
		// Once we have this port, this listener is immediately closed and a purpose listener
		// will be opened with the specific port.
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", fmt.Errorf("failed to start tcp listener: %w", err)
		}

		defer func() {
			err = errors.Join(err, l.Close())
		}()

		return l.Addr().String(), nil
	}

	return "", fmt.Errorf("unknown connection type: %s", h.Config.Type)
}

// GracefulShutdown will stop the server and do cleanup if necessary.
// In case of sockets it will remove the created socket.
func (h *Host) GracefulShutdown(ctx context.Context) error {
	h.mu.Lock()
	server := h.server
	cancel := h.cancelRun
	h.mu.Unlock()

	if server == nil {
		return nil
	}

	h.logger.InfoContext(ctx, "Gracefully shutting down test host", "id", h.Config.ID)
	if cancel != nil {
		cancel()
	}
	// We ignore server closed errors because server closing might race with the listener.
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if h.Config.Type == types.Socket {
		h.logger.InfoContext(ctx, "removing socket", "location", h.location)
		if err := os.Remove(h.location); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return nil
}

// Shutdown uses the base context handed to NewHost because the request context is cancelled
// while the server shuts down.
func (h *Host) Shutdown(w http.ResponseWriter, _ *http.Request) {
	h.logger.InfoContext(h.baseCtx, "Shutting down test host", "id", h.Config.ID)
	w.WriteHeader(http.StatusOK)
	go func() {
		if err := h.GracefulShutdown(h.baseCtx); err != nil {
			h.logger.ErrorContext(h.baseCtx, "Error shutting down test host", "error", err)
		}
	}()
}

// workerHandler marks the host busy while h runs so the idle checker does not shut it down.
func (h *Host) workerHandler(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StartWork()
		defer h.StopWork()

		handler(w, r)
	}
}
