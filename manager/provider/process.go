package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// DefaultShutdownTimeout is the time a host gets to exit after an interrupt before it is killed.
const DefaultShutdownTimeout = 10 * time.Second

// ProcessProvider starts test hosts as child processes.
type ProcessProvider struct {
	// Path of the host executable.
	Path string
	// Args are passed to the host before the --config flag.
	Args []string
	// Env is appended to the environment of the orchestrator.
	Env []string
	// ShutdownTimeout is the time a host gets to exit gracefully.
	ShutdownTimeout time.Duration
}

var _ Provider = (*ProcessProvider)(nil)

// NewProcessProvider creates a provider for the host executable at path.
func NewProcessProvider(path string, args ...string) *ProcessProvider {
	return &ProcessProvider{
		Path:            path,
		Args:            args,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

func cleanPath(path string) string {
	return strings.Trim(path, `,;:'"|&*!@#$`)
}

// Start runs the host executable with the serialized configuration. The process is not bound to
// the cancellation of ctx, it lives until Terminate is called.
func (p *ProcessProvider) Start(ctx context.Context, conf types.Config) (*types.Host, error) {
	if conf.Type == "" {
		t, err := DetermineConnectionType(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not determine connection type: %w", err)
		}
		conf.Type = t
	}

	serialized, err := json.Marshal(conf)
	if err != nil {
		return nil, err
	}

	baseCtx := context.WithoutCancel(ctx)
	args := append(append([]string{}, p.Args...), "--config", string(serialized))
	cmd := exec.CommandContext(baseCtx, cleanPath(p.Path), args...) //nolint:gosec // G204 does not apply
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}

	h := &types.Host{
		ID:     conf.ID,
		Path:   p.Path,
		Config: conf,
		Cmd:    cmd,
	}

	// Set up communication pipes.
	if h.Stderr, err = cmd.StderrPipe(); err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if h.Stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start host %s: %w", conf.ID, err)
	}

	slog.DebugContext(ctx, "started test host", "id", conf.ID, "path", p.Path, "pid", cmd.Process.Pid)

	// the streamer ends by itself once the host closes stderr.
	go host.StartLogStreamer(baseCtx, h)

	return h, nil
}

// Terminate sends an Interrupt signal to the host and waits for it to exit. Hosts that do not exit
// within the shutdown timeout are killed.
func (p *ProcessProvider) Terminate(ctx context.Context, h *types.Host) error {
	if h == nil || !h.Spawned() || h.Cmd.Process == nil {
		return nil
	}

	timeout := p.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exited := make(chan error, 1)
	go func() {
		exited <- h.Cmd.Wait()
	}()

	// The hosts should handle the Interrupt signal for shutdowns.
	if err := h.Cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "failed to interrupt host, killing it", "id", h.ID, "error", err)
		if kerr := h.Cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return fmt.Errorf("failed to send interrupt signal to host: %w", errors.Join(err, kerr))
		}
	}

	select {
	case err := <-exited:
		return ignoreExitError(err)
	case <-ctx.Done():
		slog.InfoContext(ctx, "killing test host because it did not shut down in time", "id", h.ID)
		err := h.Cmd.Process.Kill()
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			return errors.Join(ctx.Err(), err)
		}
		<-exited
		return nil
	}
}

// ignoreExitError drops errors that only describe how the host exited. Once terminated, the exit
// status of the host is of no interest.
func ignoreExitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
