package provider

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// Provider spawns or attaches to a test host and terminates it again.
type Provider interface {
	// Start brings up a host for the given configuration. The host does not need to be ready
	// when Start returns, readiness is awaited by the caller.
	Start(ctx context.Context, conf types.Config) (*types.Host, error)
	// Terminate releases the host. Terminating an already terminated host is not an error.
	Terminate(ctx context.Context, host *types.Host) error
}

// AttachProvider returns hosts that are already running at Location.
type AttachProvider struct {
	Location string
	Type     types.ConnectionType
}

var _ Provider = (*AttachProvider)(nil)

func (a *AttachProvider) Start(_ context.Context, conf types.Config) (*types.Host, error) {
	if a.Location == "" {
		return nil, fmt.Errorf("no location configured to attach host %s to", conf.ID)
	}
	conf.Type = a.Type
	return &types.Host{
		ID:       conf.ID,
		Config:   conf,
		Location: a.Location,
	}, nil
}

// Terminate is a no-op, attached hosts are owned by someone else.
func (a *AttachProvider) Terminate(_ context.Context, _ *types.Host) error {
	return nil
}

// DetermineConnectionType checks whether unix sockets can be created on this system and
// falls back to TCP otherwise.
func DetermineConnectionType(ctx context.Context) (types.ConnectionType, error) {
	tmp, err := os.MkdirTemp("", "")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmp)
	}()

	socketPath := filepath.Join(tmp, "host.sock")
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "unix", socketPath)
	if err != nil {
		return types.TCP, nil
	}

	if err := listener.Close(); err != nil {
		return "", fmt.Errorf("failed to close socket: %w", err)
	}

	return types.Socket, nil
}
