package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
	"ocm.software/open-component-model/bindings/go/testhost/manager/connection"
	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
)

const (
	// InitializeEndpoint pushes additional extensions to the host.
	InitializeEndpoint = "/discovery/initialize"
	// DiscoverEndpoint dispatches a discovery request and streams its events back.
	DiscoverEndpoint = "/discovery/run"
	// EndSessionEndpoint ends the session on the host.
	EndSessionEndpoint = "/session/end"
)

// HostClient talks to a discovery host through a connection manager.
type HostClient struct {
	conn *connection.Manager
}

// This client implements the host contract.
var _ v1.DiscoveryHostContract = (*HostClient)(nil)

// NewHostClient creates a client for the host behind conn.
func NewHostClient(conn *connection.Manager) *HostClient {
	return &HostClient{conn: conn}
}

func (c *HostClient) Ping(ctx context.Context) error {
	slog.DebugContext(ctx, "pinging test host", "id", c.conn.ID())

	if err := c.conn.Call(ctx, host.HealthEndpoint, http.MethodGet); err != nil {
		return fmt.Errorf("failed to ping host %s: %w", c.conn.ID(), err)
	}

	return nil
}

func (c *HostClient) InitializeDiscovery(ctx context.Context, request *v1.InitializeDiscoveryRequest) error {
	if err := c.conn.Call(ctx, InitializeEndpoint, http.MethodPost, host.WithPayload(request)); err != nil {
		return fmt.Errorf("failed to initialize discovery on host %s: %w", c.conn.ID(), err)
	}

	return nil
}

func (c *HostClient) DiscoverTests(ctx context.Context, request *v1.DiscoverTestsRequest) (v1.EventStream, error) {
	body, err := c.conn.OpenStream(ctx, DiscoverEndpoint, http.MethodPost, host.WithPayload(request))
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch discovery request to host %s: %w", c.conn.ID(), err)
	}

	return &eventStream{JSONStream: host.NewJSONStream[v1.DiscoveryEvent](body)}, nil
}

func (c *HostClient) EndSession(ctx context.Context, request *v1.EndSessionRequest) error {
	if err := c.conn.Call(ctx, EndSessionEndpoint, http.MethodPost, host.WithPayload(request)); err != nil {
		return fmt.Errorf("failed to end session on host %s: %w", c.conn.ID(), err)
	}

	return nil
}

type eventStream struct {
	*host.JSONStream[v1.DiscoveryEvent]
}

var _ v1.EventStream = (*eventStream)(nil)
