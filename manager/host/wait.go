package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// DefaultConnectionTimeout is used when WaitForHost is called without a timeout.
const DefaultConnectionTimeout = 30 * time.Second

// HealthEndpoint answers GET requests once the host accepts work.
const HealthEndpoint = "/healthz"

const pollInterval = 100 * time.Millisecond

// Hosts announce where they listen with one of these schemes.
const (
	SchemeTCP  = "http://"
	SchemeUnix = "http+unix://"
)

// ErrTimeout is returned by WaitForHost when the host did not become ready in time.
var ErrTimeout = errors.New("timed out waiting for host")

// ParseLocation reads a location as announced by a host: http://<address> or http+unix://<socket>.
func ParseLocation(line string) (string, types.ConnectionType, bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, SchemeUnix):
		return strings.TrimPrefix(line, SchemeUnix), types.Socket, true
	case strings.HasPrefix(line, SchemeTCP):
		return strings.TrimPrefix(line, SchemeTCP), types.TCP, true
	default:
		return "", "", false
	}
}

// FormatLocation is the counterpart of ParseLocation.
func FormatLocation(typ types.ConnectionType, location string) string {
	if typ == types.TCP {
		return SchemeTCP + location
	}
	return SchemeUnix + location
}

// WaitForHost resolves where h listens and polls its health endpoint until it answers or the
// timeout passes. Spawned hosts announce their location on stdout, attached hosts carry it.
func WaitForHost(ctx context.Context, h *types.Host, timeout time.Duration) (Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	location := h.Location
	if location == "" {
		var err error
		if location, err = readLocation(ctx, h); err != nil {
			return Endpoint{}, fmt.Errorf("failed to get location of host %s: %w", h.ID, err)
		}
	}

	endpoint, err := NewEndpoint(h.ID, h.Config.Type, location)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to connect to host %s: %w", h.ID, err)
	}

	slogcontext.Log(ctx, slog.LevelDebug, "waiting for host to become healthy", "location", location)

	for {
		err := endpoint.Call(ctx, http.MethodGet, HealthEndpoint)
		if err == nil {
			return endpoint, nil
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("host %s did not become healthy: %w", h.ID, context.Cause(ctx))
		}
	}
}

// readLocation scans the output of h for the first line carrying a location.
func readLocation(ctx context.Context, h *types.Host) (string, error) {
	if h.Stdout == nil {
		return "", errors.New("host has no output to read the location from")
	}

	found := make(chan string, 1)
	failed := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(h.Stdout)
		for scanner.Scan() {
			if location, _, ok := ParseLocation(scanner.Text()); ok {
				found <- location
				return
			}
			slogcontext.Log(ctx, slog.LevelDebug, "skipping host output", "line", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			failed <- fmt.Errorf("failed to read host output: %w", err)
			return
		}
		failed <- errors.New("host closed its output before announcing a location")
	}()

	select {
	case location := <-found:
		return location, nil
	case err := <-failed:
		return "", err
	case <-ctx.Done():
		return "", context.Cause(ctx)
	}
}
