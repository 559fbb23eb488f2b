package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

const (
	MediaTypeJSON   = "application/json"
	MediaTypeNDJSON = "application/x-ndjson"
)

const dialTimeout = 30 * time.Second

// Endpoint addresses a running host.
type Endpoint struct {
	ID   string
	Type types.ConnectionType
	// Location is the socket path or the host:port the host listens on.
	Location string
	Client   *http.Client
}

// NewEndpoint creates an endpoint with a client that dials location over the network matching typ.
func NewEndpoint(id string, typ types.ConnectionType, location string) (Endpoint, error) {
	var network string
	switch typ {
	case types.Socket:
		network = "unix"
	case types.TCP:
		network = "tcp"
		location = strings.TrimPrefix(location, SchemeTCP)
	default:
		return Endpoint{}, fmt.Errorf("invalid connection type: %q", typ)
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, location)
			if err != nil {
				return nil, fmt.Errorf("failed to dial host %s at %s: %w", id, location, err)
			}
			return conn, nil
		},
	}

	return Endpoint{
		ID:       id,
		Type:     typ,
		Location: location,
		Client:   &http.Client{Transport: transport},
	}, nil
}

// URL returns the address of path. Requests over a unix socket use a fixed host name, the dialer
// picks the socket.
func (e Endpoint) URL(path string) string {
	base := "http://unix"
	if e.Type == types.TCP {
		base = SchemeTCP + strings.TrimPrefix(e.Location, SchemeTCP)
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}

type RequestOptions struct {
	Payload any
	Accept  string
}

type RequestOptionFn func(*RequestOptions)

// WithPayload sends payload as JSON body.
func WithPayload(payload any) RequestOptionFn {
	return func(o *RequestOptions) {
		o.Payload = payload
	}
}

func WithAccept(mediaType string) RequestOptionFn {
	return func(o *RequestOptions) {
		o.Accept = mediaType
	}
}

// Call sends a request and discards the response body.
func (e Endpoint) Call(ctx context.Context, method, path string, opts ...RequestOptionFn) (err error) {
	resp, err := e.send(ctx, method, path, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, resp.Body.Close())
	}()

	// drain the body so the connection can be reused
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read response of %s %s: %w", method, path, err)
	}

	return nil
}

// Open sends a request and hands the response body to the caller, who has to close it.
// The host is asked for newline delimited JSON unless WithAccept says otherwise.
func (e Endpoint) Open(ctx context.Context, method, path string, opts ...RequestOptionFn) (io.ReadCloser, error) {
	opts = append([]RequestOptionFn{WithAccept(MediaTypeNDJSON)}, opts...)
	resp, err := e.send(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (e Endpoint) send(ctx context.Context, method, path string, opts []RequestOptionFn) (*http.Response, error) {
	options := RequestOptions{Accept: MediaTypeJSON}
	for _, opt := range opts {
		opt(&options)
	}

	var body io.Reader
	if options.Payload != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(options.Payload); err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", MediaTypeJSON)
	}
	req.Header.Set("Accept", options.Accept)

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s on host %s failed: %w", method, path, e.ID, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, readError(resp)
	}

	return resp, nil
}
