package sdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
	"ocm.software/open-component-model/bindings/go/testhost/manager/provider"
	"ocm.software/open-component-model/bindings/go/testhost/manager/session/discovery"
	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

// sourceDiscoverer reports one test per source.
type sourceDiscoverer struct {
	extensions atomic.Value
}

func (d *sourceDiscoverer) Discover(_ context.Context, criteria v1.DiscoveryCriteria, emit Emitter) error {
	if err := emit.Log("info", "discovering"); err != nil {
		return err
	}
	for _, source := range criteria.Sources {
		if err := emit.Tests(v1.TestCase{FullyQualifiedName: "Test" + source, Source: source}); err != nil {
			return err
		}
	}
	return nil
}

func (d *sourceDiscoverer) InitializeExtensions(_ context.Context, paths []string, _ bool) error {
	d.extensions.Store(paths)
	return nil
}

func newTestHost(t *testing.T, d Discoverer) (*Host, *httptest.Server) {
	t.Helper()
	h := NewHost(t.Context(), slog.Default(), types.Config{ID: "test", Type: types.TCP}, io.Discard)
	require.NoError(t, h.RegisterDiscoverer(d))
	server := httptest.NewServer(h.Handler())
	t.Cleanup(server.Close)
	return h, server
}

func post(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, body io.Reader) []v1.DiscoveryEvent {
	t.Helper()
	var events []v1.DiscoveryEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		event := v1.DiscoveryEvent{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestRunDiscovery(t *testing.T) {
	t.Run("batches tests and completes", func(t *testing.T) {
		_, server := newTestHost(t, &sourceDiscoverer{})

		resp := post(t, server.URL+"/discovery/run", v1.DiscoverTestsRequest{Criteria: v1.DiscoveryCriteria{
			Sources:                         []string{"a", "b", "c", "d", "e"},
			FrequencyOfDiscoveredTestsEvent: 2,
		}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

		events := readEvents(t, resp.Body)
		require.Len(t, events, 4)
		assert.Equal(t, v1.EventLog, events[0].Type)
		assert.Equal(t, "discovering", events[0].Log.Message)
		assert.Len(t, events[1].Tests, 2)
		assert.Len(t, events[2].Tests, 2)

		require.Equal(t, v1.EventComplete, events[3].Type)
		complete := events[3].Complete
		assert.True(t, complete.IsSuccess())
		assert.EqualValues(t, 5, complete.TotalTests)
		require.Len(t, complete.LastChunk, 1)
		assert.Equal(t, "Teste", complete.LastChunk[0].FullyQualifiedName)
	})

	t.Run("only once per session", func(t *testing.T) {
		_, server := newTestHost(t, &sourceDiscoverer{})

		resp := post(t, server.URL+"/discovery/run", v1.DiscoverTestsRequest{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		readEvents(t, resp.Body)

		resp = post(t, server.URL+"/discovery/run", v1.DiscoverTestsRequest{})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid request", func(t *testing.T) {
		_, server := newTestHost(t, &sourceDiscoverer{})

		resp := post(t, server.URL+"/discovery/run", map[string]any{"criteria": map[string]any{"sources": "not-a-list"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("failing discoverer", func(t *testing.T) {
		_, server := newTestHost(t, DiscovererFunc(func(_ context.Context, _ v1.DiscoveryCriteria, emit Emitter) error {
			_ = emit.Tests(v1.TestCase{FullyQualifiedName: "TestBefore"})
			return errors.New("cannot parse")
		}))

		resp := post(t, server.URL+"/discovery/run", v1.DiscoverTestsRequest{})
		events := readEvents(t, resp.Body)
		require.Len(t, events, 1)
		complete := events[0].Complete
		assert.Equal(t, v1.StatusFailure, complete.Status)
		assert.Equal(t, "cannot parse", complete.Error)
		assert.Len(t, complete.LastChunk, 1)
	})

	t.Run("panicking discoverer", func(t *testing.T) {
		_, server := newTestHost(t, DiscovererFunc(func(context.Context, v1.DiscoveryCriteria, Emitter) error {
			panic("boom")
		}))

		resp := post(t, server.URL+"/discovery/run", v1.DiscoverTestsRequest{})
		events := readEvents(t, resp.Body)
		require.Len(t, events, 1)
		assert.Equal(t, v1.StatusFailure, events[0].Complete.Status)
		assert.Contains(t, events[0].Complete.Error, "boom")
	})

	t.Run("flushes pending tests after a timeout", func(t *testing.T) {
		release := make(chan struct{})
		_, server := newTestHost(t, DiscovererFunc(func(ctx context.Context, _ v1.DiscoveryCriteria, emit Emitter) error {
			_ = emit.Tests(v1.TestCase{FullyQualifiedName: "TestEarly"})
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}))

		resp := post(t, server.URL+"/discovery/run", v1.DiscoverTestsRequest{Criteria: v1.DiscoveryCriteria{
			FrequencyOfDiscoveredTestsEvent: 100,
			DiscoveredTestEventTimeout:      20 * time.Millisecond,
		}})
		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		event := v1.DiscoveryEvent{}
		require.NoError(t, json.Unmarshal(line, &event))
		assert.Equal(t, v1.EventTestsFound, event.Type)
		close(release)

		events := readEvents(t, reader)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].Complete.LastChunk)
		assert.EqualValues(t, 1, events[0].Complete.TotalTests)
	})

	t.Run("end of session aborts", func(t *testing.T) {
		started := make(chan struct{})
		_, server := newTestHost(t, DiscovererFunc(func(ctx context.Context, _ v1.DiscoveryCriteria, _ Emitter) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))

		done := make(chan []v1.DiscoveryEvent)
		go func() {
			data, _ := json.Marshal(v1.DiscoverTestsRequest{})
			resp, err := http.Post(server.URL+"/discovery/run", "application/json", bytes.NewReader(data))
			if err != nil {
				done <- nil
				return
			}
			defer resp.Body.Close()
			var events []v1.DiscoveryEvent
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				event := v1.DiscoveryEvent{}
				if json.Unmarshal(scanner.Bytes(), &event) == nil {
					events = append(events, event)
				}
			}
			done <- events
		}()

		<-started
		resp := post(t, server.URL+"/session/end", v1.EndSessionRequest{})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		select {
		case events := <-done:
			require.Len(t, events, 1)
			assert.Equal(t, v1.StatusAborted, events[0].Complete.Status)
		case <-time.After(5 * time.Second):
			t.Fatal("discovery was not aborted")
		}
	})
}

func TestInitializeDiscovery(t *testing.T) {
	d := &sourceDiscoverer{}
	h, server := newTestHost(t, d)

	resp := post(t, server.URL+"/discovery/initialize", v1.InitializeDiscoveryRequest{ExtensionPaths: []string{"/opt/ext"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"/opt/ext"}, h.Extensions())
	assert.Equal(t, []string{"/opt/ext"}, d.extensions.Load())

	resp = post(t, server.URL+"/discovery/initialize", v1.InitializeDiscoveryRequest{ExtensionPaths: []string{"/opt/ext"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthCheckInvalidMethod(t *testing.T) {
	_, server := newTestHost(t, &sourceDiscoverer{})

	resp, err := http.Post(server.URL+"/healthz", "application/json", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	var hostErr host.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hostErr))
	assert.Equal(t, http.StatusMethodNotAllowed, hostErr.Status)
	assert.Equal(t, "this endpoint may only be called with either HEAD or GET method", hostErr.Message)
}

func TestHostSessionFlow(t *testing.T) {
	r := require.New(t)
	id := "test-host-session-flow"
	location := filepath.Join(os.TempDir(), id+"-testhost.socket")
	t.Cleanup(func() {
		_ = os.RemoveAll(location)
	})

	ctx := context.Background()
	d := &sourceDiscoverer{}
	h := NewHost(ctx, slog.Default(), types.Config{ID: id, Type: types.Socket}, io.Discard)
	r.NoError(h.RegisterDiscoverer(d))

	go func() {
		_ = h.Start(ctx)
	}()

	session := discovery.NewManager(&provider.AttachProvider{Location: location, Type: types.Socket})
	r.NoError(session.Initialize(t.Context(), []string{"/opt/ext"}, false))

	collector := discovery.NewCollector()
	handle, err := session.RunDiscovery(t.Context(), v1.DiscoveryCriteria{Sources: []string{"a", "b"}}, collector)
	r.NoError(err)

	waitCtx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	complete, err := handle.Wait(waitCtx)
	r.NoError(err)
	r.True(complete.IsSuccess())
	r.Len(collector.Tests(), 2)
	r.Len(collector.Logs(), 1)
	r.Equal([]string{"/opt/ext"}, h.Extensions())

	// the host stays up until it is shut down, attached hosts are not terminated by the session
	endpoint, err := host.NewEndpoint(id, types.Socket, location)
	r.NoError(err)
	r.NoError(endpoint.Call(t.Context(), http.MethodGet, host.HealthEndpoint))

	r.NoError(h.GracefulShutdown(ctx))
	_, err = os.Stat(location)
	r.True(os.IsNotExist(err))
}

func TestIdleChecker(t *testing.T) {
	r := require.New(t)
	id := "test-host-idle"
	location := filepath.Join(os.TempDir(), id+"-testhost.socket")
	timeout := 10 * time.Millisecond
	ctx := context.Background()
	h := NewHost(ctx, slog.Default(), types.Config{
		ID:          id,
		Type:        types.Socket,
		IdleTimeout: &timeout,
	}, io.Discard)
	r.NoError(h.RegisterDiscoverer(&sourceDiscoverer{}))

	t.Cleanup(func() {
		_ = os.RemoveAll(location)
	})

	stopped := make(chan error, 1)
	go func() {
		stopped <- h.Start(ctx)
	}()

	// idle timeout should stop the host and remove the socket.
	select {
	case err := <-stopped:
		r.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("idle host was not shut down")
	}

	r.Eventually(func() bool {
		_, err := os.Stat(location)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestStartRequiresDiscoverer(t *testing.T) {
	h := NewHost(t.Context(), nil, types.Config{ID: "none", Type: types.TCP}, io.Discard)
	require.Error(t, h.Start(t.Context()))
	require.Error(t, h.RegisterDiscoverer(nil))
}
