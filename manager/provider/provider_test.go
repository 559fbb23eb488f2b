package provider

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/bindings/go/testhost/manager/types"
)

const (
	helperEnv     = "TESTHOST_WANT_HELPER_PROCESS"
	helperModeEnv = "TESTHOST_HELPER_MODE"
)

// TestHelperProcess isn't a real test. It is started as a host process by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}

	sigs := make(chan os.Signal, 1)
	if os.Getenv(helperModeEnv) == "stubborn" {
		signal.Ignore(os.Interrupt, syscall.SIGINT)
	} else {
		signal.Notify(sigs, os.Interrupt, syscall.SIGINT)
	}

	fmt.Fprintln(os.Stderr, "helper host starting")
	fmt.Fprintln(os.Stdout, "http+unix:///tmp/helper.sock")

	select {
	case <-sigs:
		os.Exit(0)
	case <-time.After(30 * time.Second):
		os.Exit(1)
	}
}

func helperProvider(mode string) *ProcessProvider {
	p := NewProcessProvider(os.Args[0], "-test.run=^TestHelperProcess$", "--")
	p.Env = []string{helperEnv + "=1", helperModeEnv + "=" + mode}
	return p
}

func TestProcessProvider(t *testing.T) {
	t.Run("start and gracefully terminate", func(t *testing.T) {
		p := helperProvider("graceful")

		h, err := p.Start(t.Context(), types.Config{ID: "graceful", Type: types.Socket})
		require.NoError(t, err)
		require.True(t, h.Spawned())

		line, err := bufio.NewReader(h.Stdout).ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "http+unix:///tmp/helper.sock\n", line)

		require.NoError(t, p.Terminate(t.Context(), h))
		require.NotNil(t, h.Cmd.ProcessState)
		assert.True(t, h.Cmd.ProcessState.Exited())
	})

	t.Run("host ignoring interrupts is killed", func(t *testing.T) {
		p := helperProvider("stubborn")
		p.ShutdownTimeout = 200 * time.Millisecond

		h, err := p.Start(t.Context(), types.Config{ID: "stubborn", Type: types.Socket})
		require.NoError(t, err)

		_, err = bufio.NewReader(h.Stdout).ReadString('\n')
		require.NoError(t, err)

		require.NoError(t, p.Terminate(t.Context(), h))
		require.NotNil(t, h.Cmd.ProcessState)
	})

	t.Run("missing executable", func(t *testing.T) {
		p := NewProcessProvider("/does/not/exist/testhost")
		_, err := p.Start(t.Context(), types.Config{ID: "missing", Type: types.TCP})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start host missing")
	})

	t.Run("terminating a host that was never spawned is a no-op", func(t *testing.T) {
		p := NewProcessProvider("unused")
		require.NoError(t, p.Terminate(t.Context(), &types.Host{ID: "attached", Location: "/tmp/x.sock"}))
		require.NoError(t, p.Terminate(t.Context(), nil))
	})
}

func TestAttachProvider(t *testing.T) {
	p := &AttachProvider{Location: "http://127.0.0.1:9999", Type: types.TCP}
	h, err := p.Start(t.Context(), types.Config{ID: "attached"})
	require.NoError(t, err)
	assert.False(t, h.Spawned())
	assert.Equal(t, types.TCP, h.Config.Type)
	assert.Equal(t, "http://127.0.0.1:9999", h.Location)
	require.NoError(t, p.Terminate(t.Context(), h))

	_, err = (&AttachProvider{}).Start(t.Context(), types.Config{ID: "nowhere"})
	require.Error(t, err)
}

func TestDetermineConnectionType(t *testing.T) {
	typ, err := DetermineConnectionType(t.Context())
	require.NoError(t, err)
	assert.Contains(t, []types.ConnectionType{types.Socket, types.TCP}, typ)
}
