package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/bindings/go/testhost/extensions"
)

func externalDiscoverer(t *testing.T, script string) *ExternalDiscoverer {
	t.Helper()
	executable := filepath.Join(t.TempDir(), "discoverer")
	require.NoError(t, os.WriteFile(executable, []byte("#!/bin/sh\n"+script), 0o755))

	return &ExternalDiscoverer{
		Name:       "sample",
		Executable: executable,
		Metadata:   extensions.NewMetadata(t.Context(), []string{"smp"}, "executor://sample"),
	}
}

func TestExternalDiscoverer(t *testing.T) {
	t.Run("reports tests with defaults", func(t *testing.T) {
		d := externalDiscoverer(t, `echo "{\"fullyQualifiedName\":\"sample.$1\"}"`+"\n")

		tests, err := d.Discover(t.Context(), "/src/a.smp")
		require.NoError(t, err)
		require.Len(t, tests, 1)
		assert.Equal(t, "sample./src/a.smp", tests[0].FullyQualifiedName)
		assert.Equal(t, "executor://sample/", tests[0].ExecutorURI)
		assert.Equal(t, "/src/a.smp", tests[0].Source)
	})

	t.Run("no output", func(t *testing.T) {
		tests, err := externalDiscoverer(t, "exit 0\n").Discover(t.Context(), "a.smp")
		require.NoError(t, err)
		assert.Empty(t, tests)
	})

	t.Run("invalid output", func(t *testing.T) {
		_, err := externalDiscoverer(t, "echo 'not json'\n").Discover(t.Context(), "a.smp")
		require.ErrorContains(t, err, "invalid output")
	})

	t.Run("test without a name", func(t *testing.T) {
		_, err := externalDiscoverer(t, `echo '{"source":"a.smp"}'`+"\n").Discover(t.Context(), "a.smp")
		require.ErrorContains(t, err, "without a fully qualified name")
	})

	t.Run("exit code", func(t *testing.T) {
		_, err := externalDiscoverer(t, "echo boom >&2\nexit 2\n").Discover(t.Context(), "a.smp")
		require.ErrorContains(t, err, "extension sample failed for a.smp")
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := externalDiscoverer(t, "sleep 5\n").Discover(ctx, "a.smp")
		require.Error(t, err)
	})
}
