package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"ocm.software/open-component-model/bindings/go/testhost/extensions"
	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
	"ocm.software/open-component-model/bindings/go/testhost/manager/host"
)

// maxStderr limits how much of the diagnostics of a failed extension end up in the error.
const maxStderr = 4 << 10

// ExternalDiscoverer is the implementation of an extension that runs as its own executable.
// It is called with the source as only argument and writes one JSON test case per line to stdout.
type ExternalDiscoverer struct {
	Name       string
	Executable string
	Metadata   extensions.Metadata
}

func newExternalDiscoverer(executable string) extensions.Factory {
	return func(_ context.Context, d *extensions.Descriptor) (any, error) {
		info, err := os.Stat(executable)
		if err != nil {
			return nil, fmt.Errorf("executable of extension %s is not available: %w", d.Name, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("executable of extension %s is a directory: %s", d.Name, executable)
		}
		if info.Mode().Perm()&0o111 == 0 {
			return nil, fmt.Errorf("executable of extension %s is not executable: %s", d.Name, executable)
		}

		return &ExternalDiscoverer{
			Name:       d.Name,
			Executable: executable,
			Metadata:   d.Metadata,
		}, nil
	}
}

// Discover runs the extension for source and returns the tests it reported. Tests without an
// executor get the default executor of the extension, tests without a source get source.
func (e *ExternalDiscoverer) Discover(ctx context.Context, source string) (_ []v1.TestCase, err error) {
	cmd := exec.CommandContext(ctx, e.Executable, source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout of extension %s: %w", e.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start extension %s: %w", e.Name, err)
	}

	tests, decodeErr := e.decode(stdout, source)
	if decodeErr != nil {
		// drain so the process does not block on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		if diagnostics := tail(stderr.String()); diagnostics != "" {
			err = fmt.Errorf("%w: %s", err, diagnostics)
		}
		return nil, fmt.Errorf("extension %s failed for %s: %w", e.Name, source, err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("extension %s reported invalid output for %s: %w", e.Name, source, decodeErr)
	}

	return tests, nil
}

func (e *ExternalDiscoverer) decode(stdout io.ReadCloser, source string) ([]v1.TestCase, error) {
	stream := host.NewJSONStream[v1.TestCase](io.NopCloser(stdout))

	var tests []v1.TestCase
	for {
		tc, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return tests, nil
		}
		if err != nil {
			return nil, err
		}
		if tc.FullyQualifiedName == "" {
			return nil, errors.New("test case without a fully qualified name")
		}
		if tc.ExecutorURI == "" {
			tc.ExecutorURI = e.Metadata.ExecutorURI()
		}
		if tc.Source == "" {
			tc.Source = source
		}
		tests = append(tests, *tc)
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	return s
}
