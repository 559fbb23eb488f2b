package testhost

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/bindings/go/testhost/extensions/filesystem"
	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

type recordingEmitter struct {
	mu    sync.Mutex
	tests []v1.TestCase
	logs  []string
}

func (e *recordingEmitter) Tests(tests ...v1.TestCase) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tests = append(e.tests, tests...)
	return nil
}

func (e *recordingEmitter) Log(level, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, level+": "+message)
	return nil
}

func (e *recordingEmitter) names() []string {
	var names []string
	for _, tc := range e.tests {
		names = append(names, tc.FullyQualifiedName)
	}
	return names
}

const sampleTestFile = `package sample

import "testing"

func TestAdd(t *testing.T) {}

func TestSub(t *testing.T) {}

func Testlowercase(t *testing.T) {}

func BenchmarkAdd(b *testing.B) {}

func helper(t *testing.T) {}

func TestWithResult(t *testing.T) error { return nil }

type suite struct{}

func (suite) TestMethod(t *testing.T) {}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sample_test.go"), sampleTestFile)
	writeFile(t, filepath.Join(dir, "nested", "other_test.go"), "package nested\n\nfunc TestNested(t *testing.T) {}\n")
	writeFile(t, filepath.Join(dir, "testdata", "ignored_test.go"), "package ignored\n\nfunc TestIgnored(t *testing.T) {}\n")
	writeFile(t, filepath.Join(dir, "broken_test.go"), "package broken\n\nfunc TestBroken(")
	writeFile(t, filepath.Join(dir, "main.go"), "package sample\n")

	t.Run("directory", func(t *testing.T) {
		emit := &recordingEmitter{}
		d := &GoTestDiscoverer{}

		require.NoError(t, d.Discover(t.Context(), v1.DiscoveryCriteria{Sources: []string{dir}}, emit))

		assert.ElementsMatch(t, []string{"sample.TestAdd", "sample.TestSub", "sample.BenchmarkAdd", "nested.TestNested"}, emit.names())
		require.Len(t, emit.logs, 1)
		assert.Contains(t, emit.logs[0], "broken_test.go")

		for _, tc := range emit.tests {
			if tc.FullyQualifiedName == "sample.TestAdd" {
				assert.Equal(t, 5, tc.LineNumber)
				assert.Equal(t, ExecutorURI, tc.ExecutorURI)
				assert.Equal(t, "TestAdd", tc.DisplayName)
			}
		}
	})

	t.Run("single file with package and filter", func(t *testing.T) {
		emit := &recordingEmitter{}
		d := &GoTestDiscoverer{}

		require.NoError(t, d.Discover(t.Context(), v1.DiscoveryCriteria{
			Sources:        []string{filepath.Join(dir, "sample_test.go")},
			Package:        "example.com/sample",
			TestCaseFilter: "Test(Add|Sub)$",
		}, emit))

		assert.Equal(t, []string{"example.com/sample.TestAdd", "example.com/sample.TestSub"}, emit.names())
	})

	t.Run("invalid filter", func(t *testing.T) {
		d := &GoTestDiscoverer{}
		err := d.Discover(t.Context(), v1.DiscoveryCriteria{Sources: []string{dir}, TestCaseFilter: "("}, &recordingEmitter{})
		require.Error(t, err)
	})

	t.Run("missing source", func(t *testing.T) {
		d := &GoTestDiscoverer{}
		err := d.Discover(t.Context(), v1.DiscoveryCriteria{Sources: []string{filepath.Join(dir, "missing_test.go")}}, &recordingEmitter{})
		require.Error(t, err)
	})
}

func writeExtension(t *testing.T, dir, name, fileExtension, script string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, filesystem.ManifestFileName),
		"name: "+name+"\nfileExtensions: ["+fileExtension+"]\ndefaultExecutorUri: executor://"+name+"\nexecutable: discoverer\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "discoverer"), []byte("#!/bin/sh\n"+script), 0o755))
}

func TestDiscoverHandsOverToExtensions(t *testing.T) {
	dir := t.TempDir()
	csvDir := filepath.Join(dir, "csv")
	writeExtension(t, csvDir, "csv", "csv", `touch "$(dirname "$0")/ran"
echo '{"fullyQualifiedName":"csv.row1","displayName":"row1","lineNumber":1}'
echo '{"fullyQualifiedName":"csv.row2","executorUri":"executor://other/"}'
`)
	writeFile(t, filepath.Join(dir, "data.csv"), "a,b\n")
	writeFile(t, filepath.Join(dir, "data.txt"), "a b\n")

	d := &GoTestDiscoverer{}
	require.NoError(t, d.InitializeExtensions(t.Context(), []string{csvDir}, false))

	t.Run("extension output becomes tests", func(t *testing.T) {
		emit := &recordingEmitter{}
		require.NoError(t, d.Discover(t.Context(), v1.DiscoveryCriteria{Sources: []string{
			filepath.Join(dir, "data.csv"),
			filepath.Join(dir, "data.txt"),
		}}, emit))

		assert.FileExists(t, filepath.Join(csvDir, "ran"))
		require.Len(t, emit.tests, 2)
		assert.Equal(t, "csv.row1", emit.tests[0].FullyQualifiedName)
		assert.Equal(t, "executor://csv/", emit.tests[0].ExecutorURI)
		assert.Equal(t, filepath.Join(dir, "data.csv"), emit.tests[0].Source)
		assert.Equal(t, 1, emit.tests[0].LineNumber)
		assert.Equal(t, "executor://other/", emit.tests[1].ExecutorURI)

		require.Len(t, emit.logs, 1)
		assert.Contains(t, emit.logs[0], "no discoverer found")
	})

	t.Run("filter applies to extension tests", func(t *testing.T) {
		emit := &recordingEmitter{}
		require.NoError(t, d.Discover(t.Context(), v1.DiscoveryCriteria{
			Sources:        []string{filepath.Join(dir, "data.csv")},
			TestCaseFilter: "row2$",
		}, emit))
		assert.Equal(t, []string{"csv.row2"}, emit.names())
	})
}

func TestDiscoverFailingExtension(t *testing.T) {
	dir := t.TempDir()
	extDir := filepath.Join(dir, "broken")
	writeExtension(t, extDir, "broken", "dat", "echo 'cannot read input' >&2\nexit 3\n")
	writeFile(t, filepath.Join(dir, "input.dat"), "x")

	d := &GoTestDiscoverer{}
	require.NoError(t, d.InitializeExtensions(t.Context(), []string{extDir}, false))

	emit := &recordingEmitter{}
	err := d.Discover(t.Context(), v1.DiscoveryCriteria{Sources: []string{filepath.Join(dir, "input.dat")}}, emit)
	require.ErrorContains(t, err, "extension broken failed")
	assert.ErrorContains(t, err, "cannot read input")
	assert.Empty(t, emit.tests)
}
