// Package testhost contains the discoverer of the bundled test host. It finds go tests by parsing
// _test.go files and runs the extensions it was initialized with for all other sources.
package testhost

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"ocm.software/open-component-model/bindings/go/testhost/client/sdk"
	"ocm.software/open-component-model/bindings/go/testhost/extensions"
	"ocm.software/open-component-model/bindings/go/testhost/extensions/filesystem"
	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

// ExecutorURI is the executor of tests found by the GoTestDiscoverer.
const ExecutorURI = "executor://gotest/"

const testFileSuffix = "_test.go"

var testPrefixes = []string{"Test", "Benchmark", "Fuzz"}

// GoTestDiscoverer finds Test, Benchmark and Fuzz functions in go test files.
type GoTestDiscoverer struct {
	// WellKnownDirectory holds the extensions shipped with the host.
	WellKnownDirectory string

	mu         sync.Mutex
	extensions []*extensions.Descriptor
}

var (
	_ sdk.Discoverer           = (*GoTestDiscoverer)(nil)
	_ sdk.ExtensionInitializer = (*GoTestDiscoverer)(nil)
)

// InitializeExtensions loads the discoverer extensions at paths. Extensions that cannot be loaded are
// skipped unless they are well known.
func (d *GoTestDiscoverer) InitializeExtensions(ctx context.Context, paths []string, loadOnlyWellKnown bool) error {
	registry := extensions.NewRegistry(filesystem.NewLoader(d.WellKnownDirectory),
		extensions.WithAdditionalExtensions(paths...),
		extensions.WithLoadOnlyWellKnown(loadOnlyWellKnown),
	)

	if err := registry.LoadAndInitializeAll(ctx, extensions.KindDiscoverer, false); err != nil {
		return err
	}

	descriptors, err := registry.GetOrCreate(ctx, extensions.KindDiscoverer)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.extensions = descriptors

	slog.DebugContext(ctx, "initialized extensions", "count", len(descriptors))

	return nil
}

func (d *GoTestDiscoverer) Discover(ctx context.Context, criteria v1.DiscoveryCriteria, emit sdk.Emitter) error {
	var filter *regexp.Regexp
	if criteria.TestCaseFilter != "" {
		var err error
		if filter, err = regexp.Compile(criteria.TestCaseFilter); err != nil {
			return fmt.Errorf("invalid test case filter %q: %w", criteria.TestCaseFilter, err)
		}
	}

	for _, source := range criteria.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}

		files, err := testFiles(source)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			if err := d.handOver(ctx, source, filter, emit); err != nil {
				return err
			}
			continue
		}

		for _, file := range files {
			tests, err := parseTestFile(file, criteria.Package)
			if err != nil {
				// a file that does not parse yields no tests, the others are still discovered
				if err := emit.Log("warn", err.Error()); err != nil {
					return err
				}
				continue
			}

			if filter != nil {
				tests = filterTests(tests, filter)
			}
			if len(tests) == 0 {
				continue
			}
			if err := emit.Tests(tests...); err != nil {
				return err
			}
		}
	}

	return nil
}

// handOver runs the first extension supporting source. Sources no extension supports are reported.
func (d *GoTestDiscoverer) handOver(ctx context.Context, source string, filter *regexp.Regexp, emit sdk.Emitter) error {
	ext := d.extensionFor(source)
	if ext == nil {
		return emit.Log("warn", fmt.Sprintf("no discoverer found for source %s", source))
	}

	impl, err := ext.Implementation(ctx)
	if err != nil {
		return err
	}
	discoverer, ok := impl.(*filesystem.ExternalDiscoverer)
	if !ok {
		return fmt.Errorf("extension %s cannot discover tests, got %T", ext, impl)
	}

	slog.DebugContext(ctx, "handing source to extension", "source", source, "extension", ext.String())
	tests, err := discoverer.Discover(ctx, source)
	if err != nil {
		return err
	}

	if filter != nil {
		tests = filterTests(tests, filter)
	}
	if len(tests) == 0 {
		return emit.Log("info", fmt.Sprintf("extension %s found no tests in %s", ext, source))
	}
	return emit.Tests(tests...)
}

func (d *GoTestDiscoverer) extensionFor(source string) *extensions.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ext := range d.extensions {
		if ext.Metadata.Supports(source) {
			return ext
		}
	}
	return nil
}

// testFiles returns the go test files of source, which is either a file or a directory.
func testFiles(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", source, err)
	}

	if !info.IsDir() {
		if strings.HasSuffix(source, testFileSuffix) {
			return []string{source}, nil
		}
		return nil, nil
	}

	var files []string
	if err := filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != source && (strings.HasPrefix(entry.Name(), ".") || entry.Name() == "testdata" || entry.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(entry.Name(), testFileSuffix) {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to walk source %s: %w", source, err)
	}

	return files, nil
}

func parseTestFile(path, pkg string) ([]v1.TestCase, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if pkg == "" {
		pkg = file.Name.Name
	}

	var tests []v1.TestCase
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || !isTestFunc(fn) {
			continue
		}

		tests = append(tests, v1.TestCase{
			FullyQualifiedName: pkg + "." + fn.Name.Name,
			ExecutorURI:        ExecutorURI,
			Source:             path,
			DisplayName:        fn.Name.Name,
			CodeFilePath:       path,
			LineNumber:         fset.Position(fn.Pos()).Line,
		})
	}

	return tests, nil
}

// isTestFunc follows the naming rules of go test: the name after the prefix must not start with a
// lower case letter and the function takes exactly one parameter.
func isTestFunc(fn *ast.FuncDecl) bool {
	if fn.Type.Params == nil || fn.Type.Params.NumFields() != 1 || fn.Type.Results != nil {
		return false
	}

	name := fn.Name.Name
	for _, prefix := range testPrefixes {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if rest == "" {
			return true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		return !unicode.IsLower(r)
	}

	return false
}

func filterTests(tests []v1.TestCase, filter *regexp.Regexp) []v1.TestCase {
	var result []v1.TestCase
	for _, tc := range tests {
		if filter.MatchString(tc.FullyQualifiedName) {
			result = append(result, tc)
		}
	}
	return result
}
