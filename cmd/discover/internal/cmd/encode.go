package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"sigs.k8s.io/yaml"

	"ocm.software/open-component-model/bindings/go/testhost/extensions"
	v1 "ocm.software/open-component-model/bindings/go/testhost/manager/contracts/discovery/v1"
)

func encodeTests(output string, tests []v1.TestCase) ([]byte, error) {
	var data []byte
	var err error
	switch output {
	case "json":
		data, err = encodeNDJSON(tests)
	case "yaml":
		data, err = yaml.Marshal(tests)
	case "table":
		data = encodeTestsAsTable(tests)
	default:
		err = fmt.Errorf("unknown output format: %q", output)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding discovered tests as %q failed: %w", output, err)
	}
	return data, nil
}

func encodeTestsAsTable(tests []v1.TestCase) []byte {
	var buf bytes.Buffer
	t := newTable(&buf)
	t.AppendHeader(table.Row{"Source", "Test", "Line", "Executor"})
	for _, tc := range tests {
		line := ""
		if tc.LineNumber > 0 {
			line = fmt.Sprint(tc.LineNumber)
		}
		t.AppendRow(table.Row{tc.Source, tc.FullyQualifiedName, line, tc.ExecutorURI})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
	})
	t.Render()
	return buf.Bytes()
}

// extension is the printed form of an extension descriptor.
type extension struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Version        string   `json:"version,omitempty"`
	WellKnown      bool     `json:"wellKnown"`
	FileExtensions []string `json:"fileExtensions,omitempty"`
	ExecutorURI    string   `json:"defaultExecutorUri,omitempty"`
	Path           string   `json:"path"`
}

func toExtension(d *extensions.Descriptor) extension {
	e := extension{
		Name:           d.Name,
		Kind:           string(d.Kind),
		WellKnown:      d.WellKnown,
		FileExtensions: d.Metadata.FileExtensions,
		ExecutorURI:    d.Metadata.ExecutorURI(),
		Path:           d.Path,
	}
	if d.Version != nil {
		e.Version = d.Version.String()
	}
	return e
}

func encodeExtensions(output string, descriptors []*extensions.Descriptor) ([]byte, error) {
	list := make([]extension, 0, len(descriptors))
	for _, d := range descriptors {
		list = append(list, toExtension(d))
	}

	var data []byte
	var err error
	switch output {
	case "json":
		data, err = encodeNDJSON(list)
	case "yaml":
		data, err = yaml.Marshal(list)
	case "table":
		var buf bytes.Buffer
		t := newTable(&buf)
		t.AppendHeader(table.Row{"Kind", "Name", "Version", "Well Known", "File Extensions", "Executor"})
		for _, e := range list {
			t.AppendRow(table.Row{e.Kind, e.Name, e.Version, e.WellKnown, strings.Join(e.FileExtensions, ","), e.ExecutorURI})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, AutoMerge: true},
		})
		t.Render()
		data = buf.Bytes()
	default:
		err = fmt.Errorf("unknown output format: %q", output)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding extensions as %q failed: %w", output, err)
	}
	return data, nil
}

// encodeNDJSON writes one JSON document per line.
func encodeNDJSON[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

// writeMetrics writes the gathered metrics in the prometheus text format.
func writeMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics failed: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("encoding metrics failed: %w", err)
		}
	}
	return nil
}
