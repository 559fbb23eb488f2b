package v1

import (
	"time"
)

// DiscoveryCriteria is handed through to the host unmodified.
type DiscoveryCriteria struct {
	// Sources are the files the host should discover tests in.
	Sources []string `json:"sources,omitempty"`
	// Package is an optional package the sources belong to.
	Package string `json:"package,omitempty"`
	// RunSettings is an opaque settings document understood by the discoverers.
	RunSettings string `json:"runSettings,omitempty"`
	// TestCaseFilter filters the discovered tests on the host side.
	TestCaseFilter string `json:"testCaseFilter,omitempty"`
	// FrequencyOfDiscoveredTestsEvent is the batch size after which the host sends a batch.
	FrequencyOfDiscoveredTestsEvent int `json:"frequencyOfDiscoveredTestsEvent,omitempty"`
	// DiscoveredTestEventTimeout is the maximum time the host buffers tests before it sends a batch.
	DiscoveredTestEventTimeout time.Duration `json:"discoveredTestEventTimeout,omitempty"`
}

type InitializeDiscoveryRequest struct {
	// ExtensionPaths are the absolute paths of additional ( non default ) extensions.
	ExtensionPaths []string `json:"extensionPaths"`
	// LoadOnlyWellKnown restricts the host to the well known extensions of the given paths.
	LoadOnlyWellKnown bool `json:"loadOnlyWellKnown"`
}

type DiscoverTestsRequest struct {
	Criteria DiscoveryCriteria `json:"criteria"`
}

type EndSessionRequest struct{}

// TestCase is a single test found by a discoverer.
type TestCase struct {
	FullyQualifiedName string `json:"fullyQualifiedName"`
	ExecutorURI        string `json:"executorUri,omitempty"`
	Source             string `json:"source"`
	DisplayName        string `json:"displayName,omitempty"`
	CodeFilePath       string `json:"codeFilePath,omitempty"`
	LineNumber         int    `json:"lineNumber,omitempty"`
}

type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
	// StatusAborted is reported when the session ended before the host reported completion.
	StatusAborted Status = "Aborted"
)

// DiscoveryComplete is the terminal signal of a discovery session.
type DiscoveryComplete struct {
	Status     Status     `json:"status"`
	TotalTests int64      `json:"totalTests"`
	LastChunk  []TestCase `json:"lastChunk,omitempty"`
	// Error contains the failure reason for non successful completions.
	Error string `json:"error,omitempty"`
}

// IsSuccess reports whether the discovery finished successfully.
func (c DiscoveryComplete) IsSuccess() bool {
	return c.Status == StatusSuccess
}

type EventType string

const (
	EventTestsFound EventType = "testsFound"
	EventLog        EventType = "log"
	EventComplete   EventType = "complete"
)

// LogMessage is a diagnostic message a discoverer wants surfaced to the caller.
type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// DiscoveryEvent is a single line in the event stream of a discovery request.
type DiscoveryEvent struct {
	Type     EventType          `json:"type"`
	Tests    []TestCase         `json:"tests,omitempty"`
	Log      *LogMessage        `json:"log,omitempty"`
	Complete *DiscoveryComplete `json:"complete,omitempty"`
}
