// Package config contains the configuration of the discover command.
//
// The configuration is an entry of a generic OCM configuration file:
//
//	type: generic.config.ocm.software/v1
//	configurations:
//	- type: testhost.config.ocm.software/v1alpha1
//	  hostPath: ./bin/testhost
//	  hostArgs: ["--extension-directory", "/opt/testhost/extensions"]
//	  connectTimeout: 30s
//	  idleTimeout: 5m
//	  extensionDirectory: /opt/testhost/extensions
//	  additionalExtensions:
//	    - ./tools/extensions
//	  loadOnlyWellKnown: false
//	  batchSize: 50
//
// Multiple entries are merged in order. Command line flags take precedence over the file.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"sigs.k8s.io/yaml"

	genericv1 "ocm.software/open-component-model/bindings/go/configuration/generic/v1/spec"
	"ocm.software/open-component-model/bindings/go/runtime"
)

const (
	// ConfigType identifies entries of the discover command in a generic configuration.
	ConfigType = "testhost.config.ocm.software"
	Version    = "v1alpha1"
)

// EnvConfig names the environment variable that is used when no --config flag is given.
const EnvConfig = "TESTHOST_CONFIG"

var scheme = runtime.NewScheme()

func init() {
	scheme.MustRegisterWithAlias(&Config{},
		runtime.NewVersionedType(ConfigType, Version),
		runtime.NewUnversionedType(ConfigType),
	)
}

type Config struct {
	Type runtime.Type `json:"type"`
	// HostPath is the test host executable that is spawned for a session.
	HostPath string `json:"hostPath,omitempty"`
	// HostArgs are passed to the test host executable.
	HostArgs []string `json:"hostArgs,omitempty"`
	// Attach is the location of an already running host, for example http+unix:///tmp/x.socket.
	// If set, no host is spawned.
	Attach string `json:"attach,omitempty"`
	// ConnectTimeout bounds the time until the host reports ready.
	ConnectTimeout *Duration `json:"connectTimeout,omitempty"`
	// IdleTimeout is handed to spawned hosts.
	IdleTimeout *Duration `json:"idleTimeout,omitempty"`
	// ExtensionDirectory holds the well known extensions.
	ExtensionDirectory string `json:"extensionDirectory,omitempty"`
	// AdditionalExtensions are extension locations besides the well known ones.
	AdditionalExtensions []string `json:"additionalExtensions,omitempty"`
	LoadOnlyWellKnown    bool     `json:"loadOnlyWellKnown,omitempty"`
	// BatchSize is the number of tests the host collects before sending them.
	BatchSize int `json:"batchSize,omitempty"`
}

var _ runtime.Typed = (*Config)(nil)

func (c *Config) GetType() runtime.Type {
	return c.Type
}

func (c *Config) SetType(typ runtime.Type) {
	c.Type = typ
}

func (c *Config) DeepCopyTyped() runtime.Typed {
	if c == nil {
		return nil
	}
	out := *c
	out.HostArgs = slices.Clone(c.HostArgs)
	out.AdditionalExtensions = slices.Clone(c.AdditionalExtensions)
	if c.ConnectTimeout != nil {
		d := *c.ConnectTimeout
		out.ConnectTimeout = &d
	}
	if c.IdleTimeout != nil {
		d := *c.IdleTimeout
		out.IdleTimeout = &d
	}
	return &out
}

// Duration is a time.Duration that is written as a duration string like 30s.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts duration strings and plain numbers of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or a number: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

// Timeout returns the duration of d or fallback if d is not set.
func (d *Duration) Timeout(fallback time.Duration) time.Duration {
	if d == nil || d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// Load reads the generic configuration file at path and returns its discover configuration.
func Load(path string) (_ *Config, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	cfg, err := decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a generic configuration document.
func Parse(data []byte) (*Config, error) {
	return decode(bytes.NewReader(data))
}

func decode(r io.Reader) (*Config, error) {
	var generic genericv1.Config
	if err := genericv1.Scheme.Decode(r, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if generic.Type.Name == "" {
		return nil, fmt.Errorf("config has no type, expected %s/%s", genericv1.ConfigType, genericv1.ConfigTypeV1)
	}
	return Lookup(genericv1.FlatMap(&generic))
}

// Lookup merges all discover entries of a generic configuration. A configuration without entries
// yields an empty Config.
func Lookup(cfg *genericv1.Config) (*Config, error) {
	if cfg == nil {
		return &Config{}, nil
	}

	filtered, err := genericv1.Filter(cfg, &genericv1.FilterOptions{
		ConfigTypes: []runtime.Type{
			runtime.NewVersionedType(ConfigType, Version),
			runtime.NewUnversionedType(ConfigType),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter config: %w", err)
	}

	configs := make([]*Config, 0, len(filtered.Configurations))
	for _, entry := range filtered.Configurations {
		var c Config
		if err := scheme.Convert(entry, &c); err != nil {
			return nil, fmt.Errorf("failed to decode %s config: %w", entry.GetType(), err)
		}
		// the scheme ignores unknown keys
		if err := yaml.UnmarshalStrict(entry.Data, &Config{}); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", entry.GetType(), err)
		}
		configs = append(configs, &c)
	}

	merged := Merge(configs...)
	if merged.BatchSize < 0 {
		return nil, fmt.Errorf("batchSize must not be negative, got %d", merged.BatchSize)
	}
	return merged, nil
}

// Merge folds configs into one. Set values of later configs override earlier ones,
// additional extensions are accumulated.
func Merge(configs ...*Config) *Config {
	merged := &Config{Type: runtime.NewVersionedType(ConfigType, Version)}

	for _, c := range configs {
		if c.HostPath != "" {
			merged.HostPath = c.HostPath
		}
		if c.HostArgs != nil {
			merged.HostArgs = slices.Clone(c.HostArgs)
		}
		if c.Attach != "" {
			merged.Attach = c.Attach
		}
		if c.ConnectTimeout != nil {
			merged.ConnectTimeout = c.ConnectTimeout
		}
		if c.IdleTimeout != nil {
			merged.IdleTimeout = c.IdleTimeout
		}
		if c.ExtensionDirectory != "" {
			merged.ExtensionDirectory = c.ExtensionDirectory
		}
		merged.AdditionalExtensions = append(merged.AdditionalExtensions, c.AdditionalExtensions...)
		merged.LoadOnlyWellKnown = merged.LoadOnlyWellKnown || c.LoadOnlyWellKnown
		if c.BatchSize != 0 {
			merged.BatchSize = c.BatchSize
		}
	}

	return merged
}

// LoadOrDefault loads the file at path. With an empty path, the file named by EnvConfig is used
// and without that an empty configuration is returned.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return &Config{}, nil
	}
	return Load(path)
}

type ctxKey struct{}

func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext returns the configuration stored in ctx or an empty one.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok && cfg != nil {
		return cfg
	}
	return &Config{}
}
