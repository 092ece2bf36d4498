package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/girvel/storagenode/internal/util"
)

// Config contains runtime configuration values for the storage node.
// It is built once at startup and only read afterwards.
type Config struct {
	Root              string        // Storage root directory; required, absolute after [Config.Validate]
	Addr              string        // HTTP listen address (Default ":8000")
	ChunkSize         int           // Size of each streamed chunk in bytes (Default 8KiB)
	LogLvl            util.LogLevel // Internal log level (Default info)
	WebDAV            bool          // Also expose the root over WebDAV at /dav/ (Default false)
	ReadHeaderTimeout time.Duration // (Default 10s)
	ShutdownTimeout   time.Duration // Grace period for in-flight requests on shutdown (Default 10s)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	Root      *string `yaml:"root,omitempty" json:"root,omitempty"`
	Addr      *string `yaml:"addr,omitempty" json:"addr,omitempty"`
	ChunkSize *int    `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	// LogLvl is a verbosity between 1 (error) and 5 (trace); out of range values are clamped
	LogLvl *int  `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	WebDAV *bool `yaml:"webdav,omitempty" json:"webdav,omitempty"`
	// Timeouts are in seconds
	ReadHeaderTimeout *float64 `yaml:"read_header_timeout,omitempty" json:"read_header_timeout,omitempty"`
	ShutdownTimeout   *float64 `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
// Root has no default and must be supplied by an override.
func NewDefaultConfig() *Config {
	return &Config{
		Addr:              DefaultAddr,
		ChunkSize:         DefaultChunkSize,
		LogLvl:            DefaultLogLvl,
		WebDAV:            DefaultWebDAV,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// NewConfig creates a Config from defaults with override applied on top.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.Root != nil {
		c.Root = *override.Root
	}
	if override.Addr != nil {
		c.Addr = *override.Addr
	}
	if override.ChunkSize != nil {
		c.ChunkSize = *override.ChunkSize
	}
	if override.LogLvl != nil {
		c.LogLvl = verboseToLogLvl(*override.LogLvl)
	}
	if override.WebDAV != nil {
		c.WebDAV = *override.WebDAV
	}
	if override.ReadHeaderTimeout != nil {
		c.ReadHeaderTimeout = seconds(*override.ReadHeaderTimeout)
	}
	if override.ShutdownTimeout != nil {
		c.ShutdownTimeout = seconds(*override.ShutdownTimeout)
	}
}

// Validate checks the values the storage core depends on and normalizes Root
// into an absolute, cleaned path. The root must be an existing directory.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("storage root is required (set " + EnvRoot + ", -root or root in the config file)")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("failed to make storage root absolute: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("storage root is not accessible: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", abs)
	}
	c.Root = abs

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Addr == "" {
		return errors.New("listen address must not be empty")
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}

// verboseToLogLvl clamps v to [ErrorVerbose, TraceVerbose] and converts it
func verboseToLogLvl(v int) util.LogLevel {
	v = max(ErrorVerbose, min(v, TraceVerbose))
	lvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return lvls[v-1]
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
