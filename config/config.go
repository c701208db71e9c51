// Package config loads session configuration from YAML.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-boundary/errors"
)

// Memory backends.
const (
	BackendWazero = "wazero"
	BackendLinear = "linear"
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// wasm32 limit: 65536 pages of 64 KiB.
const maxPages = 65536

// Config is the complete session configuration.
type Config struct {
	Memory     Memory     `yaml:"memory"`
	Log        Log        `yaml:"log"`
	Collection Collection `yaml:"collection"`
}

// Memory configures the shared linear memory and its heap.
type Memory struct {
	// Backend is "wazero" (memory exported by a module in a wazero runtime)
	// or "linear" (a Go byte slice).
	Backend string `yaml:"backend"`
	// Pages is the initial size in 64 KiB pages.
	Pages uint32 `yaml:"pages"`
	// MaxPages bounds heap growth.
	MaxPages uint32 `yaml:"max_pages"`
	// Strict poisons freed blocks and audits collections before release.
	Strict bool `yaml:"strict"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Collection is what get_named_collection returns.
type Collection struct {
	Name   string  `yaml:"name"`
	Values []int32 `yaml:"values"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Memory: Memory{
			Backend:  BackendWazero,
			Pages:    1,
			MaxPages: 16,
			Strict:   true,
		},
		Log: Log{
			Level:  "info",
			Format: FormatConsole,
		},
		Collection: Collection{
			Name:   "Primes",
			Values: []int32{5, 6, 7},
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Config("read "+path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Config("parse yaml", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	switch c.Memory.Backend {
	case BackendWazero, BackendLinear:
	default:
		return errors.Config(fmt.Sprintf("memory.backend must be %q or %q, got %q", BackendWazero, BackendLinear, c.Memory.Backend), nil)
	}
	if c.Memory.Pages == 0 {
		return errors.Config("memory.pages must be at least 1", nil)
	}
	if c.Memory.MaxPages < c.Memory.Pages {
		return errors.Config(fmt.Sprintf("memory.max_pages (%d) is below memory.pages (%d)", c.Memory.MaxPages, c.Memory.Pages), nil)
	}
	if c.Memory.MaxPages > maxPages {
		return errors.Config(fmt.Sprintf("memory.max_pages (%d) exceeds %d", c.Memory.MaxPages, maxPages), nil)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Config("log.level", err)
	}
	switch c.Log.Format {
	case FormatConsole, FormatJSON:
	default:
		return errors.Config(fmt.Sprintf("log.format must be %q or %q, got %q", FormatConsole, FormatJSON, c.Log.Format), nil)
	}
	for i := 0; i < len(c.Collection.Name); i++ {
		if c.Collection.Name[i] == 0 {
			return errors.Config("collection.name must not contain NUL", nil)
		}
	}
	return nil
}

// NewLogger builds a zap logger from the log section.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Config("log.level", err)
	}
	var zc zap.Config
	if c.Log.Format == FormatJSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, errors.Config("build logger", err)
	}
	return l, nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
