// Package config holds the tunables of the dispatch runtime and loads them
// from TOML or YAML files and GENDISPATCH_* environment variables.
package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GENDISPATCH_"

type Config struct {
	Cache  CacheConfig  `toml:"cache" yaml:"cache"`
	Shapes ShapesConfig `toml:"shapes" yaml:"shapes"`
	Log    LogConfig    `toml:"log" yaml:"log"`
	Report ReportConfig `toml:"report" yaml:"report"`
}

type CacheConfig struct {
	// MonomorphicLimit bounds the constant-layout tier of a site.
	MonomorphicLimit int `toml:"monomorphic_limit" yaml:"monomorphic_limit"`
	// PolymorphicLimit bounds the validated-shape tier; beyond it a site is
	// megamorphic. Zero skips the tier.
	PolymorphicLimit int `toml:"polymorphic_limit" yaml:"polymorphic_limit"`
}

type ShapesConfig struct {
	// CompactThreshold is the number of unused slots at which a remove lands on
	// the compact shape, renumbering the remaining slots. Zero, the default,
	// keeps every slot index stable until an explicit Compact.
	CompactThreshold int `toml:"compact_threshold" yaml:"compact_threshold"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`   // "", debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // text or json
}

type ReportConfig struct {
	Format string `toml:"format" yaml:"format"` // text or msgpack
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Cache:  CacheConfig{MonomorphicLimit: 3, PolymorphicLimit: 3},
		Shapes: ShapesConfig{CompactThreshold: 0},
		Log:    LogConfig{Format: "text"},
		Report: ReportConfig{Format: "text"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "reading config %s", path)
		}
		if err := cfg.Decode(data, formatOf(path)); err != nil {
			return Config{}, errors.Wrap(err, path)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// Decode merges a TOML or YAML document into c. Keys absent from the
// document keep their current values.
func (c *Config) Decode(data []byte, format string) error {
	switch format {
	case "toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(c); err != nil {
			return errors.Wrap(err, "failed to parse TOML")
		}
	case "yaml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return errors.Wrap(err, "failed to parse YAML")
		}
	default:
		return errors.Errorf("unknown config format %q", format)
	}
	return nil
}

// ApplyEnv overrides fields from GENDISPATCH_CACHE_MONOMORPHIC_LIMIT and
// friends. Unparsable integers are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	c.Cache.MonomorphicLimit = envInt(lookup, "CACHE_MONOMORPHIC_LIMIT", c.Cache.MonomorphicLimit)
	c.Cache.PolymorphicLimit = envInt(lookup, "CACHE_POLYMORPHIC_LIMIT", c.Cache.PolymorphicLimit)
	c.Shapes.CompactThreshold = envInt(lookup, "SHAPES_COMPACT_THRESHOLD", c.Shapes.CompactThreshold)
	c.Log.Level = envString(lookup, "LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString(lookup, "LOG_FORMAT", c.Log.Format)
	c.Report.Format = envString(lookup, "REPORT_FORMAT", c.Report.Format)
}

func envInt(lookup func(string) (string, bool), key string, defaultVal int) int {
	if val, ok := lookup(EnvPrefix + key); ok && val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func envString(lookup func(string) (string, bool), key string, defaultVal string) string {
	if val, ok := lookup(EnvPrefix + key); ok && val != "" {
		return val
	}
	return defaultVal
}

// Validate rejects settings the runtime cannot honour.
func (c Config) Validate() error {
	if c.Cache.MonomorphicLimit < 1 {
		return errors.Errorf("cache.monomorphic_limit must be at least 1, got %d", c.Cache.MonomorphicLimit)
	}
	if c.Cache.PolymorphicLimit < 0 {
		return errors.Errorf("cache.polymorphic_limit must not be negative, got %d", c.Cache.PolymorphicLimit)
	}
	if c.Shapes.CompactThreshold < 0 {
		return errors.Errorf("shapes.compact_threshold must not be negative, got %d", c.Shapes.CompactThreshold)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Report.Format {
	case "", "text", "msgpack":
	default:
		return errors.Errorf("report.format must be text or msgpack, got %q", c.Report.Format)
	}
	return nil
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	return errors.Wrap(toml.NewEncoder(w).Encode(c), "failed to encode TOML")
}

// SlogLevel parses Level. An empty level means logging is off.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return lvl, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, errors.Wrapf(err, "log.level %q", l.Level)
	}
	return lvl, nil
}

// NewLogger builds the logger described by l, writing to w. With no level set
// it discards everything.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	if l.Level == "" {
		return slog.New(slog.DiscardHandler)
	}
	lvl, err := l.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
