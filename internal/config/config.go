// Package config loads pagetool settings from a YAML file. Command-line flags
// override whatever the file sets.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/pagekit/core/errors"
)

// EnvPath names the environment variable that points at a config file.
const EnvPath = "PAGETOOL_CONFIG"

// Config holds pagetool configuration.
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Pager PagerConfig `yaml:"pager"`
	Usage UsageConfig `yaml:"usage"`
	Delta DeltaConfig `yaml:"delta"`
	Diff  DiffConfig  `yaml:"diff"`
	Scrub ScrubConfig `yaml:"scrub"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// PagerConfig controls how database files are opened.
type PagerConfig struct {
	CacheSize       int  `yaml:"cache_size"`       // Pages kept in memory
	VerifyChecksums bool `yaml:"verify_checksums"` // Verify page checksums on read when the file has them
}

// UsageConfig controls the page usage report.
type UsageConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// DeltaConfig controls delta application.
type DeltaConfig struct {
	VerifyChecksum bool `yaml:"verify_checksum"`
}

// DiffConfig controls page diff bundles.
type DiffConfig struct {
	Compression string `yaml:"compression"` // xz, gzip or none
}

// ScrubConfig lists the files checked by the scrub command and when.
type ScrubConfig struct {
	Schedule string   `yaml:"schedule"` // Cron expression with optional seconds field, or a descriptor such as @hourly
	Files    []string `yaml:"files"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "warn", Format: "text"},
		Pager: PagerConfig{CacheSize: 256, VerifyChecksums: true},
		Usage: UsageConfig{MaxDepth: 50},
		Delta: DeltaConfig{VerifyChecksum: true},
		Diff:  DiffConfig{Compression: "xz"},
		Scrub: ScrubConfig{Schedule: "@hourly"},
	}
}

// DefaultPath returns $PAGETOOL_CONFIG, or pagetool/config.yaml under the
// user config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pagetool", "config.yaml")
}

// Load reads the file at path over the defaults. A missing file is not an
// error when optional is true.
func Load(path string, optional bool) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.NewIO("read", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.NewValidation("config", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewValidation("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.NewValidation("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}
	if c.Pager.CacheSize < 0 {
		return errors.NewValidation("pager.cache_size", "must not be negative")
	}
	if c.Usage.MaxDepth < 1 {
		return errors.NewValidation("usage.max_depth", "must be at least 1")
	}
	if BundleExt(c.Diff.Compression) == "" {
		return errors.NewValidation("diff.compression", fmt.Sprintf("unknown compression %q", c.Diff.Compression))
	}
	return nil
}

// BundleExt returns the archive extension for a compression name, or "" if
// the name is unknown.
func BundleExt(compression string) string {
	switch strings.ToLower(compression) {
	case "xz":
		return ".tar.xz"
	case "gzip", "gz":
		return ".tar.gz"
	case "none", "tar":
		return ".tar"
	}
	return ""
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
