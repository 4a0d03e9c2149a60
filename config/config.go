// Package config loads memindex configuration from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sushant-115/memindex/pkg/logger"
	"github.com/sushant-115/memindex/pkg/telemetry"
)

var (
	ErrFileNotFound  = errors.New("configuration file not found")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds the complete configuration of a memindex process.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Index     IndexConfig      `yaml:"index"`
}

// IndexConfig configures the tree, its history and the read path.
type IndexConfig struct {
	// Order is the maximum fanout of a node; at least 3.
	Order int `yaml:"order"`
	// CheckpointInterval is the number of operations between checkpoints.
	CheckpointInterval int `yaml:"checkpoint_interval"`
	// KeyWidth zero pads numeric keys; 0 disables padding.
	KeyWidth int `yaml:"key_width"`
	// Locale is the BCP 47 tag used to collate keys.
	Locale string `yaml:"locale"`
	// AddressSpace bounds the probe addresses handed out to new entries.
	AddressSpace uint64 `yaml:"address_space"`
	// AddressSeed fixes the address sequence; 0 seeds from the clock.
	AddressSeed uint64 `yaml:"address_seed"`
	// CacheEntries sizes the read cache; 0 disables it.
	CacheEntries int64 `yaml:"cache_entries"`
}

// Default returns a Config with the stock values.
func Default() *Config {
	return &Config{
		Logger: logger.DefaultConfig(),
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "memindex",
			MetricsAddr:      ":9464",
			TraceSampleRatio: 1,
		},
		Index: IndexConfig{
			Order:              3,
			CheckpointInterval: 5,
			KeyWidth:           3,
			Locale:             "en",
			AddressSpace:       1000,
			CacheEntries:       1024,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults, after expanding ${VAR} and
// ${VAR:-default} references from the environment. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.Expand(string(data), expandEnv)

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(ref string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	ix := c.Index
	if ix.Order < 3 {
		errs = append(errs, fmt.Errorf("index.order: must be at least 3, got %d", ix.Order))
	}
	if ix.CheckpointInterval < 1 {
		errs = append(errs, fmt.Errorf("index.checkpoint_interval: must be at least 1, got %d", ix.CheckpointInterval))
	}
	if ix.KeyWidth < 0 {
		errs = append(errs, fmt.Errorf("index.key_width: must not be negative, got %d", ix.KeyWidth))
	}
	if ix.Locale != "" {
		if _, err := language.Parse(ix.Locale); err != nil {
			errs = append(errs, fmt.Errorf("index.locale: %v", err))
		}
	}
	if ix.AddressSpace == 0 {
		errs = append(errs, errors.New("index.address_space: must be positive"))
	}
	if ix.CacheEntries < 0 {
		errs = append(errs, fmt.Errorf("index.cache_entries: must not be negative, got %d", ix.CacheEntries))
	}
	if r := c.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio: must be within [0, 1], got %g", r))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
