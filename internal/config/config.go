// Package config loads the mlpcore YAML configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/mlp"
)

// ISA values.
const (
	ISASoft       = "soft"
	ISARequireAMX = "require-amx"
)

// Config mirrors ~/.config/mlpcore/config.yaml. Pointer fields distinguish
// "not set" from zero values so the file only overrides what it names.
type Config struct {
	Threads    *int    `yaml:"threads"`
	BlkKSize   *int    `yaml:"blk_k_size"`
	MBlock     *int    `yaml:"m_block"`
	MHint      *int    `yaml:"m_hint"`
	Activation *string `yaml:"activation"`
	SplitK     *bool   `yaml:"split_k"`
	ISA        *string `yaml:"isa"`

	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	ServerAddress *string `yaml:"server_address"`
}

// Defaults returns a fully populated configuration.
func Defaults() Config {
	return Config{
		Threads:       ptr(runtime.GOMAXPROCS(0)),
		BlkKSize:      ptr(mlp.DefaultBlkKSize),
		MBlock:        ptr(mlp.DefaultMBlock),
		MHint:         ptr(kernel.DefaultMHint),
		Activation:    ptr("silu"),
		SplitK:        ptr(false),
		ISA:           ptr(ISASoft),
		LogLevel:      ptr("info"),
		LogFormat:     ptr(string(logger.FormatPretty)),
		ServerAddress: ptr("127.0.0.1:8080"),
	}
}

// Path returns the default config file location, or "" when the user
// config directory is unknown.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mlpcore", "config.yaml")
}

// Load reads path and layers it over Defaults. A missing file is not an
// error; an unreadable or invalid one is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	var file Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	cfg.Merge(file)
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Merge copies every field set in o over c.
func (c *Config) Merge(o Config) {
	set(&c.Threads, o.Threads)
	set(&c.BlkKSize, o.BlkKSize)
	set(&c.MBlock, o.MBlock)
	set(&c.MHint, o.MHint)
	set(&c.Activation, o.Activation)
	set(&c.SplitK, o.SplitK)
	set(&c.ISA, o.ISA)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)
	set(&c.ServerAddress, o.ServerAddress)
}

// Validate rejects values no component would accept.
func (c Config) Validate() error {
	if c.Threads != nil && *c.Threads <= 0 {
		return errors.Errorf("config: threads must be positive, got %d", *c.Threads)
	}
	if c.BlkKSize != nil && *c.BlkKSize <= 0 {
		return errors.Errorf("config: blk_k_size must be positive, got %d", *c.BlkKSize)
	}
	if c.MBlock != nil && *c.MBlock <= 0 {
		return errors.Errorf("config: m_block must be positive, got %d", *c.MBlock)
	}
	if c.MHint != nil && *c.MHint < 0 {
		return errors.Errorf("config: m_hint must not be negative, got %d", *c.MHint)
	}
	if c.Activation != nil {
		if _, err := kernel.ParseActivation(*c.Activation); err != nil {
			return errors.Wrap(err, "config")
		}
	}
	if c.ISA != nil && *c.ISA != ISASoft && *c.ISA != ISARequireAMX {
		return errors.Errorf("config: isa must be %q or %q, got %q", ISASoft, ISARequireAMX, *c.ISA)
	}
	if c.LogLevel != nil {
		if _, err := logger.ParseLevel(*c.LogLevel); err != nil {
			return errors.Wrap(err, "config")
		}
	}
	if c.LogFormat != nil {
		if _, err := logger.ParseFormat(*c.LogFormat); err != nil {
			return errors.Wrap(err, "config")
		}
	}
	return nil
}

// Layer converts c into a layer configuration. Unset fields keep the
// layer's own defaults.
func (c Config) Layer() (mlp.LayerConfig, error) {
	var lc mlp.LayerConfig
	if c.Threads != nil {
		lc.Threads = *c.Threads
	}
	if c.BlkKSize != nil {
		lc.BlkKSize = *c.BlkKSize
	}
	if c.MBlock != nil {
		lc.MBlock = *c.MBlock
	}
	if c.SplitK != nil {
		lc.SplitK = *c.SplitK
	}
	if c.Activation != nil {
		act, err := kernel.ParseActivation(*c.Activation)
		if err != nil {
			return lc, errors.Wrap(err, "config")
		}
		lc.Activation = act
	}
	return lc, nil
}

// Logger builds the logger the log fields describe.
func (c Config) Logger() (logger.Logger, error) {
	level, err := logger.ParseLevel(deref(c.LogLevel))
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(deref(c.LogFormat))
	if err != nil {
		return nil, err
	}
	return logger.Open(os.Stderr, logger.Options{Level: level, Format: format}), nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func ptr[T any](v T) *T { return &v }

func set[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
