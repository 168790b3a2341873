// Package config loads warpsim settings from YAML with environment
// overrides.
//
// Precedence, lowest first: Default, the YAML file, WARPSIM_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v2"

	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/vm"
)

var ErrInvalid = errors.New("invalid configuration")

// Environment variables read by FromEnv.
const (
	EnvWarpSize    = "WARPSIM_WARP_SIZE"
	EnvDebugInsts  = "WARPSIM_DEBUG_INSTS"
	EnvLogLevel    = "WARPSIM_LOG_LEVEL"
	EnvLogFormat   = "WARPSIM_LOG_FORMAT"
	EnvMaxSteps    = "WARPSIM_MAX_STEPS"
	EnvTrace       = "WARPSIM_TRACE"
	EnvTraceFormat = "WARPSIM_TRACE_FORMAT"
)

// AddressMap mirrors memory.AddressMap.
type AddressMap struct {
	GlobalHeapStart uint64 `yaml:"global_heap_start"`
	SharedSize      uint64 `yaml:"shared_size"`
	LocalSize       uint64 `yaml:"local_size"`
	MaxSMs          uint64 `yaml:"max_sms"`
	ThreadsPerSM    uint64 `yaml:"threads_per_sm"`
}

// Trace selects the execution trace export.
type Trace struct {
	Output string `yaml:"output"` // empty disables tracing
	Format string `yaml:"format"` // csv or parquet
}

// Config is the full settings tree.
type Config struct {
	WarpSize               int           `yaml:"warp_size"`
	DebugInstructions      bool          `yaml:"debug_instructions"`
	WarnUndefinedRegisters bool          `yaml:"warn_undefined_registers"`
	LogLevel               string        `yaml:"log_level"`
	LogFormat              string        `yaml:"log_format"` // text or json
	MaxSteps               int64         `yaml:"max_steps"`  // 0 for no limit
	Timeout                time.Duration `yaml:"timeout"`
	AddressMap             AddressMap    `yaml:"address_map"`
	Trace                  Trace         `yaml:"trace"`
}

// Default returns the stock settings.
func Default() Config {
	am := memory.DefaultAddressMap()
	return Config{
		WarpSize:               32,
		WarnUndefinedRegisters: true,
		LogLevel:               "warn",
		LogFormat:              "text",
		MaxSteps:               10_000_000,
		AddressMap: AddressMap{
			GlobalHeapStart: am.GlobalHeapStart,
			SharedSize:      am.SharedSize,
			LocalSize:       am.LocalSize,
			MaxSMs:          am.MaxSMs,
			ThreadsPerSM:    am.ThreadsPerSM,
		},
		Trace: Trace{Format: "csv"},
	}
}

// Load reads path over the defaults, applies the environment and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	}
	cfg.FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv overrides fields from WARPSIM_* variables that are set.
func (c *Config) FromEnv() {
	c.WarpSize = env.Int(EnvWarpSize, c.WarpSize)
	if env.Has(EnvDebugInsts) {
		c.DebugInstructions = env.Bool(EnvDebugInsts)
	}
	c.LogLevel = env.Str(EnvLogLevel, c.LogLevel)
	c.LogFormat = env.Str(EnvLogFormat, c.LogFormat)
	c.MaxSteps = env.Int64(EnvMaxSteps, c.MaxSteps)
	c.Trace.Output = env.Str(EnvTrace, c.Trace.Output)
	c.Trace.Format = env.Str(EnvTraceFormat, c.Trace.Format)
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.WarpSize < 1 || c.WarpSize > 32 {
		return fmt.Errorf("%w: warp_size %d outside 1..32", ErrInvalid, c.WarpSize)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: max_steps %d is negative", ErrInvalid, c.MaxSteps)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout %s is negative", ErrInvalid, c.Timeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	}
	switch strings.ToLower(c.Trace.Format) {
	case "csv", "parquet":
	default:
		return fmt.Errorf("%w: trace format %q", ErrInvalid, c.Trace.Format)
	}

	am := c.AddressMap
	if am.SharedSize == 0 || am.LocalSize == 0 || am.MaxSMs == 0 || am.ThreadsPerSM == 0 {
		return fmt.Errorf("%w: address_map sizes must be non-zero", ErrInvalid)
	}
	local := am.MaxSMs * am.ThreadsPerSM * am.LocalSize
	if local/am.LocalSize != am.MaxSMs*am.ThreadsPerSM || am.MaxSMs*am.SharedSize+local > am.GlobalHeapStart {
		return fmt.Errorf("%w: shared and local windows do not fit below global_heap_start 0x%x", ErrInvalid, am.GlobalHeapStart)
	}
	return nil
}

// Engine returns the vm configuration.
func (c *Config) Engine() vm.Config {
	return vm.Config{
		WarpSize:               c.WarpSize,
		DebugInstructions:      c.DebugInstructions,
		WarnUndefinedRegisters: c.WarnUndefinedRegisters,
		AddressMap: memory.AddressMap{
			GlobalHeapStart: c.AddressMap.GlobalHeapStart,
			SharedSize:      c.AddressMap.SharedSize,
			LocalSize:       c.AddressMap.LocalSize,
			MaxSMs:          c.AddressMap.MaxSMs,
			ThreadsPerSM:    c.AddressMap.ThreadsPerSM,
		},
	}
}

// Logger builds a logger from the log settings.
func (c *Config) Logger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return log, nil
}
