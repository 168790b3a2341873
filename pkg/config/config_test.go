package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/memory"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.Engine().AddressMap; got != memory.DefaultAddressMap() {
		t.Errorf("expected the default address map, got %+v", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := testutil.TempFile(t, `
warp_size: 8
debug_instructions: true
log_level: debug
log_format: json
max_steps: 500
timeout: 2s
address_map:
  local_size: 4096
trace:
  output: trace.parquet
  format: parquet
`, ".yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.WarpSize = 8
	want.DebugInstructions = true
	want.LogLevel = "debug"
	want.LogFormat = "json"
	want.MaxSteps = 500
	want.Timeout = 2 * time.Second
	want.AddressMap.LocalSize = 4096
	want.Trace = Trace{Output: "trace.parquet", Format: "parquet"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	log, err := cfg.Logger()
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected a JSON formatter, got %T", log.Formatter)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := testutil.TempFile(t, "warp_sise: 8\n", ".yaml")
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvWarpSize, "16")
	t.Setenv(EnvDebugInsts, "true")
	t.Setenv(EnvMaxSteps, "42")
	t.Setenv(EnvTrace, "out.csv")

	cfg := Default()
	cfg.FromEnv()
	if cfg.WarpSize != 16 || !cfg.DebugInstructions || cfg.MaxSteps != 42 || cfg.Trace.Output != "out.csv" {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected unset variables to keep defaults, got log level %q", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"warp size zero", func(c *Config) { c.WarpSize = 0 }},
		{"warp size too large", func(c *Config) { c.WarpSize = 64 }},
		{"negative steps", func(c *Config) { c.MaxSteps = -1 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad trace format", func(c *Config) { c.Trace.Format = "arrow" }},
		{"zero local size", func(c *Config) { c.AddressMap.LocalSize = 0 }},
		{"windows overlap heap", func(c *Config) { c.AddressMap.GlobalHeapStart = 0x1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
