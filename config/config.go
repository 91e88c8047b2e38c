// Package config holds the run configuration of the simulator: share
// count, top module, trace scoping, and cycle bounds, loadable from a YAML
// file with CLI overrides on top.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/masksim/symbolic"
)

// SimConfig is the complete run configuration.
type SimConfig struct {
	// Shares is the number of shares d. The share-set width follows it.
	Shares int `yaml:"shares"`

	// MaxCycles bounds the simulated cycles; 0 runs the full trace.
	MaxCycles int64 `yaml:"max_cycles"`

	// TopModule names the top-level gadget module of the netlist.
	TopModule string `yaml:"top_module"`

	// DUTPath is the dot-separated scope of the top instance inside the
	// input trace, e.g. "tb.dut".
	DUTPath string `yaml:"dut_path"`

	// InValid names the signal whose first 1 sample marks cycle 0.
	InValid string `yaml:"in_valid"`

	// Clock names the sampling clock inside the input trace.
	Clock string `yaml:"clock"`

	// LogLevel and LogFormat are loaded from the file; the masksim command
	// does not read them, its log level follows the --verbose flag.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the defaults a bare run starts from.
func DefaultConfig() *SimConfig {
	return &SimConfig{
		Shares:    2,
		Clock:     "clk",
		InValid:   "in_valid",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*SimConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration bounds.
func (c *SimConfig) Validate() error {
	if c.Shares < 2 {
		return fmt.Errorf("config: shares must be at least 2, got %d", c.Shares)
	}
	if c.Shares > symbolic.MaxShares {
		return fmt.Errorf("config: shares must not exceed %d, got %d",
			symbolic.MaxShares, c.Shares)
	}
	if c.MaxCycles < 0 {
		return fmt.Errorf("config: max_cycles must not be negative")
	}
	if c.TopModule == "" {
		return fmt.Errorf("config: top_module is required")
	}
	return nil
}
