// Package config loads and validates device configuration.
//
// Configuration is a YAML file checked against an embedded CUE schema.
// The schema supplies defaults for every field except role-specific
// overrides, so an empty file is a valid base configuration. Validation
// failures carry the CUE error, which names the offending field.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Role selects which device loop runs.
type Role string

const (
	RoleBase  Role = "base"
	RoleRover Role = "rover"
)

// Prefix returns the device-ID prefix for the role: rovers transmit,
// bases receive.
func (r Role) Prefix() string {
	if r == RoleRover {
		return "TX"
	}
	return "RX"
}

// RadioConfig holds the physical-layer parameters handed to the driver.
type RadioConfig struct {
	FreqMHz         float64 `yaml:"freq_mhz" json:"freq_mhz"`
	BandwidthKHz    float64 `yaml:"bandwidth_khz" json:"bandwidth_khz"`
	SpreadingFactor int     `yaml:"spreading_factor" json:"spreading_factor"`
	TxPowerDBm      int     `yaml:"tx_power_dbm" json:"tx_power_dbm"`
}

// Config is the validated device configuration with defaults applied.
type Config struct {
	Role          Role        `yaml:"role" json:"role"`
	ID            string      `yaml:"id,omitempty" json:"id,omitempty"`
	Secret        string      `yaml:"secret" json:"secret"`
	RateLimitS    int         `yaml:"rate_limit_s" json:"rate_limit_s"`
	SaveIntervalS int         `yaml:"save_interval_s" json:"save_interval_s"`
	PeersPath     string      `yaml:"peers_path" json:"peers_path"`
	JournalPath   string      `yaml:"journal_path" json:"journal_path"`
	Radio         RadioConfig `yaml:"radio" json:"radio"`
}

// RateLimit returns the transmit interval as a duration.
func (c Config) RateLimit() time.Duration {
	return time.Duration(c.RateLimitS) * time.Second
}

// SaveInterval returns the registry persistence cadence as a duration.
func (c Config) SaveInterval() time.Duration {
	return time.Duration(c.SaveIntervalS) * time.Second
}

// Default returns the configuration an empty file yields.
func Default() Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: default schema invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates raw YAML against the schema and returns the effective
// configuration. A nil or empty document yields all defaults.
func Parse(raw []byte) (Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	schema = schema.LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("schema missing #Config: %w", err)
	}

	unified := schema.Unify(ctx.Encode(doc))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
