package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/flexsim/core/factory"
	"github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/infra/kafka"
	ledgermqtt "github.com/kilianp07/flexsim/infra/ledger/mqtt"
)

// EnvPrefix selects the environment overrides. FLEX_SIMULATION__SEED=3 sets
// simulation.seed.
const EnvPrefix = "FLEX_"

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerMQTT   = "mqtt"
)

type Config struct {
	Simulation SimulationConfig     `json:"simulation"`
	Ledger     LedgerConfig         `json:"ledger"`
	MQTT       ledgermqtt.Config    `json:"mqtt"`
	Metrics    metrics.Config       `json:"metrics"`
	Reports    factory.ModuleConfig `json:"reports"`
	API        APIConfig            `json:"api"`
	Kafka      kafka.Config         `json:"kafka"`
}

// LedgerConfig selects the ledger the aggregator talks to.
type LedgerConfig struct {
	Backend string `json:"backend" default:"memory" validate:"oneof=memory mqtt"`
}

// APIConfig configures the control API.
type APIConfig struct {
	Addr string `json:"addr" default:":8080"`
	// StreamBuffer is the per websocket client notification buffer.
	StreamBuffer int `json:"stream_buffer" default:"256" validate:"gt=0"`
}

var validate = validator.New()

// Load reads path, applies FLEX_ environment overrides, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Simulation.Validate()
}
