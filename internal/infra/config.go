package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application settings for both deployment shapes.
// Loaded from YAML, then overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr      string `yaml:"addr"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Engine struct {
		TickIntervalMS    int             `yaml:"tick_interval_ms"`
		BaseSpread        decimal.Decimal `yaml:"base_spread"`
		SpreadVolFactor   decimal.Decimal `yaml:"spread_vol_factor"`
		ReferenceDepth    int64           `yaml:"reference_depth"`
		LiquidityRecovery decimal.Decimal `yaml:"liquidity_recovery"`
		SlippageFactor    decimal.Decimal `yaml:"slippage_factor"`
		MaxReplaySeconds  int64           `yaml:"max_replay_seconds"`
	} `yaml:"engine"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Engine.TickIntervalMS <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Engine.ReferenceDepth <= 0 {
		return fmt.Errorf("reference depth must be positive")
	}
	if c.Engine.BaseSpread.IsNegative() {
		return fmt.Errorf("base spread must not be negative")
	}
	rec := c.Engine.LiquidityRecovery
	if !rec.IsPositive() || rec.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("liquidity recovery must be in (0, 1]")
	}
	if c.Engine.MaxReplaySeconds < 0 {
		return fmt.Errorf("max replay seconds must not be negative")
	}
	return nil
}

// overrideWithEnv applies environment overrides where present.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("SYNTHEX_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("SYNTHEX_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if level := os.Getenv("SYNTHEX_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
