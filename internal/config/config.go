package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is loaded from the environment with an optional .env overlay.
// All variables carry the PERPSIM_ prefix.
type Config struct {
	Env  string `envconfig:"ENV" default:"dev"`
	Addr string `envconfig:"ADDR" default:":8080"`

	// DataSource selects the candle backend, "duckdb" or "binary".
	DataSource string   `envconfig:"DATA_SOURCE" default:"duckdb"`
	DataPath   string   `envconfig:"DATA_PATH" required:"true"`
	Symbols    []string `envconfig:"SYMBOLS" required:"true"`

	StateDir string `envconfig:"STATE_DIR" default:"state"`

	// StartTime is RFC3339. Empty starts at the earliest candle of the
	// first configured symbol.
	StartTime string `envconfig:"START_TIME"`

	Asset           string `envconfig:"ASSET" default:"USDT"`
	StartBalance    string `envconfig:"START_BALANCE" default:"1000"`
	DefaultLeverage int    `envconfig:"DEFAULT_LEVERAGE" default:"10"`
	HistoryLimit    int    `envconfig:"HISTORY_LIMIT" default:"10000"`

	SlippageEnabled bool `envconfig:"SLIPPAGE_ENABLED" default:"true"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("perpsim", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if c.DataSource != "duckdb" && c.DataSource != "binary" {
		return Config{}, fmt.Errorf("unknown data source %q", c.DataSource)
	}
	if c.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.StartTime); err != nil {
			return Config{}, fmt.Errorf("parse start time: %w", err)
		}
	}
	return c, nil
}

func (c Config) Start() (time.Time, bool) {
	if c.StartTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
