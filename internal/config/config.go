package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"meridian/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the meridian engine.
type Config struct {
	Storage     Storage            `yaml:"storage"`
	Server      Server             `yaml:"server"`
	Alpaca      Alpaca             `yaml:"alpaca"`
	Logging     Logging            `yaml:"logging"`
	Data        DataConfig         `yaml:"data"`
	Trading     TradingConfig      `yaml:"trading"`
	Backtest    BacktestConfig     `yaml:"backtest"`
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the results API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DataConfig controls historical bar downloads from the market data API.
type DataConfig struct {
	BatchSize       int `yaml:"batch_size"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// TradingConfig defines sizing and execution parameters shared by backtest
// and live runs.
type TradingConfig struct {
	Capital          float64 `yaml:"capital"`
	Allocation       float64 `yaml:"allocation"`
	SlippageFactor   float64 `yaml:"slippage_factor"`
	RiskFreeRate     float64 `yaml:"risk_free_rate"`
	HandshakeTimeout int     `yaml:"handshake_timeout_sec"`
}

// BacktestConfig selects the strategy, universe, and date window for a
// backtest run.
type BacktestConfig struct {
	Strategy  string   `yaml:"strategy"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
	Symbols   []string `yaml:"symbols"`
	Benchmark string   `yaml:"benchmark"`
}

// InstrumentConfig describes one tradable instrument. Type is "equity" or
// "future"; the contract fields only apply to futures.
type InstrumentConfig struct {
	Ticker        string  `yaml:"ticker"`
	Type          string  `yaml:"type"`
	Currency      string  `yaml:"currency"`
	Venue         string  `yaml:"venue"`
	FeeRate       float64 `yaml:"fee_rate"`
	ContractSize  float64 `yaml:"contract_size"`
	TickSize      float64 `yaml:"tick_size"`
	MarginPerUnit float64 `yaml:"margin_per_unit"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	// Standard Alpaca env vars (highest priority -- canonical names used by
	// the SDK itself).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ---------------------------------------------------------------------------
// Materialization
// ---------------------------------------------------------------------------

// InstrumentMap converts the configured instrument list into a domain
// instrument map keyed by ticker.
func (c *Config) InstrumentMap() (domain.InstrumentMap, error) {
	m := make(domain.InstrumentMap, len(c.Instruments))
	for _, ic := range c.Instruments {
		if ic.Ticker == "" {
			return nil, fmt.Errorf("instrument with empty ticker")
		}
		switch ic.Type {
		case "equity", "":
			m[ic.Ticker] = domain.NewEquity(ic.Ticker, ic.Currency, ic.Venue, ic.FeeRate)
		case "future":
			m[ic.Ticker] = domain.NewFuture(ic.Ticker, ic.Currency, ic.Venue,
				ic.FeeRate, ic.ContractSize, ic.TickSize, ic.MarginPerUnit)
		default:
			return nil, fmt.Errorf("instrument %s: unknown type %q", ic.Ticker, ic.Type)
		}
	}
	return m, nil
}
