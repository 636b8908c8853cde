package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the smartvalue service.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Gemini  Gemini        `yaml:"gemini"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Refresh RefreshConfig `yaml:"refresh"`
	Cache   CacheConfig   `yaml:"cache"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Gemini configures the generative AI backend used for analyses.
type Gemini struct {
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float32 `yaml:"temperature"` // nil means the default; 0 is honoured
	TimeoutSec  int      `yaml:"timeout_sec"`
}

// Alpaca holds credentials for mirroring US instruments into an Alpaca
// watchlist. Mirroring is disabled when APIKey is empty.
type Alpaca struct {
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	BaseURL       string `yaml:"base_url"`
	WatchlistName string `yaml:"watchlist_name"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RefreshConfig controls how analysis requests are fanned out and paced.
type RefreshConfig struct {
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RetryAttempts   int    `yaml:"retry_attempts"`
	Schedule        string `yaml:"schedule"` // cron spec; empty disables
	MarketHoursOnly bool   `yaml:"market_hours_only"`
}

// CacheConfig sets freshness windows for cached model output.
type CacheConfig struct {
	MarketTTLMin  int `yaml:"market_ttl_min"`
	HistoryTTLMin int `yaml:"history_ttl_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
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
	applyDefaults(cfg)

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given .env files (".env" when
// none are named) into the process environment. Variables already set are
// not overwritten and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Default returns a configuration built only from defaults and the
// environment, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
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

	if v := os.Getenv("SMARTVALUE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// API_KEY is the name the original web app read; GEMINI_API_KEY wins.
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}

	// Standard Alpaca env vars (canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/smartvalue.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.5-flash"
	}
	if cfg.Gemini.Temperature == nil {
		t := float32(0.1)
		cfg.Gemini.Temperature = &t
	}
	if cfg.Gemini.TimeoutSec == 0 {
		cfg.Gemini.TimeoutSec = 120
	}
	if cfg.Alpaca.WatchlistName == "" {
		cfg.Alpaca.WatchlistName = "smartvalue"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Refresh.MaxWorkers == 0 {
		cfg.Refresh.MaxWorkers = 8
	}
	if cfg.Refresh.RateLimitPerMin == 0 {
		cfg.Refresh.RateLimitPerMin = 60
	}
	if cfg.Refresh.RetryAttempts == 0 {
		cfg.Refresh.RetryAttempts = 2
	}
	if cfg.Cache.MarketTTLMin == 0 {
		cfg.Cache.MarketTTLMin = 10
	}
	if cfg.Cache.HistoryTTLMin == 0 {
		cfg.Cache.HistoryTTLMin = 30
	}
}
