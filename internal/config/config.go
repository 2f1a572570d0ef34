package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clickstonks/internal/market"
)

type APIConfig struct {
	Addr            string              `yaml:"addr"`
	DatabaseURL     string              `yaml:"database_url"`
	DBMaxConns      int32               `yaml:"db_max_conns"`
	AdminToken      string              `yaml:"admin_token"`
	LogLevel        string              `yaml:"log_level"`
	MarketTickEvery time.Duration       `yaml:"market_tick_every"`
	PlayerTickEvery time.Duration       `yaml:"player_tick_every"`
	RunScheduler    *bool               `yaml:"run_scheduler"`
	SeedDefaults    bool                `yaml:"seed_defaults"`
	RandomSeed      int64               `yaml:"random_seed"`
	Market          market.MarketConfig `yaml:"market"`
}

type CLIConfig struct {
	APIBaseURL string
}

func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Addr:            ":8080",
		LogLevel:        "info",
		MarketTickEvery: 5 * time.Second,
		PlayerTickEvery: time.Second,
		SeedDefaults:    true,
		Market:          market.DefaultMarketConfig(),
	}
}

// LoadAPIFromEnv builds the server config from defaults, then the YAML file
// named by CLICKSTONKS_CONFIG (if any), then environment variables.
func LoadAPIFromEnv() (APIConfig, error) {
	cfg := DefaultAPIConfig()
	if path := strings.TrimSpace(os.Getenv("CLICKSTONKS_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	} else {
		cfg.Addr = envDefault("CLICKSTONKS_API_ADDR", cfg.Addr)
	}
	cfg.DatabaseURL = envDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = int32(envIntDefault("CLICKSTONKS_DB_MAX_CONNS", int64(cfg.DBMaxConns)))
	cfg.AdminToken = envDefault("CLICKSTONKS_ADMIN_TOKEN", cfg.AdminToken)
	cfg.LogLevel = envDefault("CLICKSTONKS_LOG_LEVEL", cfg.LogLevel)
	cfg.MarketTickEvery = envDurationDefault("CLICKSTONKS_MARKET_TICK_EVERY", cfg.MarketTickEvery)
	cfg.PlayerTickEvery = envDurationDefault("CLICKSTONKS_PLAYER_TICK_EVERY", cfg.PlayerTickEvery)
	if run, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("CLICKSTONKS_RUN_SCHEDULER"))); err == nil {
		cfg.RunScheduler = &run
	}
	cfg.SeedDefaults = envBoolDefault("CLICKSTONKS_SEED_DEFAULTS", cfg.SeedDefaults)
	cfg.RandomSeed = envIntDefault("CLICKSTONKS_RANDOM_SEED", cfg.RandomSeed)
	cfg.Market.DemandCurve = market.DemandCurve(envDefault("CLICKSTONKS_DEMAND_CURVE", string(cfg.Market.DemandCurve)))
	cfg.Market.MinPrice = envUintDefault("CLICKSTONKS_MIN_PRICE", cfg.Market.MinPrice)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *APIConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// SchedulerEnabled reports whether the API process runs the tick jobs. Unless
// set explicitly, it does only with the in-memory store; a Postgres deployment
// leaves them to clickstonks-worker so passive income is not paid twice.
func (c APIConfig) SchedulerEnabled() bool {
	if c.RunScheduler != nil {
		return *c.RunScheduler
	}
	return c.DatabaseURL == ""
}

func (c APIConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.MarketTickEvery <= 0 {
		errs = append(errs, errors.New("market tick interval must be > 0"))
	}
	if c.PlayerTickEvery <= 0 {
		errs = append(errs, errors.New("player tick interval must be > 0"))
	}
	if c.DBMaxConns < 0 {
		errs = append(errs, errors.New("db max conns must be >= 0"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := c.Market.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("market: %w", err))
	}
	return errors.Join(errs...)
}

func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("STK_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envUintDefault(key string, fallback uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
