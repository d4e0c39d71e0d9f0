package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"trade_sim/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFeedURL is the public GoMarket OKX L2 stream.
	DefaultFeedURL = "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP"

	// DefaultUserAgent is sent on the feed handshake.
	DefaultUserAgent = "trade-sim/1.0"
)

// FeeTier is one maker/taker fee schedule, as fractions of notional.
type FeeTier struct {
	Maker decimal.Decimal `yaml:"maker"`
	Taker decimal.Decimal `yaml:"taker"`
}

// Config holds every runtime setting.
// LoadConfig fills it from YAML, then .env and TRADESIM_* variables override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		Enabled         bool   `yaml:"enabled"`
		WSURL           string `yaml:"ws_url"`
		Exchange        string `yaml:"exchange"`
		Symbol          string `yaml:"symbol"`
		InboxSize       int    `yaml:"inbox_size"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		PingIntervalSec int    `yaml:"ping_interval_sec"`
	} `yaml:"feed"`

	Book struct {
		DepthLimit int `yaml:"depth_limit"`
	} `yaml:"book"`

	Impact struct {
		Volatility decimal.Decimal `yaml:"volatility"`
		Eta        decimal.Decimal `yaml:"eta"`
		Gamma      decimal.Decimal `yaml:"gamma"`
	} `yaml:"impact"`

	Fees struct {
		DefaultTier string             `yaml:"default_tier"`
		Tiers       map[string]FeeTier `yaml:"tiers"`
	} `yaml:"fees"`

	Storage struct {
		Enabled        bool   `yaml:"enabled"`
		Path           string `yaml:"path"`
		RecordEvery    int    `yaml:"record_every"`
		RetentionHours int    `yaml:"retention_hours"` // Zero keeps every tick
	} `yaml:"storage"`

	Server struct {
		Addr      string `yaml:"addr"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used for any key the YAML file omits.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "trade-sim"
	cfg.App.Version = "dev"

	cfg.Feed.Enabled = true
	cfg.Feed.WSURL = DefaultFeedURL
	cfg.Feed.Exchange = "okx"
	cfg.Feed.Symbol = "BTC-USDT-SWAP"
	cfg.Feed.InboxSize = 256
	cfg.Feed.ReadTimeoutSec = 30
	cfg.Feed.PingIntervalSec = 15

	cfg.Book.DepthLimit = 20

	cfg.Impact.Volatility = decimal.RequireFromString("0.015")
	cfg.Impact.Eta = decimal.RequireFromString("0.0005")
	cfg.Impact.Gamma = decimal.RequireFromString("0.0001")

	cfg.Fees.DefaultTier = "tier1"
	cfg.Fees.Tiers = map[string]FeeTier{
		"tier1": {Maker: decimal.RequireFromString("0.0002"), Taker: decimal.RequireFromString("0.0005")},
		"tier2": {Maker: decimal.RequireFromString("0.0001"), Taker: decimal.RequireFromString("0.0004")},
		"tier3": {Maker: decimal.Zero, Taker: decimal.RequireFromString("0.0003")},
	}

	cfg.Storage.Path = "data/ticks.db"
	cfg.Storage.RecordEvery = 1
	cfg.Storage.RetentionHours = 24

	cfg.Server.Addr = ":8080"

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads path over the defaults, applies environment overrides,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Feed.Enabled {
		if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
			return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("not a websocket URL: %q", c.Feed.WSURL)}
		}
		if c.Feed.InboxSize <= 0 {
			return &domain.ConfigError{Field: "feed.inbox_size", Err: errors.New("must be positive")}
		}
	}
	if c.Feed.Symbol == "" {
		return &domain.ConfigError{Field: "feed.symbol", Err: errors.New("required")}
	}

	if c.Book.DepthLimit <= 0 {
		return &domain.ConfigError{Field: "book.depth_limit", Err: errors.New("must be positive")}
	}

	for name, v := range map[string]decimal.Decimal{
		"impact.volatility": c.Impact.Volatility,
		"impact.eta":        c.Impact.Eta,
		"impact.gamma":      c.Impact.Gamma,
	} {
		if !v.IsPositive() {
			return &domain.ConfigError{Field: name, Err: fmt.Errorf("must be positive, got %s", v)}
		}
	}

	if _, ok := c.Fees.Tiers[c.Fees.DefaultTier]; !ok {
		return &domain.ConfigError{Field: "fees.default_tier", Err: fmt.Errorf("unknown tier %q", c.Fees.DefaultTier)}
	}
	for name, tier := range c.Fees.Tiers {
		if tier.Maker.IsNegative() || tier.Taker.IsNegative() {
			return &domain.ConfigError{Field: "fees.tiers." + name, Err: errors.New("fees must not be negative")}
		}
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required when storage is enabled")}
	}
	if c.Storage.RetentionHours < 0 {
		return &domain.ConfigError{Field: "storage.retention_hours", Err: errors.New("must not be negative")}
	}

	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("required")}
	}

	return nil
}

// overrideWithEnv applies TRADESIM_* variables that are set.
func overrideWithEnv(cfg *Config) error {
	setStr(&cfg.Feed.WSURL, "TRADESIM_FEED_URL")
	setStr(&cfg.Feed.Symbol, "TRADESIM_SYMBOL")
	setStr(&cfg.Storage.Path, "TRADESIM_DB_PATH")
	setStr(&cfg.Server.Addr, "TRADESIM_HTTP_ADDR")
	setStr(&cfg.Server.PprofAddr, "TRADESIM_PPROF_ADDR")
	setStr(&cfg.Logging.Level, "TRADESIM_LOG_LEVEL")
	setStr(&cfg.Fees.DefaultTier, "TRADESIM_FEE_TIER")

	if err := setInt(&cfg.Book.DepthLimit, "TRADESIM_DEPTH_LIMIT"); err != nil {
		return err
	}
	if err := setBool(&cfg.Feed.Enabled, "TRADESIM_FEED_ENABLED"); err != nil {
		return err
	}
	return setBool(&cfg.Storage.Enabled, "TRADESIM_STORAGE_ENABLED")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &domain.ConfigError{Field: key, Err: err}
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return &domain.ConfigError{Field: key, Err: err}
	}
	*dst = b
	return nil
}
