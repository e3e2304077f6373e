package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTLHours int    `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Market struct {
		DefaultPrice           string `yaml:"default_price"`
		TradeWindow            int    `yaml:"trade_window"`
		RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
		DefaultTTLMinutes      int    `yaml:"default_ttl_minutes"`
		MaxTTLMinutes          int    `yaml:"max_ttl_minutes"`
		RequireProof           bool   `yaml:"require_proof"`
		IdempotencyTTLMinutes  int    `yaml:"idempotency_ttl_minutes"`
	} `yaml:"market"`
	Directory struct {
		BaseURL         string `yaml:"base_url"`
		CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
	} `yaml:"directory"`
	Wallet struct {
		PrivateKey      string `yaml:"private_key"`
		TreasuryAddress string `yaml:"treasury_address"`
		RelayURL        string `yaml:"relay_url"`
	} `yaml:"wallet"`
	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// Load reads the YAML config at path (or CONFIG_PATH, or configs/config.yaml),
// after loading a .env file if one exists. Environment variables override the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	price, err := decimal.NewFromString(cfg.Market.DefaultPrice)
	if err != nil {
		return nil, errors.New("market.default_price must be a decimal")
	}
	if !price.IsPositive() {
		return nil, errors.New("market.default_price must be positive")
	}
	if cfg.Market.MaxTTLMinutes < cfg.Market.DefaultTTLMinutes {
		return nil, errors.New("market.max_ttl_minutes must not be below market.default_ttl_minutes")
	}
	return &cfg, nil
}

func (c *Config) DefaultPrice() decimal.Decimal {
	return decimal.RequireFromString(c.Market.DefaultPrice)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Market.RefreshIntervalSeconds) * time.Second
}

func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Market.DefaultTTLMinutes) * time.Minute
}

func (c *Config) MaxTTL() time.Duration {
	return time.Duration(c.Market.MaxTTLMinutes) * time.Minute
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Market.IdempotencyTTLMinutes) * time.Minute
}

func (c *Config) DirectoryCacheTTL() time.Duration {
	return time.Duration(c.Directory.CacheTTLMinutes) * time.Minute
}

func applyDefaults(cfg *Config) {
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	if cfg.Market.DefaultPrice == "" {
		cfg.Market.DefaultPrice = "8.50"
	}
	if cfg.Market.TradeWindow <= 0 {
		cfg.Market.TradeWindow = 5
	}
	if cfg.Market.RefreshIntervalSeconds <= 0 {
		cfg.Market.RefreshIntervalSeconds = 5
	}
	if cfg.Market.DefaultTTLMinutes <= 0 {
		cfg.Market.DefaultTTLMinutes = 60
	}
	if cfg.Market.MaxTTLMinutes <= 0 {
		cfg.Market.MaxTTLMinutes = 120
	}
	if cfg.Market.IdempotencyTTLMinutes <= 0 {
		cfg.Market.IdempotencyTTLMinutes = 24 * 60
	}
	if cfg.Directory.BaseURL == "" {
		cfg.Directory.BaseURL = "https://dining.apis.scottylabs.org"
	}
	if cfg.Directory.CacheTTLMinutes <= 0 {
		cfg.Directory.CacheTTLMinutes = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TOKEN_TTL_HOURS"); v != "" {
		cfg.Auth.TokenTTLHours = atoiOr(cfg.Auth.TokenTTLHours, v)
	}
	if v := os.Getenv("DEFAULT_PRICE"); v != "" {
		cfg.Market.DefaultPrice = v
	}
	if v := os.Getenv("TRADE_WINDOW"); v != "" {
		cfg.Market.TradeWindow = atoiOr(cfg.Market.TradeWindow, v)
	}
	if v := os.Getenv("REFRESH_INTERVAL_SECONDS"); v != "" {
		cfg.Market.RefreshIntervalSeconds = atoiOr(cfg.Market.RefreshIntervalSeconds, v)
	}
	if v := os.Getenv("REQUIRE_PROOF"); v != "" {
		cfg.Market.RequireProof = v == "true"
	}
	if v := os.Getenv("DIRECTORY_BASE_URL"); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("WALLET_TREASURY_ADDRESS"); v != "" {
		cfg.Wallet.TreasuryAddress = v
	}
	if v := os.Getenv("WALLET_RELAY_URL"); v != "" {
		cfg.Wallet.RelayURL = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
