package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for h2ox-api.
type Config struct {
	ListenAddr string          `mapstructure:"listen_addr"`
	LogFormat  string          `mapstructure:"log_format"`
	Auth       AuthConfig      `mapstructure:"auth"`
	CORS       CORSConfig      `mapstructure:"cors"`
	Warehouse  WarehouseConfig `mapstructure:"warehouse"`
	Cache      CacheConfig     `mapstructure:"cache"`
}

// AuthConfig is the basic-auth credential pair for the data routes.
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CORSConfig controls cross-origin headers. Empty origin disables CORS.
type CORSConfig struct {
	AllowOrigin string `mapstructure:"allow_origin"`
}

// WarehouseConfig defines the analytical warehouse backend.
type WarehouseConfig struct {
	Driver   string         `mapstructure:"driver"` // "duckdb" or "postgres"
	DuckDB   DuckDBConfig   `mapstructure:"duckdb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// DuckDBConfig holds the embedded warehouse file path.
type DuckDBConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds the hosted warehouse connection string.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CacheConfig defines the Redis cache store and cache-aside behavior.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Bypass   bool          `mapstructure:"bypass"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $H2OX_CONFIG env → ~/.config/h2ox/config.yaml → /etc/h2ox/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("warehouse.driver", "duckdb")
	v.SetDefault("warehouse.duckdb.path", "data/h2ox.duckdb")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 48*time.Hour)
	v.SetDefault("cache.bypass", false)

	// Env var support: H2OX_AUTH_PASSWORD overrides auth.password, etc.
	v.SetEnvPrefix("H2OX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("H2OX_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		// Try ~/.config/h2ox/config.yaml first
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "h2ox"))
		}
		// Fall back to /etc/h2ox/config.yaml
		v.AddConfigPath("/etc/h2ox")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		// Warn if config file is world-readable: it carries credentials.
		if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
			if info, err := os.Stat(cfgPath); err == nil {
				perm := info.Mode().Perm()
				if perm&0004 != 0 {
					slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if c.Auth.Password == "" {
		return fmt.Errorf("auth.password is required")
	}

	switch c.Warehouse.Driver {
	case "duckdb":
		if c.Warehouse.DuckDB.Path == "" {
			return fmt.Errorf("warehouse.duckdb.path is required for duckdb driver")
		}
		dir := filepath.Dir(c.Warehouse.DuckDB.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("creating warehouse directory %q: %w", dir, err)
			}
		}
	case "postgres":
		if c.Warehouse.Postgres.DSN == "" {
			return fmt.Errorf("warehouse.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("warehouse.driver must be 'duckdb' or 'postgres', got %q", c.Warehouse.Driver)
	}

	if c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}

	// Validate listen_addr.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// DSN returns the appropriate DSN for the configured warehouse driver.
func (c *Config) DSN() string {
	switch c.Warehouse.Driver {
	case "duckdb":
		return c.Warehouse.DuckDB.Path
	case "postgres":
		return c.Warehouse.Postgres.DSN
	default:
		return ""
	}
}
