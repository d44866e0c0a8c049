// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full service configuration tree.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Market   MarketConfig   `mapstructure:"market"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// DatabaseConfig selects and parameterizes the backing store.
type DatabaseConfig struct {
	Driver  string `mapstructure:"driver"` // postgres or sqlite
	DSN     string `mapstructure:"dsn"`
	MaxOpen int    `mapstructure:"max_open"`
	MaxIdle int    `mapstructure:"max_idle"`
}

// RedisConfig parameterizes the optional snapshot cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig parameterizes the optional event publisher.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MarketConfig carries the traded pair and engine tuning knobs.
type MarketConfig struct {
	FiatCurrency   string `mapstructure:"fiat_currency"`
	CryptoCurrency string `mapstructure:"crypto_currency"`
	DepthLevels    int    `mapstructure:"depth_levels"`
	PricePolicy    string `mapstructure:"price_policy"`
	QueueSize      int    `mapstructure:"queue_size"`
}

// AuthConfig holds the JWT verification secret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from config.yaml (working directory or /etc/bitvex)
// and the BITVEX_* environment. A missing file is fine; env and defaults
// suffice for development.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/bitvex")

	v.SetEnvPrefix("BITVEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.dev_mode", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "bitvex.db")
	v.SetDefault("database.max_open", 25)
	v.SetDefault("database.max_idle", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "bitvex.events")

	v.SetDefault("market.fiat_currency", "EUR")
	v.SetDefault("market.crypto_currency", "BTC")
	v.SetDefault("market.depth_levels", 100)
	v.SetDefault("market.price_policy", "bid")
	v.SetDefault("market.queue_size", 1024)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
}
