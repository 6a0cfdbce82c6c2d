package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchanges Exchanges       `mapstructure:"exchanges"`
	Trading   Trading         `mapstructure:"trading"`
	Plans     map[string]Plan `mapstructure:"plans"`
	Logger    Logger          `mapstructure:"logger"`
	Server    Server          `mapstructure:"server"`
	Database  Database        `mapstructure:"database"`
}

// Exchanges holds per-venue endpoint settings. Credentials live on each bot.
type Exchanges struct {
	Binance     Venue `mapstructure:"binance"`
	Bybit       Venue `mapstructure:"bybit"`
	KuCoin      Venue `mapstructure:"kucoin"`
	Oanda       Venue `mapstructure:"oanda"`
	MetaTrader5 Venue `mapstructure:"metatrader5"`
}

// Venue holds the connection settings of a single exchange adapter.
type Venue struct {
	BaseURL        string  `mapstructure:"base_url"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Server holds the configuration for the status and journal web servers.
type Server struct {
	Port    int `mapstructure:"port"`
	ApiPort int `mapstructure:"api_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Trading holds the configuration for trade execution.
type Trading struct {
	DryRun         bool `mapstructure:"dry_run"`
	LogBufferSize  int  `mapstructure:"log_buffer_size"`
	LogTailSize    int  `mapstructure:"log_tail_size"`
	MaxConcurrency int  `mapstructure:"max_concurrency"`
}

// Plan holds the limits of a subscription tier. -1 means unlimited.
type Plan struct {
	TradeLimit int `mapstructure:"trade_limit"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(viper.GetViper())

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("database.dsn", "trade_bot.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_port", 8081)

	v.SetDefault("trading.dry_run", false)
	v.SetDefault("trading.log_buffer_size", 1024)
	v.SetDefault("trading.log_tail_size", 200)
	v.SetDefault("trading.max_concurrency", 16)

	v.SetDefault("plans.free.trade_limit", 4)
	v.SetDefault("plans.pro.trade_limit", -1)
	v.SetDefault("plans.enterprise.trade_limit", -1)

	for _, venue := range []string{"binance", "bybit", "kucoin", "oanda", "metatrader5"} {
		v.SetDefault("exchanges."+venue+".rate_limit", 10)      // requests per second
		v.SetDefault("exchanges."+venue+".rate_limit_burst", 5) // burst size
		v.SetDefault("exchanges."+venue+".timeout_seconds", 15)
	}
	v.SetDefault("exchanges.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("exchanges.kucoin.base_url", "https://api.kucoin.com")
	v.SetDefault("exchanges.oanda.base_url", "https://api-fxtrade.oanda.com")
	v.SetDefault("exchanges.metatrader5.base_url", "http://127.0.0.1:8787")
}
