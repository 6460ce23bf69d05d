package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the exchange core.
type Config struct {
	Exchange   Exchange   `mapstructure:"exchange"`
	Settlement Settlement `mapstructure:"settlement"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Broker     Broker     `mapstructure:"broker"`
}

// Exchange holds the configuration for matching, fees and market history.
type Exchange struct {
	// FeeExemption selects how privileged accounts affect trading fees:
	// "either", "both" or "none".
	FeeExemption     string        `mapstructure:"fee_exemption"`
	OrderRetention   time.Duration `mapstructure:"order_retention"`
	PurgeInterval    time.Duration `mapstructure:"purge_interval"`
	CandlePeriods    []string      `mapstructure:"candle_periods"`
	CandleSweep      time.Duration `mapstructure:"candle_sweep"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	StatisticsWindow time.Duration `mapstructure:"statistics_window"`
}

// Settlement holds the configuration for the external wallet daemon.
type Settlement struct {
	URL               string        `mapstructure:"url"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MinConfirmations  int           `mapstructure:"min_confirmations"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"`
	// SyntheticRecovery builds a local transaction record when the daemon
	// accepted a send but the follow-up lookup failed.
	SyntheticRecovery bool `mapstructure:"synthetic_recovery"`
}

// Server holds the configuration for the REST surface.
type Server struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Admin mounts the configuration endpoints. The upstream gateway is
	// expected to restrict them to operators.
	Admin bool `mapstructure:"admin"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Broker holds the configuration for the trade event sink.
type Broker struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Name   string `mapstructure:"name"`
}

// SetDefaults registers the default value of every knob on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("exchange.fee_exemption", "either")
	v.SetDefault("exchange.order_retention", 30*24*time.Hour)
	v.SetDefault("exchange.purge_interval", time.Hour)
	v.SetDefault("exchange.candle_periods", []string{"5m", "1h", "24h"})
	v.SetDefault("exchange.candle_sweep", time.Minute)
	v.SetDefault("exchange.event_buffer", 1024)
	v.SetDefault("exchange.statistics_window", 24*time.Hour)

	v.SetDefault("settlement.timeout", 30*time.Second)
	v.SetDefault("settlement.rate_limit", 10)      // requests per second
	v.SetDefault("settlement.rate_limit_burst", 5) // burst size
	v.SetDefault("settlement.max_retries", 3)
	v.SetDefault("settlement.min_confirmations", 6)
	v.SetDefault("settlement.reconcile_interval", time.Minute)
	v.SetDefault("settlement.reconcile_batch", 100)
	v.SetDefault("settlement.synthetic_recovery", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "exchange.db")
	v.SetDefault("database.max_open_conns", 1)

	v.SetDefault("broker.topic", "trades")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.SetEnvPrefix("EXCHANGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// Defaults and environment are enough to run.
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// Periods parses the configured candle periods.
func (e Exchange) Periods() ([]time.Duration, error) {
	periods := make([]time.Duration, 0, len(e.CandlePeriods))
	for _, p := range e.CandlePeriods {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, err
		}
		periods = append(periods, d)
	}
	return periods, nil
}
