/*
Package config loads process configuration.

PURPOSE:
  One Config struct filled from the environment. A .env file in the working
  directory is loaded first when present; real environment variables win
  over it. Command-line flags in cmd/server override both.

SEE ALSO:
  - cmd/server/main.go: Flag overrides and wiring
  - factory/ratetable.go: RATE_TABLES_FILE format
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Africa/Lagos on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/savings-engine/generic"
)

type Config struct {
	Port string `mapstructure:"PORT"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"` // memory | sqlite | postgres
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	Currency string `mapstructure:"CURRENCY"`
	Timezone string `mapstructure:"TIMEZONE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	AccrualSchedule      string `mapstructure:"ACCRUAL_SCHEDULE"`
	AccrualWorkers       int    `mapstructure:"ACCRUAL_WORKERS"`
	AccrualSettleMatured bool   `mapstructure:"ACCRUAL_SETTLE_MATURED"`
	TransferMaxAttempts  int    `mapstructure:"TRANSFER_MAX_ATTEMPTS"`
	DefaultTier          string `mapstructure:"DEFAULT_TIER"`
	RateTablesFile       string `mapstructure:"RATE_TABLES_FILE"`

	Notifier     string `mapstructure:"NOTIFIER"` // log | amqp | kafka
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	RedisURL string `mapstructure:"REDIS_URL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins    string  `mapstructure:"CORS_ORIGINS"`
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"DATABASE_DRIVER":        "sqlite",
	"DATABASE_URL":           "./savings.db",
	"CURRENCY":               "NGN",
	"TIMEZONE":               "Africa/Lagos",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "json",
	"ACCRUAL_SCHEDULE":       "5 0 * * *",
	"ACCRUAL_WORKERS":        4,
	"ACCRUAL_SETTLE_MATURED": true,
	"TRANSFER_MAX_ATTEMPTS":  5,
	"DEFAULT_TIER":           "tier_1",
	"RATE_TABLES_FILE":       "",
	"NOTIFIER":               "log",
	"AMQP_URL":               "",
	"AMQP_EXCHANGE":          "savings_events",
	"KAFKA_BROKERS":          "",
	"KAFKA_TOPIC":            "savings-events",
	"REDIS_URL":              "",
	"RATE_LIMIT_RPS":         20.0,
	"RATE_LIMIT_BURST":       40,
	"CORS_ORIGINS":           "*",
}

// Load reads the environment after loading envFiles into it. With no
// files, ./.env is loaded if it exists.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		// A missing .env is the normal case in containers.
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.Notifier = strings.ToLower(strings.TrimSpace(c.Notifier))
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	c.RedisURL = strings.TrimSpace(c.RedisURL)
}

// Validate checks values that would otherwise fail late at wiring time.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "memory", "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER: unknown driver %q", c.DatabaseDriver)
	}
	switch c.Notifier {
	case "log", "amqp", "kafka":
	default:
		return fmt.Errorf("NOTIFIER: unknown notifier %q", c.Notifier)
	}
	if c.Notifier == "amqp" && c.AMQPURL == "" {
		return errors.New("AMQP_URL is required when NOTIFIER=amqp")
	}
	if c.Notifier == "kafka" && len(c.Brokers()) == 0 {
		return errors.New("KAFKA_BROKERS is required when NOTIFIER=kafka")
	}
	if _, err := generic.ParseCurrency(c.Currency); err != nil {
		return fmt.Errorf("CURRENCY: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.AccrualWorkers <= 0 {
		return fmt.Errorf("ACCRUAL_WORKERS: must be positive, got %d", c.AccrualWorkers)
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c Config) Brokers() []string { return splitList(c.KafkaBrokers) }

func (c Config) Origins() []string { return splitList(c.CORSOrigins) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
