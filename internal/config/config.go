// Package config loads stepsaga settings from defaults, an optional YAML file
// and STEPSAGA_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/order"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// STEPSAGA_RETRY_MAX_ATTEMPTS=5.
const EnvPrefix = "STEPSAGA"

type Config struct {
	Log         LogConfig        `mapstructure:"log"`
	Retry       RetryConfig      `mapstructure:"retry"`
	StepTimeout time.Duration    `mapstructure:"step_timeout" validate:"gte=0"`
	Parallelism int              `mapstructure:"parallelism" validate:"gte=1"`
	DeadLetter  DeadLetterConfig `mapstructure:"dead_letter"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Order       OrderConfig      `mapstructure:"order"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gte=1"`
}

// Policy converts the settings into a compensation retry policy.
func (r RetryConfig) Policy() stepsaga.RetryPolicy {
	return stepsaga.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Multiplier:      r.Multiplier,
	}
}

type DeadLetterConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=memory file redis"`
	Dir     string      `mapstructure:"dir" validate:"required_if=Backend file"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
}

type OrderConfig struct {
	ChargeLimit string `mapstructure:"charge_limit"`

	// Catalog lists initial stock as PRODUCT=QUANTITY entries. A list is used
	// because viper lower-cases map keys.
	Catalog []string `mapstructure:"catalog"`
}

// Limit parses ChargeLimit.
func (o OrderConfig) Limit() (decimal.Decimal, error) {
	if o.ChargeLimit == "" {
		return order.DefaultChargeLimit, nil
	}
	limit, err := decimal.NewFromString(o.ChargeLimit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid order.charge_limit %q: %w", o.ChargeLimit, err)
	}
	if !limit.IsPositive() {
		return decimal.Zero, fmt.Errorf("order.charge_limit must be positive, got %s", limit)
	}
	return limit, nil
}

// Stock parses Catalog.
func (o OrderConfig) Stock() (map[string]int, error) {
	stock := make(map[string]int, len(o.Catalog))
	for _, entry := range o.Catalog {
		product, qty, ok := strings.Cut(entry, "=")
		product = strings.TrimSpace(product)
		if !ok || product == "" {
			return nil, fmt.Errorf("invalid catalog entry %q: want PRODUCT=QUANTITY", entry)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid quantity in catalog entry %q", entry)
		}
		stock[product] = n
	}
	return stock, nil
}

// Load reads configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Errorf("default config is invalid: %w", err))
	}
	return cfg
}

// Validate checks field constraints and the order settings.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Order.Limit(); err != nil {
		return err
	}
	if _, err := c.Order.Stock(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	policy := stepsaga.DefaultRetryPolicy()
	metrics := stepsaga.DefaultPrometheusConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("retry.initial_interval", policy.InitialInterval)
	v.SetDefault("retry.max_interval", policy.MaxInterval)
	v.SetDefault("retry.multiplier", policy.Multiplier)
	v.SetDefault("step_timeout", time.Duration(0))
	v.SetDefault("parallelism", 4)
	v.SetDefault("dead_letter.backend", "memory")
	v.SetDefault("dead_letter.dir", "")
	v.SetDefault("dead_letter.redis.addr", "localhost:6379")
	v.SetDefault("dead_letter.redis.password", "")
	v.SetDefault("dead_letter.redis.db", 0)
	v.SetDefault("dead_letter.redis.prefix", "stepsaga:deadletter:")
	v.SetDefault("dead_letter.redis.ttl", time.Duration(0))
	v.SetDefault("metrics.namespace", metrics.Namespace)
	v.SetDefault("metrics.subsystem", metrics.Subsystem)
	v.SetDefault("order.charge_limit", order.DefaultChargeLimit.String())
	v.SetDefault("order.catalog", catalogEntries(order.DefaultCatalog()))
}

func catalogEntries(stock map[string]int) []string {
	entries := make([]string, 0, len(stock))
	for product, qty := range stock {
		entries = append(entries, fmt.Sprintf("%s=%d", product, qty))
	}
	sort.Strings(entries)
	return entries
}
