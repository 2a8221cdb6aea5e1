package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config keeps runtime settings for the bot.
type Config struct {
	Telegram        TelegramConfig  `mapstructure:"telegram"`
	Operator        OperatorConfig  `mapstructure:"operator"`
	Database        DatabaseConfig  `mapstructure:"database"`
	Slots           SlotsConfig     `mapstructure:"slots"`
	Plans           map[string]Plan `mapstructure:"plans" validate:"required,min=1,dive,keys,max=60,excludes=:,endkeys"`
	Session         SessionConfig   `mapstructure:"session"`
	Redis           RedisConfig     `mapstructure:"redis"`
	Payment         PaymentConfig   `mapstructure:"payment"`
	AMQP            AMQPConfig      `mapstructure:"amqp"`
	HTTP            HTTPConfig      `mapstructure:"http"`
	Log             LogConfig       `mapstructure:"log"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	Debug bool   `mapstructure:"debug"`
}

// OperatorConfig describes the administrative recipient of order notifications.
type OperatorConfig struct {
	ChatID     int64  `mapstructure:"chat_id" validate:"required"`
	DigestTime string `mapstructure:"digest_time" validate:"omitempty,datetime=15:04"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite mysql"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// SlotsConfig drives the pickup slot policy.
type SlotsConfig struct {
	MorningCutoffHour int    `mapstructure:"morning_cutoff_hour" validate:"gte=0,lte=23"`
	MorningLabel      string `mapstructure:"morning_label" validate:"required"`
	EveningLabel      string `mapstructure:"evening_label" validate:"required"`
	Timezone          string `mapstructure:"timezone"`
}

// Plan is a purchasable subscription. Prices are always in minor currency units.
type Plan struct {
	Title        string `mapstructure:"title" validate:"required"`
	PriceMinor   int64  `mapstructure:"price_minor" validate:"gt=0"`
	DurationDays int    `mapstructure:"duration_days" validate:"gt=0,lte=3660"`
}

type SessionConfig struct {
	Store         string        `mapstructure:"store" validate:"oneof=memory redis"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type PaymentConfig struct {
	Provider            string        `mapstructure:"provider" validate:"oneof=demo stripe"`
	Currency            string        `mapstructure:"currency" validate:"required,len=3"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	StripeSecretKey     string        `mapstructure:"stripe_secret_key" validate:"required_if=Provider stripe"`
	StripePaymentMethod string        `mapstructure:"stripe_payment_method" validate:"required_if=Provider stripe"`
}

type AMQPConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// HTTPConfig enables the operator API when Addr is set.
type HTTPConfig struct {
	Addr          string `mapstructure:"addr"`
	OperatorToken string `mapstructure:"operator_token" validate:"required_with=Addr"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Location resolves the configured timezone, falling back to the process local zone.
func (s SlotsConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(s.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Load reads configuration from .env, an optional config file and environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = defaultPlans()
	}
	cfg.Payment.Currency = strings.ToUpper(strings.TrimSpace(cfg.Payment.Currency))

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field consistency.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Slots.Location(); err != nil {
		return fmt.Errorf("invalid config: slots.timezone: %w", err)
	}
	if c.Session.Store == "redis" && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("invalid config: redis.addr is required for the redis session store")
	}

	titles := make(map[string]string, len(c.Plans))
	for id, plan := range c.Plans {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("invalid config: empty plan id")
		}
		if plan.PriceMinor <= 0 || plan.DurationDays <= 0 {
			return fmt.Errorf("invalid config: plan %q needs a positive price_minor and duration_days", id)
		}
		key := strings.ToLower(strings.TrimSpace(plan.Title))
		if other, ok := titles[key]; ok {
			return fmt.Errorf("invalid config: plans %q and %q share the title %q", other, id, plan.Title)
		}
		titles[key] = id
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("operator.chat_id", 0)
	v.SetDefault("operator.digest_time", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pickup.db")
	v.SetDefault("slots.morning_cutoff_hour", 10)
	v.SetDefault("slots.morning_label", "10:00 - 14:00")
	v.SetDefault("slots.evening_label", "18:00 - 20:00")
	v.SetDefault("slots.timezone", "")
	v.SetDefault("session.store", "memory")
	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("payment.provider", "demo")
	v.SetDefault("payment.currency", "RUB")
	v.SetDefault("payment.timeout", 15*time.Second)
	v.SetDefault("payment.stripe_secret_key", "")
	v.SetDefault("payment.stripe_payment_method", "")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.queue", "pickup_orders")
	v.SetDefault("http.addr", "")
	v.SetDefault("http.operator_token", "")
	v.SetDefault("log.development", false)
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// bindLegacyEnv keeps the short variable names used by deployments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("operator.chat_id", "OPERATOR_CHAT_ID", "ADMIN_ID")
	_ = v.BindEnv("payment.stripe_secret_key", "PAYMENT_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY")
	_ = v.BindEnv("payment.stripe_payment_method", "PAYMENT_STRIPE_PAYMENT_METHOD", "STRIPE_PAYMENT_METHOD")
	_ = v.BindEnv("http.operator_token", "HTTP_OPERATOR_TOKEN", "OPERATOR_API_TOKEN")
	_ = v.BindEnv("telegram.token", "TELEGRAM_TOKEN", "BOT_TOKEN")
}

func defaultPlans() map[string]Plan {
	return map[string]Plan{
		"1_day":    {Title: "1 день", PriceMinor: 10000, DurationDays: 1},
		"1_month":  {Title: "1 месяц", PriceMinor: 100000, DurationDays: 30},
		"6_months": {Title: "6 месяцев", PriceMinor: 500000, DurationDays: 180},
		"1_year":   {Title: "1 год", PriceMinor: 900000, DurationDays: 365},
	}
}
