package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration, read from the environment (and an
// optional .env file for local development).
type Config struct {
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`
	SiteURL     string `mapstructure:"SITE_URL"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// WebhookBaseURL is the public base URL Twilio posts webhooks to and
	// signs. Empty means SiteURL; see WebhookURL.
	WebhookBaseURL string `mapstructure:"WEBHOOK_BASE_URL"`

	Database DatabaseConfig `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Twilio   TwilioConfig   `mapstructure:",squash"`

	ConversationTTL time.Duration `mapstructure:"CONVERSATION_TTL"`
	LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	DefaultRegion   string        `mapstructure:"DEFAULT_REGION"`
	AdminToken      string        `mapstructure:"ADMIN_TOKEN"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"DB_DRIVER"`
	URL        string `mapstructure:"DATABASE_URL"`
	Host       string `mapstructure:"DB_HOST"`
	Port       int    `mapstructure:"DB_PORT"`
	User       string `mapstructure:"DB_USER"`
	Password   string `mapstructure:"DB_PASS"`
	Name       string `mapstructure:"DB_NAME"`
	SSLMode    string `mapstructure:"DB_SSLMODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"REDIS_ADDR"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type TwilioConfig struct {
	AccountSID      string `mapstructure:"TWILIO_ACCOUNT_SID"`
	AuthToken       string `mapstructure:"TWILIO_AUTH_TOKEN"`
	PhoneNumber     string `mapstructure:"TWILIO_PHONE_NUMBER"`
	ValidateWebhook bool   `mapstructure:"VALIDATE_WEBHOOK"`
}

var defaults = map[string]interface{}{
	"PORT":                "8080",
	"ENVIRONMENT":         "development",
	"SITE_URL":            "http://localhost:8080",
	"WEBHOOK_BASE_URL":    "",
	"LOG_LEVEL":           "info",
	"DB_DRIVER":           "postgres",
	"DATABASE_URL":        "",
	"DB_HOST":             "localhost",
	"DB_PORT":             5432,
	"DB_USER":             "postgres",
	"DB_PASS":             "",
	"DB_NAME":             "rel8",
	"DB_SSLMODE":          "disable",
	"SQLITE_PATH":         "rel8.db",
	"REDIS_ADDR":          "",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"TWILIO_ACCOUNT_SID":  "",
	"TWILIO_AUTH_TOKEN":   "",
	"TWILIO_PHONE_NUMBER": "",
	"VALIDATE_WEBHOOK":    true,
	"CONVERSATION_TTL":    "30m",
	"LOCK_TTL":            "10s",
	"DEFAULT_REGION":      "US",
	"ADMIN_TOKEN":         "",
}

// Load reads the .env file at envFile (if present) and then the process
// environment. A missing .env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	cfg.WebhookBaseURL = strings.TrimRight(cfg.WebhookBaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.ConversationTTL <= 0 {
		return fmt.Errorf("CONVERSATION_TTL must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// TwilioConfigured reports whether outbound SMS credentials are present.
func (c *Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.PhoneNumber != ""
}

// WebhookURL is the base URL webhook signatures are checked against.
func (c *Config) WebhookURL() string {
	if c.WebhookBaseURL != "" {
		return c.WebhookBaseURL
	}
	return c.SiteURL
}
