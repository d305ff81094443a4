package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultClinic  string   `mapstructure:"DEFAULT_CLINIC"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	ClinicTimezone string   `mapstructure:"CLINIC_TIMEZONE"`
	ImageStoreDir  string   `mapstructure:"IMAGE_STORE_DIR"`
	ImageMaxBytes  int64    `mapstructure:"IMAGE_MAX_BYTES"`
	CurrencyLocale string   `mapstructure:"CURRENCY_LOCALE"`
}

const defaultTimezone = "Asia/Ho_Chi_Minh"

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DEFAULT_CLINIC", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CLINIC_TIMEZONE", "IMAGE_STORE_DIR", "IMAGE_MAX_BYTES", "CURRENCY_LOCALE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_CLINIC", "main")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("CLINIC_TIMEZONE", defaultTimezone)
	v.SetDefault("IMAGE_MAX_BYTES", 10*1024*1024)
	v.SetDefault("CURRENCY_LOCALE", "vi-VN")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthMode returns how bearer tokens are verified:
//   - "development" when ENV=development and no key material is configured
//   - "hmac" when AUTH_SIGNING_KEY is set
//   - "jwks" otherwise
func (c *Config) AuthMode() string {
	switch {
	case c.AuthSigningKey != "":
		return "hmac"
	case c.AuthJWKSURL != "":
		return "jwks"
	case c.IsDev():
		return "development"
	}
	return "jwks"
}

// Location loads CLINIC_TIMEZONE. Report anchors and appointment dates are
// interpreted in this zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.ClinicTimezone)
}

// ClinicLocation resolves CLINIC_TIMEZONE from the same sources as Load
// without requiring the rest of the configuration.
func ClinicLocation() (*time.Location, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()
	v.SetDefault("CLINIC_TIMEZONE", defaultTimezone)
	_ = v.BindEnv("CLINIC_TIMEZONE")
	_ = v.ReadInConfig()

	loc, err := time.LoadLocation(v.GetString("CLINIC_TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Locale parses CURRENCY_LOCALE.
func (c *Config) Locale() (language.Tag, error) {
	return language.Parse(c.CurrencyLocale)
}

// Validate checks that the configuration is safe to run. Outside development a
// token verification method must be configured.
func (c *Config) Validate() error {
	if c.AuthMode() == "jwks" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && c.AuthMode() == "development" {
		return fmt.Errorf("development auth cannot be used in production")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ImageMaxBytes <= 0 {
		return fmt.Errorf("IMAGE_MAX_BYTES must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	if _, err := c.Locale(); err != nil {
		return fmt.Errorf("CURRENCY_LOCALE: %w", err)
	}
	return nil
}

// LogWarnings reports settings that are acceptable but risky.
func (c *Config) LogWarnings(logger zerolog.Logger) {
	if c.AuthMode() == "development" {
		logger.Warn().Msg("development auth is active: requests without a token get admin access")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" && !c.IsDev() {
			logger.Warn().Msg("CORS_ORIGINS allows any origin")
		}
	}
	if c.ImageStoreDir == "" {
		logger.Warn().Msg("IMAGE_STORE_DIR is empty: skin images are kept in memory and lost on restart")
	}
}
