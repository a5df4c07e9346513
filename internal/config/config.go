// Package config provides configuration loading, validation, and defaults
// for the ChatPulse service. Values come from defaults, an optional
// config.yaml, and CHATPULSE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps all configuration loading and validation errors.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration parameters.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Import    ImportConfig    `mapstructure:"import"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls log verbosity and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// AuthConfig holds OTP provider and token settings. StaffNumbers lists
// the phone numbers whose tokens carry the staff claim.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret" validate:"required"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" validate:"required,min=1m"`
	ProviderBaseURL string        `mapstructure:"provider_base_url" validate:"required,url"`
	ProviderSecret  string        `mapstructure:"provider_secret" validate:"required"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" validate:"required,min=1s"`
	StaffNumbers    []string      `mapstructure:"staff_numbers"`
}

// ImportConfig controls the transcript importer.
type ImportConfig struct {
	BatchSize int    `mapstructure:"batch_size" validate:"required,min=1"`
	Timezone  string `mapstructure:"timezone"   validate:"required"`
}

// AnalyticsConfig sets the default date window used when API callers
// omit an explicit range.
type AnalyticsConfig struct {
	DefaultStart string `mapstructure:"default_start" validate:"required,datetime=2006-01-02"`
	DefaultEnd   string `mapstructure:"default_end"   validate:"required,datetime=2006-01-02"`
}

// SchedulerConfig controls the nightly group statistics refresh. An empty
// cron expression disables the job; the staff API endpoint remains
// available either way.
type SchedulerConfig struct {
	GroupStatsCron string `mapstructure:"group_stats_cron"`
}

const (
	defaultLogLevel        = "info"
	defaultDBPath          = "chatpulse.db"
	defaultHTTPAddr        = ":8080"
	defaultTokenTTL        = 24 * time.Hour
	defaultProviderTimeout = 10 * time.Second
	defaultBatchSize       = 1000
	defaultTimezone        = "Africa/Lagos"
	defaultWindowStart     = "2024-01-01"
	defaultWindowEnd       = "2024-12-31"
)

// Load reads configuration from defaults, an optional config.yaml in the
// working directory, and CHATPULSE_* environment variables, then
// validates the result.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CHATPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvKeys()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
		// Missing config file is fine; defaults and env apply.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("log.level", defaultLogLevel)
	viper.SetDefault("log.json", true)

	viper.SetDefault("database.path", defaultDBPath)
	viper.SetDefault("http.addr", defaultHTTPAddr)

	viper.SetDefault("auth.token_ttl", defaultTokenTTL)
	viper.SetDefault("auth.provider_timeout", defaultProviderTimeout)

	viper.SetDefault("import.batch_size", defaultBatchSize)
	viper.SetDefault("import.timezone", defaultTimezone)

	viper.SetDefault("analytics.default_start", defaultWindowStart)
	viper.SetDefault("analytics.default_end", defaultWindowEnd)
}

// bindEnvKeys registers every config key with viper. AutomaticEnv only
// resolves keys viper already knows about, so keys without a default or
// config file entry (the secrets, notably) would otherwise never be read
// from the environment.
func bindEnvKeys() {
	keys := []string{
		"log.level",
		"log.json",
		"database.path",
		"http.addr",
		"auth.jwt_secret",
		"auth.token_ttl",
		"auth.provider_base_url",
		"auth.provider_secret",
		"auth.provider_timeout",
		"auth.staff_numbers",
		"import.batch_size",
		"import.timezone",
		"analytics.default_start",
		"analytics.default_end",
		"scheduler.group_stats_cron",
	}
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
}

// Location resolves the configured reference timezone.
func (c *ImportConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrConfiguration, c.Timezone, err)
	}
	return loc, nil
}

// Window resolves the default analytics range in loc: the start date at
// midnight through the last instant of the end date.
func (c *AnalyticsConfig) Window(loc *time.Location) (start, end time.Time, err error) {
	start, err = time.ParseInLocation("2006-01-02", c.DefaultStart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid default_start: %v", ErrConfiguration, err)
	}
	end, err = time.ParseInLocation("2006-01-02", c.DefaultEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid default_end: %v", ErrConfiguration, err)
	}
	end = end.Add(24*time.Hour - time.Nanosecond)
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: default window ends before it starts", ErrConfiguration)
	}
	return start, end, nil
}

// IsStaff reports whether the phone number is configured as staff.
func (c *AuthConfig) IsStaff(phoneNumber string) bool {
	for _, n := range c.StaffNumbers {
		if n == phoneNumber {
			return true
		}
	}
	return false
}
