// Package config provides configuration management for the condition-check job.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Job         JobConfig         `mapstructure:"job" yaml:"job"`
	Segments    SegmentsConfig    `mapstructure:"segments" yaml:"segments"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Push        PushConfig        `mapstructure:"push" yaml:"push"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logging     logging.LogConfig `mapstructure:"logging" yaml:"logging"`
	Credentials Credentials       `mapstructure:"-" yaml:"credentials"` // Loaded separately
}

// JobConfig holds settings for one batch run.
type JobConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	QuoteTimeout    time.Duration `mapstructure:"quote_timeout" yaml:"quote_timeout"`
	PushTimeout     time.Duration `mapstructure:"push_timeout" yaml:"push_timeout"`
	QuoteRetries    int           `mapstructure:"quote_retries" yaml:"quote_retries"`
	QuoteRatePerSec float64       `mapstructure:"quote_rate_per_sec" yaml:"quote_rate_per_sec"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"`
	EnforceHours    bool          `mapstructure:"enforce_hours" yaml:"enforce_hours"`
}

// SegmentsConfig holds per-segment schedules.
type SegmentsConfig struct {
	Domestic SegmentConfig `mapstructure:"kor" yaml:"kor"`
	Foreign  SegmentConfig `mapstructure:"foreign" yaml:"foreign"`
}

// SegmentConfig describes when a segment may run.
type SegmentConfig struct {
	RunHour       int    `mapstructure:"run_hour" yaml:"run_hour"` // hour of day in Job.Timezone
	CalendarMIC   string `mapstructure:"calendar_mic" yaml:"calendar_mic"`
	CheckCalendar bool   `mapstructure:"check_calendar" yaml:"check_calendar"`
}

// DatabaseConfig selects and locates the relational store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"-"`
}

// PushConfig holds push-delivery endpoints and breaker settings.
type PushConfig struct {
	TokenURI         string        `mapstructure:"token_uri" yaml:"token_uri"`
	Scope            string        `mapstructure:"scope" yaml:"scope"`
	SendURLTemplate  string        `mapstructure:"send_url_template" yaml:"send_url_template"`
	Title            string        `mapstructure:"title" yaml:"title"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
}

// ServerConfig holds the HTTP trigger settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Credentials holds the push service-account credentials.
type Credentials struct {
	ProjectID   string `mapstructure:"project_id" yaml:"project_id"`
	ClientEmail string `mapstructure:"client_email" yaml:"client_email"`
	PrivateKey  string `mapstructure:"private_key" yaml:"-"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stockwatch"
	}
	return filepath.Join(home, ".config", "stockwatch")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// .env files are optional; real environment variables win over them.
	for _, path := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	logDefaults := logging.DefaultLogConfig()

	v.SetDefault("job.workers", 8)
	v.SetDefault("job.quote_timeout", 5*time.Second)
	v.SetDefault("job.push_timeout", 5*time.Second)
	v.SetDefault("job.quote_retries", 2)
	v.SetDefault("job.quote_rate_per_sec", 10.0)
	v.SetDefault("job.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("job.timezone", "Asia/Seoul")
	v.SetDefault("job.enforce_hours", true)

	v.SetDefault("segments.kor.run_hour", 9)
	v.SetDefault("segments.kor.calendar_mic", "xkrx")
	v.SetDefault("segments.kor.check_calendar", true)
	v.SetDefault("segments.foreign.run_hour", 23)
	v.SetDefault("segments.foreign.calendar_mic", "xnys")
	v.SetDefault("segments.foreign.check_calendar", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "stockwatch.db"))

	v.SetDefault("push.token_uri", "https://oauth2.googleapis.com/token")
	v.SetDefault("push.scope", "https://www.googleapis.com/auth/firebase.messaging")
	v.SetDefault("push.send_url_template", "https://fcm.googleapis.com/v1/projects/%s/messages:send")
	v.SetDefault("push.title", "Stock alert")
	v.SetDefault("push.failure_threshold", 5)
	v.SetDefault("push.breaker_timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

// credentials.toml is optional: deployments usually pass FIREBASE_* variables.
func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return v.UnmarshalKey("firebase", creds)
}

func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Driver = "postgres"
	}
	if v := os.Getenv("STOCKWATCH_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("STOCKWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Push credentials
	if v := os.Getenv("FIREBASE_PROJECT_ID"); v != "" {
		cfg.Credentials.ProjectID = v
	}
	if v := os.Getenv("FIREBASE_CLIENT_EMAIL"); v != "" {
		cfg.Credentials.ClientEmail = v
	}
	if v := os.Getenv("FIREBASE_PRIVATE_KEY"); v != "" {
		cfg.Credentials.PrivateKey = v
	}
	cfg.Credentials.PrivateKey = NormalizePrivateKey(cfg.Credentials.PrivateKey)

	// Logging
	if v := os.Getenv("STOCKWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// NormalizePrivateKey restores newlines in a PEM stored with literal \n escapes.
func NormalizePrivateKey(pem string) string {
	return strings.ReplaceAll(pem, `\n`, "\n")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Job.Workers < 1 {
		return fmt.Errorf("%w: job.workers must be >= 1", apperrors.ErrConfigInvalid)
	}
	if c.Job.QuoteTimeout <= 0 || c.Job.PushTimeout <= 0 {
		return fmt.Errorf("%w: job.quote_timeout and job.push_timeout must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Job.QuoteRetries < 0 {
		return fmt.Errorf("%w: job.quote_retries cannot be negative", apperrors.ErrConfigInvalid)
	}
	if c.Job.QuoteRatePerSec < 0 {
		return fmt.Errorf("%w: job.quote_rate_per_sec cannot be negative", apperrors.ErrConfigInvalid)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	for name, seg := range map[string]SegmentConfig{"kor": c.Segments.Domestic, "foreign": c.Segments.Foreign} {
		if seg.RunHour < 0 || seg.RunHour > 23 {
			return fmt.Errorf("%w: segments.%s.run_hour must be between 0 and 23", apperrors.ErrConfigInvalid, name)
		}
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path cannot be empty for sqlite", apperrors.ErrConfigInvalid)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn (or DATABASE_URL) is required for postgres", apperrors.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: database.driver %q (must be sqlite or postgres)", apperrors.ErrConfigInvalid, c.Database.Driver)
	}

	if c.Push.FailureThreshold < 1 {
		return fmt.Errorf("%w: push.failure_threshold must be >= 1", apperrors.ErrConfigInvalid)
	}

	return nil
}

// RequirePushCredentials fails when the service account cannot be used. A
// missing credential silently disables every alert, so it is always fatal.
func (c *Config) RequirePushCredentials() error {
	missing := []string{}
	if c.Credentials.ProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}
	if c.Credentials.ClientEmail == "" {
		missing = append(missing, "FIREBASE_CLIENT_EMAIL")
	}
	if c.Credentials.PrivateKey == "" {
		missing = append(missing, "FIREBASE_PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return apperrors.NewConfigError("credentials", "missing "+strings.Join(missing, ", "), apperrors.ErrMissingCredentials)
	}
	return nil
}

// Location loads the job timezone. An empty name is rejected rather than
// read as UTC.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Job.Timezone) == "" {
		return nil, fmt.Errorf("%w: job.timezone is empty", apperrors.ErrConfigInvalid)
	}
	loc, err := time.LoadLocation(c.Job.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: job.timezone %q: %v", apperrors.ErrConfigInvalid, c.Job.Timezone, err)
	}
	return loc, nil
}

// SendURL returns the push send endpoint for the configured project.
func (c *Config) SendURL() string {
	if strings.Contains(c.Push.SendURLTemplate, "%s") {
		return fmt.Sprintf(c.Push.SendURLTemplate, c.Credentials.ProjectID)
	}
	return c.Push.SendURLTemplate
}
