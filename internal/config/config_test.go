package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "stockwatch/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "STOCKWATCH_DB_DRIVER", "STOCKWATCH_DB_PATH",
		"FIREBASE_PROJECT_ID", "FIREBASE_CLIENT_EMAIL", "FIREBASE_PRIVATE_KEY",
		"STOCKWATCH_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadCreatesTemplateWhenMissing(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "created template") {
		t.Fatalf("expected template creation error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "config.toml")); statErr != nil {
		t.Fatalf("template not written: %v", statErr)
	}

	// The written template must load cleanly on the next run.
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("loading template: %v", err)
	}
	if cfg.Segments.Domestic.RunHour != 9 || cfg.Segments.Foreign.RunHour != 23 {
		t.Errorf("unexpected run hours: %+v", cfg.Segments)
	}
	if cfg.Job.QuoteTimeout != 5*time.Second {
		t.Errorf("quote timeout = %s, want 5s", cfg.Job.QuoteTimeout)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", "[job]\nworkers = 3\n")
	writeFile(t, dir, "credentials.toml", "[firebase]\nproject_id = \"file-project\"\nclient_email = \"svc@example.iam\"\nprivate_key = \"-----BEGIN KEY-----\\\\nabc\\\\n-----END KEY-----\"\n")

	t.Setenv("FIREBASE_PROJECT_ID", "env-project")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/stockwatch?sslmode=disable")
	t.Setenv("STOCKWATCH_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Job.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Job.Workers)
	}
	if cfg.Push.TokenURI != "https://oauth2.googleapis.com/token" {
		t.Errorf("token uri default not applied: %q", cfg.Push.TokenURI)
	}
	if cfg.Credentials.ProjectID != "env-project" {
		t.Errorf("project id = %q, want env override", cfg.Credentials.ProjectID)
	}
	if cfg.Credentials.ClientEmail != "svc@example.iam" {
		t.Errorf("client email = %q", cfg.Credentials.ClientEmail)
	}
	if !strings.Contains(cfg.Credentials.PrivateKey, "\nabc\n") {
		t.Errorf("private key newlines not restored: %q", cfg.Credentials.PrivateKey)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres from DATABASE_URL", cfg.Database.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if got := cfg.SendURL(); got != "https://fcm.googleapis.com/v1/projects/env-project/messages:send" {
		t.Errorf("SendURL = %q", got)
	}
	if err := cfg.RequirePushCredentials(); err != nil {
		t.Errorf("RequirePushCredentials: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Job: JobConfig{
				Workers:      4,
				QuoteTimeout: time.Second,
				PushTimeout:  time.Second,
				Timezone:     "Asia/Seoul",
			},
			Segments: SegmentsConfig{
				Domestic: SegmentConfig{RunHour: 9},
				Foreign:  SegmentConfig{RunHour: 23},
			},
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Push:     PushConfig{FailureThreshold: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.Job.Workers = 0 }, true},
		{"bad timezone", func(c *Config) { c.Job.Timezone = "Mars/Olympus" }, true},
		{"misspelled timezone", func(c *Config) { c.Job.Timezone = "Asia/Seol" }, true},
		{"empty timezone", func(c *Config) { c.Job.Timezone = "" }, true},
		{"other named zone", func(c *Config) { c.Job.Timezone = "America/New_York" }, false},
		{"run hour out of range", func(c *Config) { c.Segments.Foreign.RunHour = 24 }, true},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"negative retries", func(c *Config) { c.Job.QuoteRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperrors.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestRequirePushCredentialsIsFatal(t *testing.T) {
	cfg := &Config{Credentials: Credentials{ProjectID: "p"}}

	err := cfg.RequirePushCredentials()
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !errors.Is(err, apperrors.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if !apperrors.IsFatal(err) {
		t.Error("missing credentials must be fatal")
	}
	if !strings.Contains(err.Error(), "FIREBASE_PRIVATE_KEY") {
		t.Errorf("error should name the missing variable: %v", err)
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Job: JobConfig{Timezone: "Asia/Seoul"}}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if _, offset := time.Date(2025, 10, 15, 0, 0, 0, 0, loc).Zone(); offset != 9*60*60 {
		t.Errorf("Asia/Seoul offset = %d", offset)
	}

	cfg.Job.Timezone = "Asia/Seol"
	if _, err := cfg.Location(); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("misspelled zone should be ErrConfigInvalid, got %v", err)
	}
}
