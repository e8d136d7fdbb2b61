package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# stockwatch configuration

[job]
# Concurrent condition evaluations per run
workers = 8
# Per-call timeouts
quote_timeout = "5s"
push_timeout = "5s"
# Extra quote attempts within one run (0 = rely on the next scheduled run)
quote_retries = 2
# Quote requests per second across all workers (0 = unlimited)
quote_rate_per_sec = 10.0
# Timezone used for segment hours and window expiry dates
timezone = "Asia/Seoul"
# Skip runs outside the segment's hour
enforce_hours = true

[segments.kor]
run_hour = 9
calendar_mic = "xkrx"
check_calendar = true

[segments.foreign]
run_hour = 23
calendar_mic = "xnys"
check_calendar = true

[database]
# sqlite or postgres (DATABASE_URL selects postgres)
driver = "sqlite"
path = "stockwatch.db"

[push]
token_uri = "https://oauth2.googleapis.com/token"
scope = "https://www.googleapis.com/auth/firebase.messaging"
send_url_template = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
title = "Stock alert"
# Consecutive delivery failures before push is paused for breaker_timeout
failure_threshold = 5
breaker_timeout = "30s"

[server]
addr = ":8080"

[logging]
level = "info"
console = true
json = false
file = false
`

const credentialsTemplate = `# stockwatch credentials
# Environment variables FIREBASE_PROJECT_ID, FIREBASE_CLIENT_EMAIL and
# FIREBASE_PRIVATE_KEY override these values.

[firebase]
project_id = ""
client_email = ""
private_key = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

// WriteCredentialsTemplate writes credentials.toml unless it already exists.
func WriteCredentialsTemplate(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return "", fmt.Errorf("writing credentials template: %w", err)
	}

	return path, nil
}
