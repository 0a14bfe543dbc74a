package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Thesis Tracker Configuration

[tracker]
# Minimum cadence between reconciliation passes (e.g., "5s", "1m")
reconcile_interval = "5s"
# Distance-to-stop threshold (percent) for the needs-review overlay
stop_proximity_percent = 10.0
# Drawdown-from-entry threshold (percent) for the needs-review overlay
downside_percent = 20.0

[feed]
# Feed transport: "stream" (websocket) or "poll" (HTTP snapshot)
mode = "poll"
# Websocket endpoint for streaming quotes
stream_url = ""
# HTTP endpoint for polled quote snapshots
poll_url = ""
# Polling cadence when mode is "poll"
poll_interval = "15s"
# Maximum reconnect attempts for the stream transport
max_retries = 5

[store]
# Base URL of the thesis store API
base_url = ""
# Request timeout
timeout = "15s"

[lookup]
# Base URL of the price lookup service
base_url = ""
# Request timeout
timeout = "10s"

[ui]
# Enable colored output
color_enabled = true
# Date format
date_format = "02-Jan-2006"
# Time format
time_format = "15:04:05"

[logging]
level = "info"
console = true
file = true
`

const credentialsTemplate = `# Thesis Tracker Credentials
# WARNING: Keep this file secure! Do not commit to version control.

api_token = ""
`

// Init writes template config and credentials files into configDir,
// leaving any existing files untouched.
func Init(configDir string) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := createTemplateConfig(configDir, "config"); err != nil {
		return err
	}
	return createTemplateCredentials(configDir)
}

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
