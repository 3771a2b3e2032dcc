package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Spread Monitor Configuration

[upstream]
# Trading backend base URL
base_url = "http://localhost:8080"
# Endpoint paths; {id} is the strategy id, {key} the exit record key
chain_path = "/api/optionchain"
strategies_path = "/api/strategies"
orders_path = "/api/strategies/{id}/orders"
exit_fill_path = "/api/orderdetails/{key}/exit"
# Per-request timeout
timeout = "5s"
# Request rate limit (requests per second) and burst
rate_per_sec = 20.0
burst = 10

[upstream.breaker]
# Requests allowed while half-open
max_requests = 1
# Window after which closed-state counts reset
interval = "1m"
# Open duration before probing again
timeout = "10s"
# Trip when this share of at least min_requests requests failed
failure_ratio = 0.6
min_requests = 5

[polling]
quote_interval = "1s"
orders_interval = "1s"
strategies_interval = "30s"
spread_interval = "1s"
# Concurrent exit-fill lookups per order refresh
exit_fill_concurrency = 4

[backoff]
# Stretch intervals after consecutive failures (false keeps the fixed interval)
enabled = false
factor = 2.0
max_delay = "30s"

[pricing]
# Default pricing for orders without their own: "average" or "depth"
method = "average"
# Levels averaged (1-5)
average_depth = 1
# Level used by the depth method (1-5)
depth_index = 1

[source]
# Option chain source: "backend" or "kite"
kind = "backend"

[source.kite]
exchange = "NFO"
underlyings = ["NIFTY"]
# Expiries to quote (YYYY-MM-DD); empty quotes every listed expiry
expiries = []
instruments_ttl = "6h"

[history]
# Persist periodic spread and PnL snapshots to SQLite
enabled = false
interval = "1m"
# Snapshots older than this are pruned on startup
retention = "168h"

[api]
# Serve the read-only results API
enabled = false
addr = "127.0.0.1:8090"

[log]
# Log level: debug, info, warn, error
level = "info"
console = true
file = false
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Spread Monitor Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[upstream]
token = ""

[kite]
api_key = ""
access_token = ""
`

// createTemplateConfig writes the config template and returns its path.
func createTemplateConfig(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}

	return path, nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}

// TemplatePath returns where config.toml lives in configDir.
func TemplatePath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}
