// Package config resolves runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config is everything cmd/hub needs to wire the daemon.
type Config struct {
	// Addr is the admin API listen address.
	Addr string
	// DBPath is the sqlite file backing the secret store.
	DBPath string
	// Region selects the Anypoint control plane for new logins.
	Region string
	// RegionsFile optionally extends the built-in region catalog (YAML).
	RegionsFile string
	// CallbackPort is the loopback OAuth redirect port; must match the
	// platform-side OAuth app registration.
	CallbackPort int
	// AdminKey overrides the generated admin API key when set.
	AdminKey string
}

// Load reads the configuration from the environment, falling back to local
// development defaults.
func Load() Config {
	cfg := Config{
		Addr:        getenv("HUB_ADDR", "127.0.0.1:8085"),
		DBPath:      getenv("HUB_DB", "hub.db"),
		Region:      getenv("ANYPOINT_REGION", "us"),
		RegionsFile: os.Getenv("HUB_REGIONS_FILE"),
		AdminKey:    os.Getenv("HUB_ADMIN_KEY"),
	}

	cfg.CallbackPort = 0
	if raw := os.Getenv("ANYPOINT_CALLBACK_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.CallbackPort = port
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
