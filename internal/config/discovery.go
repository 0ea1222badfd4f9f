package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfig names the environment variable consulted by Discover.
const EnvConfig = "CLIRELAY_CONFIG"

// Discover finds the configuration file by checking standard locations.
// Priority order: explicit (--config flag), $CLIRELAY_CONFIG,
// ~/.config/clirelay/config.yaml, /etc/clirelay/config.yaml, ./config.yaml.
// An explicit path is returned as-is; Load reports it if missing.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	candidates := discoveryCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: %s)", strings.Join(candidates, ", "))
}

func discoveryCandidates() []string {
	var out []string
	if p := os.Getenv(EnvConfig); p != "" {
		out = append(out, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "clirelay", "config.yaml"))
	}
	return append(out, "/etc/clirelay/config.yaml", "./config.yaml")
}
