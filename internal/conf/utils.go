// utils.go: configuration path helpers
package conf

import (
	"os"
	"path/filepath"
	"time"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "notifyengine"))
	}
	return append(paths, "/etc/notifyengine")
}

// DefaultConfigFile is where `config init` writes when no path is given.
func DefaultConfigFile() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "notifyengine", "config.yaml")
	}
	return "config.yaml"
}

// LoadLocation resolves a timezone name. Empty and "Local" mean the host zone.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
