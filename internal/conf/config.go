// config.go: settings struct and functions to load the notifyengine configuration.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NOTIFYENGINE"

// SkipLoadAnnotation marks CLI commands that run without Load.
const SkipLoadAnnotation = "skip-config-load"

// UserSettings identifies the user whose notifications are delivered.
type UserSettings struct {
	ID string `yaml:"id" mapstructure:"id"`
}

// ServiceSettings locates the notification service.
type ServiceSettings struct {
	WSURL     string        `yaml:"ws_url" mapstructure:"ws_url"`         // realtime channel endpoint
	APIURL    string        `yaml:"api_url" mapstructure:"api_url"`       // REST API root
	Token     string        `yaml:"token" mapstructure:"token"`           // bearer token, may reference ${ENV}
	TokenFile string        `yaml:"token_file" mapstructure:"token_file"` // read the token from this file instead
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`       // REST request timeout
}

// RealtimeSettings tunes the channel and its reconnect policy.
type RealtimeSettings struct {
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"` // cap on a single backoff delay
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	ReadLimit   int64         `yaml:"read_limit" mapstructure:"read_limit"`
	PongWait    time.Duration `yaml:"pong_wait" mapstructure:"pong_wait"`
	Buffer      int           `yaml:"buffer" mapstructure:"buffer"` // inbound frame queue length
}

// ToastSettings controls the visible toast stack.
type ToastSettings struct {
	MaxVisible int    `yaml:"max_visible" mapstructure:"max_visible"`
	Position   string `yaml:"position" mapstructure:"position"`
}

// EngineSettings tunes the engine.
type EngineSettings struct {
	CatchUpOnReconnect bool          `yaml:"catch_up_on_reconnect" mapstructure:"catch_up_on_reconnect"`
	MirrorTimeout      time.Duration `yaml:"mirror_timeout" mapstructure:"mirror_timeout"`
	DedupTTL           time.Duration `yaml:"dedup_ttl" mapstructure:"dedup_ttl"`
	MaxNotifications   int           `yaml:"max_notifications" mapstructure:"max_notifications"`
	Timezone           string        `yaml:"timezone" mapstructure:"timezone"` // for day grouping
}

// DesktopSettings configures desktop alerts sent through shoutrrr.
type DesktopSettings struct {
	Enabled         bool     `yaml:"enabled" mapstructure:"enabled"`
	URLs            []string `yaml:"urls" mapstructure:"urls"`
	Permission      string   `yaml:"permission" mapstructure:"permission"`
	AlertsPerMinute int      `yaml:"alerts_per_minute" mapstructure:"alerts_per_minute"`
}

// SoundSettings configures the audible cue.
type SoundSettings struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	MaxPerMinute int  `yaml:"max_per_minute" mapstructure:"max_per_minute"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN string `yaml:"sentry_dsn" mapstructure:"sentry_dsn"`
}

// DatabaseSettings selects the dev server store.
type DatabaseSettings struct {
	Type string `yaml:"type" mapstructure:"type"` // sqlite or mysql
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
}

// DevServerSettings configures the local notification service.
type DevServerSettings struct {
	Listen    string           `yaml:"listen" mapstructure:"listen"`
	Token     string           `yaml:"token" mapstructure:"token"` // required bearer token, empty disables auth
	TokenFile string           `yaml:"token_file" mapstructure:"token_file"`
	Database  DatabaseSettings `yaml:"database" mapstructure:"database"`
}

// Settings contains all configuration options for notifyengine.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	User      UserSettings         `yaml:"user" mapstructure:"user"`
	Service   ServiceSettings      `yaml:"service" mapstructure:"service"`
	Realtime  RealtimeSettings     `yaml:"realtime" mapstructure:"realtime"`
	Toasts    ToastSettings        `yaml:"toasts" mapstructure:"toasts"`
	Engine    EngineSettings       `yaml:"engine" mapstructure:"engine"`
	Desktop   DesktopSettings      `yaml:"desktop" mapstructure:"desktop"`
	Sound     SoundSettings        `yaml:"sound" mapstructure:"sound"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	DevServer DevServerSettings    `yaml:"devserver" mapstructure:"devserver"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the configuration file and NOTIFYENGINE_* environment
// variables, validates the result and stores it as the current settings.
// An empty configFile searches the default config paths; a missing file
// there is not an error.
func Load(configFile string) (*Settings, error) {
	v, err := initViper(configFile)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error validating settings: %w", err)).
			Component("config").
			Category(errors.CategoryValidation).
			Build()
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	if used := v.ConfigFileUsed(); used != "" {
		GetLogger().Debug("configuration loaded", logger.String("path", used))
	}
	return settings, nil
}

// initViper creates a viper instance with defaults, environment bindings and
// the configuration file.
func initViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return nil, errors.New(err).
			Component("config").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("config").
				Category(errors.CategoryConfiguration).
				Context("path", configFile).
				Build()
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, run on defaults
			return v, nil
		}
		return nil, errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return v, nil
}

// resolveSecrets replaces the configured tokens with their resolved values.
func resolveSecrets(s *Settings) error {
	var err error
	if s.Service.Token, err = secrets.Resolve(s.Service.TokenFile, s.Service.Token); err != nil {
		return errors.New(err).
			Component("config").
			Category(errors.CategoryConfiguration).
			Context("setting", "service.token").
			Build()
	}
	if s.DevServer.Token, err = secrets.Resolve(s.DevServer.TokenFile, s.DevServer.Token); err != nil {
		return errors.New(err).
			Component("config").
			Category(errors.CategoryConfiguration).
			Context("setting", "devserver.token").
			Build()
	}
	return nil
}

// GetSettings returns the current settings instance, nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfig returns the embedded default configuration file.
func DefaultConfig() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// WriteDefaultConfig writes the embedded default configuration to path,
// creating parent directories. An existing file is left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path).
			Component("config").
			Category(errors.CategoryConflict).
			Build()
	}

	data, err := DefaultConfig()
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}
