// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly bound environment variables. Other
// keys are still reachable through AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "NOTIFYENGINE_DEBUG", validateEnvBool},
		{"user.id", "NOTIFYENGINE_USER_ID", nil},

		// Service endpoints and credentials
		{"service.ws_url", "NOTIFYENGINE_SERVICE_WS_URL", validateEnvURL("ws", "wss")},
		{"service.api_url", "NOTIFYENGINE_SERVICE_API_URL", validateEnvURL("http", "https")},
		{"service.token", "NOTIFYENGINE_SERVICE_TOKEN", nil},
		{"service.token_file", "NOTIFYENGINE_SERVICE_TOKEN_FILE", nil},
		{"service.timeout", "NOTIFYENGINE_SERVICE_TIMEOUT", validateEnvDuration},

		{"realtime.base_delay", "NOTIFYENGINE_REALTIME_BASE_DELAY", validateEnvDuration},
		{"realtime.max_delay", "NOTIFYENGINE_REALTIME_MAX_DELAY", validateEnvDuration},
		{"realtime.max_attempts", "NOTIFYENGINE_REALTIME_MAX_ATTEMPTS", validateEnvPositiveInt},

		{"toasts.position", "NOTIFYENGINE_TOASTS_POSITION", nil},
		{"engine.timezone", "NOTIFYENGINE_ENGINE_TIMEZONE", nil},

		{"metrics.enabled", "NOTIFYENGINE_METRICS_ENABLED", validateEnvBool},
		{"telemetry.sentry_dsn", "NOTIFYENGINE_SENTRY_DSN", nil},
		{"devserver.token", "NOTIFYENGINE_DEVSERVER_TOKEN", nil},
		{"devserver.database.dsn", "NOTIFYENGINE_DEVSERVER_DSN", nil},
	}
}

// configureEnvironmentVariables enables NOTIFYENGINE_* overrides for every
// key and binds the explicit variables.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

// validateEnvURL returns a validator accepting absolute URLs with one of schemes.
func validateEnvURL(schemes ...string) func(string) error {
	return func(value string) error {
		return checkURL(value, schemes...)
	}
}

func checkURL(value string, schemes ...string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return fmt.Errorf("URL %q has no host", value)
			}
			return nil
		}
	}
	return fmt.Errorf("URL scheme must be one of %s, got %q", strings.Join(schemes, ", "), u.Scheme)
}
