// defaults.go: default values for every configuration key
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for the configuration. They
// mirror config.yaml so running without a file behaves like the shipped one.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("user.id", "")

	// Notification service
	v.SetDefault("service.ws_url", "ws://localhost:8085/ws/notifications")
	v.SetDefault("service.api_url", "http://localhost:8085/api")
	v.SetDefault("service.token", "")
	v.SetDefault("service.token_file", "")
	v.SetDefault("service.timeout", 15*time.Second)

	// Realtime channel
	v.SetDefault("realtime.base_delay", time.Second)
	v.SetDefault("realtime.max_delay", 5*time.Minute)
	v.SetDefault("realtime.max_attempts", 5)
	v.SetDefault("realtime.read_limit", 64*1024)
	v.SetDefault("realtime.pong_wait", 60*time.Second)
	v.SetDefault("realtime.buffer", 64)

	v.SetDefault("toasts.max_visible", 5)
	v.SetDefault("toasts.position", "top-right")

	v.SetDefault("engine.catch_up_on_reconnect", true)
	v.SetDefault("engine.mirror_timeout", 10*time.Second)
	v.SetDefault("engine.dedup_ttl", 10*time.Minute)
	v.SetDefault("engine.max_notifications", 1000)
	v.SetDefault("engine.timezone", "Local")

	v.SetDefault("desktop.enabled", false)
	v.SetDefault("desktop.urls", []string{})
	v.SetDefault("desktop.permission", "default")
	v.SetDefault("desktop.alerts_per_minute", 20)

	v.SetDefault("sound.enabled", true)
	v.SetDefault("sound.max_per_minute", 10)

	// Logging
	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/notifyengine.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "localhost:9090")

	v.SetDefault("telemetry.sentry_dsn", "")

	// Development notification service
	v.SetDefault("devserver.listen", "localhost:8085")
	v.SetDefault("devserver.token", "")
	v.SetDefault("devserver.token_file", "")
	v.SetDefault("devserver.database.type", "sqlite")
	v.SetDefault("devserver.database.dsn", "notifyengine-dev.db")
}
