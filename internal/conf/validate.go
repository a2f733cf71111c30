// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/readerline/notifyengine/internal/desktop"
	"github.com/readerline/notifyengine/internal/notification"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateServiceSettings,
		validateRealtimeSettings,
		validateToastSettings,
		validateEngineSettings,
		validateDesktopSettings,
		validateSoundSettings,
		validateMetricsSettings,
		validateDevServerSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServiceSettings(s *Settings) []string {
	var errs []string
	if err := checkURL(s.Service.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Sprintf("service.ws_url: %v", err))
	}
	if err := checkURL(s.Service.APIURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Sprintf("service.api_url: %v", err))
	}
	if s.Service.Timeout <= 0 {
		errs = append(errs, "service.timeout must be positive")
	}
	return errs
}

func validateRealtimeSettings(s *Settings) []string {
	var errs []string
	r := s.Realtime
	if r.BaseDelay <= 0 {
		errs = append(errs, "realtime.base_delay must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		errs = append(errs, fmt.Sprintf("realtime.max_delay must be at least base_delay (%v), got %v", r.BaseDelay, r.MaxDelay))
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("realtime.max_attempts must be at least 1, got %d", r.MaxAttempts))
	}
	if r.ReadLimit < 0 {
		errs = append(errs, "realtime.read_limit must not be negative")
	}
	if r.PongWait < 0 {
		errs = append(errs, "realtime.pong_wait must not be negative")
	}
	if r.Buffer < 0 {
		errs = append(errs, "realtime.buffer must not be negative")
	}
	return errs
}

func validateToastSettings(s *Settings) []string {
	var errs []string
	if s.Toasts.MaxVisible < 1 {
		errs = append(errs, fmt.Sprintf("toasts.max_visible must be at least 1, got %d", s.Toasts.MaxVisible))
	}
	if !notification.Position(s.Toasts.Position).Valid() {
		errs = append(errs, fmt.Sprintf("toasts.position %q is not a valid anchor", s.Toasts.Position))
	}
	return errs
}

func validateEngineSettings(s *Settings) []string {
	var errs []string
	e := s.Engine
	if e.MirrorTimeout <= 0 {
		errs = append(errs, "engine.mirror_timeout must be positive")
	}
	if e.DedupTTL <= 0 {
		errs = append(errs, "engine.dedup_ttl must be positive")
	}
	if e.MaxNotifications < 0 {
		errs = append(errs, "engine.max_notifications must not be negative")
	}
	if _, err := LoadLocation(e.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("engine.timezone: %v", err))
	}
	return errs
}

func validateDesktopSettings(s *Settings) []string {
	var errs []string
	if _, ok := desktop.ParsePermission(s.Desktop.Permission); !ok {
		errs = append(errs, fmt.Sprintf("desktop.permission %q must be default, granted or denied", s.Desktop.Permission))
	}
	if s.Desktop.AlertsPerMinute < 0 {
		errs = append(errs, "desktop.alerts_per_minute must not be negative")
	}
	if s.Desktop.Enabled && len(s.Desktop.URLs) == 0 {
		errs = append(errs, "desktop.urls must list at least one service when desktop alerts are enabled")
	}
	return errs
}

func validateSoundSettings(s *Settings) []string {
	if s.Sound.MaxPerMinute < 0 {
		return []string{"sound.max_per_minute must not be negative"}
	}
	return nil
}

func validateMetricsSettings(s *Settings) []string {
	if !s.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
		return []string{fmt.Sprintf("metrics.listen: %v", err)}
	}
	return nil
}

func validateDevServerSettings(s *Settings) []string {
	var errs []string
	if _, _, err := net.SplitHostPort(s.DevServer.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("devserver.listen: %v", err))
	}
	switch strings.ToLower(s.DevServer.Database.Type) {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("devserver.database.type %q must be sqlite or mysql", s.DevServer.Database.Type))
	}
	if s.DevServer.Database.DSN == "" {
		errs = append(errs, "devserver.database.dsn is required")
	}
	return errs
}
