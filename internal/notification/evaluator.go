package notification

import (
	"time"
)

// Toast durations by priority.
const (
	DefaultToastDuration = 5 * time.Second
	HighToastDuration    = 8 * time.Second
)

// SuppressReason names the rule that decided a notification's fate.
type SuppressReason string

const (
	ReasonNone             SuppressReason = ""
	ReasonInAppDisabled    SuppressReason = "in_app_disabled"
	ReasonQuietHours       SuppressReason = "quiet_hours"
	ReasonWeekendPause     SuppressReason = "weekend_pause"
	ReasonCategoryDisabled SuppressReason = "category_disabled"
)

// Decision is the outcome of evaluating one notification.
type Decision struct {
	Surface bool
	// Reason is set when Surface is false.
	Reason SuppressReason
	// Sound and Desktop are only ever true for surfaced notifications.
	Sound   bool
	Desktop bool
	// ToastDuration is a function of priority alone; 0 means persistent.
	ToastDuration time.Duration
}

// Evaluate applies the preference rules in order, first match wins:
// in-app disabled, quiet hours, weekend pause, category toggle. Schedule
// rules are evaluated in the preferences' timezone; an unloadable timezone
// falls back to UTC. A nil preference set evaluates as DefaultPreferences.
func Evaluate(n *Notification, prefs *Preferences, now time.Time) Decision {
	if prefs == nil {
		prefs = DefaultPreferences()
	}

	d := Decision{ToastDuration: ToastDurationFor(n.Priority)}
	d.Surface, d.Reason = surface(n, prefs, now)
	if !d.Surface {
		return d
	}

	d.Sound = prefs.InApp.Sound
	d.Desktop = prefs.InApp.Desktop && prefs.Push.Enabled && prefs.Push.Allows(n.Category)
	return d
}

// ShouldSurface reports whether n should be shown in-app under prefs at now.
func ShouldSurface(n *Notification, prefs *Preferences, now time.Time) bool {
	return Evaluate(n, prefs, now).Surface
}

func surface(n *Notification, prefs *Preferences, now time.Time) (bool, SuppressReason) {
	if !prefs.InApp.Enabled {
		return false, ReasonInAppDisabled
	}

	loc, err := prefs.Schedule.Location()
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	urgent := n.Priority.IsUrgent()

	if prefs.Schedule.QuietHours.Enabled && prefs.Schedule.QuietHours.Contains(local) {
		if urgent {
			return true, ReasonNone
		}
		return false, ReasonQuietHours
	}

	if prefs.Schedule.WeekendPause && isWeekend(local) {
		if urgent {
			return true, ReasonNone
		}
		return false, ReasonWeekendPause
	}

	if !prefs.InApp.Allows(n.Category) {
		return false, ReasonCategoryDisabled
	}
	return true, ReasonNone
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ToastDurationFor maps priority to toast lifetime: urgent toasts persist
// until dismissed, high priority toasts stay longer than the default.
func ToastDurationFor(p Priority) time.Duration {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return HighToastDuration
	default:
		return DefaultToastDuration
	}
}
