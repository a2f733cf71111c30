package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/readerline/notifyengine/internal/errors"
)

// ErrInvalidPreferences marks a preference payload that was rejected.
var ErrInvalidPreferences = errors.Newf("invalid notification preferences").
	Component("notification").
	Category(errors.CategoryPreferences).
	Build()

// CategoryToggles holds one opt-in flag per category.
type CategoryToggles struct {
	SessionReminders bool `json:"sessionReminders" yaml:"sessionReminders"`
	Messages         bool `json:"messages" yaml:"messages"`
	PaymentUpdates   bool `json:"paymentUpdates" yaml:"paymentUpdates"`
	Reviews          bool `json:"reviews" yaml:"reviews"`
	Favorites        bool `json:"favorites" yaml:"favorites"`
	Purchases        bool `json:"purchases" yaml:"purchases"`
	SystemUpdates    bool `json:"systemUpdates" yaml:"systemUpdates"`
	Promotions       bool `json:"promotions" yaml:"promotions"`
}

// toggle returns a pointer to the flag for c. Unknown categories use the
// system flag.
func (t *CategoryToggles) toggle(c Category) *bool {
	switch c {
	case CategorySessionReminder:
		return &t.SessionReminders
	case CategoryMessage:
		return &t.Messages
	case CategoryPayment:
		return &t.PaymentUpdates
	case CategoryReview:
		return &t.Reviews
	case CategoryFavorite:
		return &t.Favorites
	case CategoryPurchase:
		return &t.Purchases
	case CategoryPromotion:
		return &t.Promotions
	default:
		return &t.SystemUpdates
	}
}

// Allows reports whether category c is opted in.
func (t CategoryToggles) Allows(c Category) bool {
	return *t.toggle(c)
}

// Set changes the flag for category c.
func (t *CategoryToggles) Set(c Category, enabled bool) {
	*t.toggle(c) = enabled
}

func allToggles(enabled bool) CategoryToggles {
	return CategoryToggles{
		SessionReminders: enabled,
		Messages:         enabled,
		PaymentUpdates:   enabled,
		Reviews:          enabled,
		Favorites:        enabled,
		Purchases:        enabled,
		SystemUpdates:    enabled,
		Promotions:       enabled,
	}
}

// ChannelPreferences configures one delivery channel.
type ChannelPreferences struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	CategoryToggles `yaml:",inline"`
}

// InAppPreferences adds alert cues to the in-app channel.
type InAppPreferences struct {
	ChannelPreferences `yaml:",inline"`
	Sound              bool `json:"sound" yaml:"sound"`
	Desktop            bool `json:"desktop" yaml:"desktop"`
}

// TimeOfDay is a wall-clock time without a date, encoded as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24 hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// QuietHours is a daily window [Start, End) during which only urgent
// notifications surface. Start after End wraps past midnight.
type QuietHours struct {
	Enabled bool      `json:"enabled" yaml:"enabled"`
	Start   TimeOfDay `json:"start" yaml:"start"`
	End     TimeOfDay `json:"end" yaml:"end"`
}

// Contains reports whether the wall-clock time of t falls in the window.
// A window with Start == End is empty.
func (q QuietHours) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	start, end := q.Start.Minutes(), q.End.Minutes()
	switch {
	case start < end:
		return minute >= start && minute < end
	case start > end:
		return minute >= start || minute < end
	default:
		return false
	}
}

// Schedule holds time-based suppression rules.
type Schedule struct {
	QuietHours   QuietHours `json:"quietHours" yaml:"quietHours"`
	WeekendPause bool       `json:"weekendPause" yaml:"weekendPause"`
	// Timezone is an IANA name; schedule rules are evaluated in it.
	Timezone string `json:"timezone" yaml:"timezone"`
}

// Location resolves the schedule timezone; empty means UTC.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Preferences is the full delivery preference set for one user.
type Preferences struct {
	Email    ChannelPreferences `json:"email" yaml:"email"`
	Push     ChannelPreferences `json:"push" yaml:"push"`
	InApp    InAppPreferences   `json:"inApp" yaml:"inApp"`
	Schedule Schedule           `json:"schedule" yaml:"schedule"`
}

// DefaultPreferences enables every channel and category except email
// promotions. Quiet hours are configured for 22:00-07:00 but disabled.
func DefaultPreferences() *Preferences {
	email := ChannelPreferences{Enabled: true, CategoryToggles: allToggles(true)}
	email.Promotions = false

	return &Preferences{
		Email: email,
		Push:  ChannelPreferences{Enabled: true, CategoryToggles: allToggles(true)},
		InApp: InAppPreferences{
			ChannelPreferences: ChannelPreferences{Enabled: true, CategoryToggles: allToggles(true)},
			Sound:              true,
			Desktop:            true,
		},
		Schedule: Schedule{
			QuietHours: QuietHours{
				Enabled: false,
				Start:   TimeOfDay{Hour: 22},
				End:     TimeOfDay{Hour: 7},
			},
			Timezone: "UTC",
		},
	}
}

// Clone returns a copy; Preferences holds no reference types.
func (p *Preferences) Clone() *Preferences {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Validate checks fields that decoding cannot.
func (p *Preferences) Validate() error {
	if _, err := p.Schedule.Location(); err != nil {
		return errors.Join(ErrInvalidPreferences, fmt.Errorf("unknown timezone %q: %w", p.Schedule.Timezone, err))
	}
	return nil
}

// Wire DTOs with pointer fields so absent keys can be told apart from false.

type wireToggles struct {
	SessionReminders *bool `json:"sessionReminders"`
	Messages         *bool `json:"messages"`
	PaymentUpdates   *bool `json:"paymentUpdates"`
	Reviews          *bool `json:"reviews"`
	Favorites        *bool `json:"favorites"`
	Purchases        *bool `json:"purchases"`
	SystemUpdates    *bool `json:"systemUpdates"`
	Promotions       *bool `json:"promotions"`
}

type wireChannel struct {
	Enabled *bool `json:"enabled"`
	wireToggles
	Sound   *bool `json:"sound"`
	Desktop *bool `json:"desktop"`
}

type wireQuietHours struct {
	Enabled *bool   `json:"enabled"`
	Start   *string `json:"start"`
	End     *string `json:"end"`
}

type wireSchedule struct {
	QuietHours   *wireQuietHours `json:"quietHours"`
	WeekendPause *bool           `json:"weekendPause"`
	Timezone     *string         `json:"timezone"`
}

type wirePreferences struct {
	Email    *wireChannel  `json:"email"`
	Push     *wireChannel  `json:"push"`
	InApp    *wireChannel  `json:"inApp"`
	Schedule *wireSchedule `json:"schedule"`
}

// DecodePreferences parses a preference payload strictly. Every channel with
// its enabled flag and all category flags, and the schedule with quiet hours,
// weekend pause and timezone must be present. The in-app sound and desktop
// flags are optional and default to false.
func DecodePreferences(data []byte) (*Preferences, error) {
	var w wirePreferences
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Join(ErrInvalidPreferences, err)
	}

	email, err := w.Email.resolve("email")
	if err != nil {
		return nil, err
	}
	push, err := w.Push.resolve("push")
	if err != nil {
		return nil, err
	}
	inApp, err := w.InApp.resolve("inApp")
	if err != nil {
		return nil, err
	}
	schedule, err := w.Schedule.resolve()
	if err != nil {
		return nil, err
	}

	prefs := &Preferences{
		Email:    email,
		Push:     push,
		InApp:    InAppPreferences{ChannelPreferences: inApp},
		Schedule: schedule,
	}
	if w.InApp.Sound != nil {
		prefs.InApp.Sound = *w.InApp.Sound
	}
	if w.InApp.Desktop != nil {
		prefs.InApp.Desktop = *w.InApp.Desktop
	}

	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	return prefs, nil
}

func missingField(path string) error {
	return errors.Join(ErrInvalidPreferences, fmt.Errorf("missing required field %s", path))
}

func (w *wireChannel) resolve(name string) (ChannelPreferences, error) {
	if w == nil {
		return ChannelPreferences{}, missingField(name)
	}
	if w.Enabled == nil {
		return ChannelPreferences{}, missingField(name + ".enabled")
	}

	out := ChannelPreferences{Enabled: *w.Enabled}
	fields := []struct {
		key string
		src *bool
		dst *bool
	}{
		{"sessionReminders", w.SessionReminders, &out.SessionReminders},
		{"messages", w.Messages, &out.Messages},
		{"paymentUpdates", w.PaymentUpdates, &out.PaymentUpdates},
		{"reviews", w.Reviews, &out.Reviews},
		{"favorites", w.Favorites, &out.Favorites},
		{"purchases", w.Purchases, &out.Purchases},
		{"systemUpdates", w.SystemUpdates, &out.SystemUpdates},
		{"promotions", w.Promotions, &out.Promotions},
	}
	for _, f := range fields {
		if f.src == nil {
			return ChannelPreferences{}, missingField(name + "." + f.key)
		}
		*f.dst = *f.src
	}
	return out, nil
}

func (w *wireSchedule) resolve() (Schedule, error) {
	if w == nil {
		return Schedule{}, missingField("schedule")
	}
	if w.QuietHours == nil {
		return Schedule{}, missingField("schedule.quietHours")
	}
	if w.QuietHours.Enabled == nil {
		return Schedule{}, missingField("schedule.quietHours.enabled")
	}
	if w.QuietHours.Start == nil {
		return Schedule{}, missingField("schedule.quietHours.start")
	}
	if w.QuietHours.End == nil {
		return Schedule{}, missingField("schedule.quietHours.end")
	}
	if w.WeekendPause == nil {
		return Schedule{}, missingField("schedule.weekendPause")
	}
	if w.Timezone == nil {
		return Schedule{}, missingField("schedule.timezone")
	}

	start, err := ParseTimeOfDay(*w.QuietHours.Start)
	if err != nil {
		return Schedule{}, errors.Join(ErrInvalidPreferences, err)
	}
	end, err := ParseTimeOfDay(*w.QuietHours.End)
	if err != nil {
		return Schedule{}, errors.Join(ErrInvalidPreferences, err)
	}

	return Schedule{
		QuietHours: QuietHours{
			Enabled: *w.QuietHours.Enabled,
			Start:   start,
			End:     end,
		},
		WeekendPause: *w.WeekendPause,
		Timezone:     *w.Timezone,
	}, nil
}
