// Package desktop delivers OS-level alerts for surfaced notifications: a
// desktop notification through shoutrrr services and a throttled sound cue.
package desktop

import (
	"context"
	"strings"

	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/notification"
)

// Permission mirrors the tri-state desktop notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission accepts granted, denied and default (alias prompt).
func ParsePermission(s string) (Permission, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return PermissionGranted, true
	case "denied":
		return PermissionDenied, true
	case "default", "prompt", "":
		return PermissionDefault, true
	default:
		return PermissionDefault, false
	}
}

// ErrPermissionDenied is returned by Show when alerts are not permitted.
var ErrPermissionDenied = errors.Newf("desktop notification permission denied").
	Component("desktop").
	Category(errors.CategoryPermission).
	Build()

// ErrThrottled is returned by Show when the alert budget is used up.
var ErrThrottled = errors.Newf("desktop alert throttled").
	Component("desktop").
	Category(errors.CategoryLimit).
	Build()

// Notifier is the desktop notification port.
type Notifier interface {
	// Permission returns the current permission without prompting.
	Permission() Permission
	// RequestPermission resolves a default permission, prompting if needed,
	// and returns the result. Granted and denied are returned unchanged.
	RequestPermission(ctx context.Context) (Permission, error)
	// Show raises a desktop alert for n.
	Show(ctx context.Context, n *notification.Notification) error
}

// Disabled is a Notifier that never shows anything.
type Disabled struct{}

func (Disabled) Permission() Permission { return PermissionDenied }

func (Disabled) RequestPermission(context.Context) (Permission, error) {
	return PermissionDenied, nil
}

func (Disabled) Show(context.Context, *notification.Notification) error {
	return ErrPermissionDenied
}
