// Package buildinfo carries build-time metadata that is not part of the
// user configuration.
package buildinfo

import "fmt"

// unknown is reported for metadata that was not injected at build time.
const unknown = "unknown"

// Context contains build-time metadata injected at application startup.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// New returns a Context for the values injected through -ldflags.
func New(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version, or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate returns the build date, or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// Release is the identifier reported to error telemetry.
func (c *Context) Release() string {
	return "notifyengine@" + c.GetVersion()
}

// String renders the version line printed by the CLI.
func (c *Context) String() string {
	return fmt.Sprintf("notifyengine %s (built %s)", c.GetVersion(), c.GetBuildDate())
}
