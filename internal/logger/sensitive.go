package logger

import (
	"net/url"
	"regexp"
	"strings"
)

// SensitiveDataPatterns contains regex patterns for sensitive data that should be redacted in logs
var SensitiveDataPatterns = []*regexp.Regexp{
	// Bearer tokens and JWTs
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,})\.[a-zA-Z0-9_-]{5,}`),

	// API keys, tokens and secrets
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),

	// Cookies
	regexp.MustCompile(`(?i)((?:session|auth|token|csrf|sid)=)([^;,\s]{5,})`),
}

// sensitiveQueryKeys are query parameters stripped by RedactURL
var sensitiveQueryKeys = []string{"token", "access_token", "auth", "key", "api_key", "userid", "user_id"}

// RedactSensitiveData replaces sensitive information with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}

	return input
}

// RedactURL masks credentials and identifying query parameters of a URL so it
// can be logged. Unparseable input falls back to RedactSensitiveData.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactSensitiveData(raw)
	}

	if u.User != nil {
		u.User = url.User("[REDACTED]")
	}

	q := u.Query()
	changed := false
	for key := range q {
		for _, sensitive := range sensitiveQueryKeys {
			if strings.EqualFold(key, sensitive) {
				q.Set(key, "REDACTED")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}
