package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// plainKeys may be logged verbatim. Anything else passed through MaskField
// is treated as a secret.
var plainKeys = map[string]bool{
	"service":    true,
	"env":        true,
	"error":      true,
	"reason":     true,
	"op":         true,
	"route":      true,
	"method":     true,
	"status":     true,
	"request_id": true,
	"asset":      true,
	"caller":     true,
}

// IsAllowlisted reports whether key is emitted without redaction.
func IsAllowlisted(key string) bool {
	return plainKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskValue redacts non-blank values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is redacted unless key is
// allowlisted or the value is blank.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
