package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of any attribute whose key names a secret.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers are matched as substrings of the lower-cased attribute key.
var sensitiveMarkers = []string{
	"secret",
	"token",
	"password",
	"passphrase",
	"authorization",
	"private_key",
}

// IsSensitive reports whether values logged under key must never reach the
// output verbatim.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskValue hides non-empty values. Empty values stay empty so that an unset
// secret is still visible as unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a string attribute whose value is masked when the key is
// sensitive.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		value = MaskValue(value)
	}
	return slog.String(key, value)
}

// redactAttr is applied by the handler to every leaf attribute.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.Resolve().String()))
}
