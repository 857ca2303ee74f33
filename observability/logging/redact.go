package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in logs.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag attribute keys whose values are credentials.
var sensitiveMarkers = []string{"secret", "token", "password", "authorization", "private_key", "api_key"}

// Sensitive reports whether values logged under key must be masked. Public
// ledger data such as addresses and amounts is never sensitive.
func Sensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// MaskField returns key with its value masked when key is sensitive and the
// value is non-empty.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !Sensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr masks sensitive string attributes at the handler, so a stray
// logger.Info("...", "jwt_secret", s) cannot leak.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !Sensitive(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
