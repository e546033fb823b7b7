package logger

import (
	"log/slog"
	"net/netip"
	"strings"
)

// MaskIP hides the host part of an address for logging: the last octet of an
// IPv4 address, everything past the /48 prefix of an IPv6 address. Values that
// are not addresses are masked entirely.
func MaskIP(addr string) string {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return "[masked]"
	}
	if ip.Is4() || ip.Is4In6() {
		b := ip.Unmap().As4()
		return netip.AddrFrom4([4]byte{b[0], b[1], b[2], 0}).String() + "/24"
	}
	prefix, err := ip.Prefix(48)
	if err != nil {
		return "[masked]"
	}
	return prefix.String()
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"registration_key",
		"secret",
		"token",
		"password",
		"api_key",
		"apikey",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
