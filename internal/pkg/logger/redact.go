package logger

import "strings"

// RedactToken masks an opaque credential for safe logging.
// "eyJhbGciOiJIUzI1NiJ9.abcdef" → "eyJhbGci***"
// Tokens of 8 chars or fewer are fully masked.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}

var secretKeys = []string{"token", "password", "authorization", "secret", "credential"}

func redactSecretValue(key, val string) string {
	key = strings.ToLower(key)
	for _, k := range secretKeys {
		if strings.Contains(key, k) {
			return RedactToken(val)
		}
	}
	// Redact bearer credentials embedded in generic fields (e.g. dumped headers)
	if idx := strings.Index(val, "Bearer "); idx >= 0 {
		return val[:idx] + "Bearer " + RedactToken(val[idx+len("Bearer "):])
	}
	return val
}
