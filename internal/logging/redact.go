package logging

import (
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that can end up in error bodies or URLs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)("?(?:access_token|id_token|assertion|private_key|client_secret|token)"?\s*[=:]\s*"?)([^\s"&,}]+)`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`),
}

var (
	jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`)
	pemPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?(-----END [A-Z ]*PRIVATE KEY-----|$)`)
)

// Redact masks bearer tokens, signed assertions and private keys in s.
func Redact(s string) string {
	s = pemPattern.ReplaceAllString(s, "[private key]")
	s = jwtPattern.ReplaceAllStringFunc(s, maskSecret)
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			sub := p.FindStringSubmatch(match)
			return sub[1] + maskSecret(sub[2])
		})
	}
	return s
}

// maskSecret keeps the last four characters.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 4) + s[len(s)-4:]
}
