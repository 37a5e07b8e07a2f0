package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxIssueMessageLength caps error text persisted to the issue tables.
	MaxIssueMessageLength = 4000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host within a URL
	userInfoPattern = regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@`)
)

// SanitizeConnectionString removes credentials from a PostgreSQL DSN or URL
// so it can be logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError renders err without credentials that drivers sometimes echo
// back, truncated to MaxIssueMessageLength.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return TruncateString(SanitizeConnectionString(err.Error()), MaxIssueMessageLength)
}

const ellipsis = "..."

// TruncateString truncates s to at most maxLen bytes without splitting a rune.
// When anything was cut the result ends in an ellipsis that counts toward
// maxLen; limits too small to hold one get a plain cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	suffix := ellipsis
	if maxLen <= len(ellipsis) {
		suffix = ""
	}
	cut := maxLen - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
