package security

import (
	"regexp"

	"lambda-agent/internal/domain"
)

const redacted = "***REDACTED***"

// sensitivePatterns are applied in order; later patterns see earlier replacements.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`arn:aws:[^:]+:[^:]+:[^:]+:[^/\s]+`), // resource ARN
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                  // access key id
	regexp.MustCompile(`[0-9a-zA-Z/+=]{40}`),                // secret access key
}

// Redact masks AWS resource identifiers and credential-shaped tokens in s.
func Redact(s string) string {
	for _, re := range sensitivePatterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// SanitizeError renders err safely for a response body. With includeKind the
// message is prefixed by the error's kind name, e.g. "TOOL_FAILURE: ...".
func SanitizeError(err error, includeKind bool) string {
	if err == nil {
		return ""
	}
	msg := Redact(err.Error())
	if includeKind {
		return domain.KindName(err) + ": " + msg
	}
	return msg
}
