package usecase

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"lambda-agent/internal/domain"
)

// disallowedPatterns match markup that must never be forwarded to the model.
var disallowedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
}

// ValidatePrompt checks a decoded prompt value. The first failing rule wins
// and is reported as a *domain.ValidationError. checkContent controls the
// disallowed-content scan only.
func ValidatePrompt(prompt any, maxLength int, checkContent bool) error {
	if isEmptyValue(prompt) {
		return &domain.ValidationError{Reason: "no prompt provided"}
	}
	s, ok := prompt.(string)
	if !ok {
		return &domain.ValidationError{Reason: "prompt must be a string"}
	}
	if utf8.RuneCountInString(s) > maxLength {
		return &domain.ValidationError{Reason: fmt.Sprintf("prompt too long (max %d characters)", maxLength)}
	}
	if checkContent {
		for _, re := range disallowedPatterns {
			if re.MatchString(s) {
				return &domain.ValidationError{Reason: "prompt contains disallowed content"}
			}
		}
	}
	return nil
}

// isEmptyValue reports whether v is a zero JSON value: null, "", 0, false,
// or an empty array or object.
func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case int:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}
