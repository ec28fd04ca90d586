package telemetry

import (
	"regexp"
	"strings"
)

// RedactedValue replaces sensitive values and secret-shaped substrings
// before an event is persisted.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against map keys. A
// matching key has its value replaced wholesale, regardless of shape.
var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"auth":          {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"client_secret": {},
	"password":      {},
	"passwd":        {},
	"credential":    {},
	"credentials":   {},
	"private_key":   {},
	"session_key":   {},
}

// secretPatterns match secret-shaped substrings inside string values:
// provider API key prefixes, personal access tokens, chat tokens and
// cloud access key IDs. Matches are replaced in place; the rest of the
// string is preserved.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{16,}`),
	regexp.MustCompile(`gho_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`xox[abps]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

// Redact returns a sanitized copy of the event. Structure is perfectly
// preserved: keys, nesting and list order survive, only values change.
// The input event is never mutated. Redact is idempotent.
func Redact(event map[string]any) map[string]any {
	out, _ := redactValue(event).(map[string]any)
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = RedactedValue
				continue
			}
			out[k] = redactValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = redactValue(inner)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = redactString(s)
		}
		return out
	case string:
		return redactString(val)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

func redactString(s string) string {
	for _, pat := range secretPatterns {
		s = pat.ReplaceAllString(s, RedactedValue)
	}
	return s
}
