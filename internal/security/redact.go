package security

import (
	"regexp"
	"strings"
)

// sensitivePatterns match secrets that end up in URLs and error messages.
// Group 1 is kept verbatim and group 2 is masked.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:api[_-]?key|api[_-]?secret|access[_-]?token|auth[_-]?token|password)[=:]\s*)["']?([^\s"'&]+)["']?`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-]+)`),
	regexp.MustCompile(`(/bot)([0-9]+:[A-Za-z0-9_\-]+)`),           // Telegram bot token
	regexp.MustCompile(`(/api/webhooks/[0-9]+/)([A-Za-z0-9_\-]+)`), // Discord webhook token
	regexp.MustCompile(`()(sk-(?:or-v1-)?[A-Za-z0-9]{20,})`),       // OpenAI and OpenRouter keys
}

// MaskCredential masks a credential, keeping a short prefix and suffix.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSecrets masks every credential-looking substring of s.
func MaskSecrets(s string) string {
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			groups := pattern.FindStringSubmatch(match)
			return groups[1] + MaskCredential(groups[2])
		})
	}
	return s
}

// RedactError returns err with secrets masked in its message. The wrapped
// chain is preserved for errors.Is and errors.As.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := MaskSecrets(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
