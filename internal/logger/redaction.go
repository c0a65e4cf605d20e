package logger

import (
	"fmt"
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks API keys and secrets in log output.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor returns a redactor with the built-in rules.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			// Provider keys (OpenAI, OpenRouter sk-or-v1-, Anthropic sk-ant-)
			{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), redacted},

			// Bearer tokens
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), redacted},

			// News API key in query strings; keep the parameter name
			{regexp.MustCompile(`([?&]apiKey=)[^&\s"]+`), "${1}" + redacted},

			// JSON-encoded secrets
			{regexp.MustCompile(`("(?:api_key|apiKey|shared_secret)"\s*:\s*")[^"]*"`), "${1}" + redacted + `"`},

			// Header style keys
			{regexp.MustCompile(`(?i)(x-api-key:\s*)\S+`), "${1}" + redacted},

			// Generic secrets
			{regexp.MustCompile(`password["\s:=]+[^\s"]+`), redacted},
			{regexp.MustCompile(`secret["\s:=]+[^\s",]+`), redacted},
		},
	}
}

// AddPattern masks every match of pattern in full.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid redaction pattern: %w", err)
	}
	r.rules = append(r.rules, redactionRule{pattern: re, replacement: redacted})
	return nil
}

// Redact applies every rule to s in order.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.pattern.ReplaceAllString(s, rule.replacement)
	}
	return s
}

// Wrap returns a writer that redacts each log line before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return redactingWriter{dst: w, r: r}
}

type redactingWriter struct {
	dst io.Writer
	r   *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.dst, w.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
