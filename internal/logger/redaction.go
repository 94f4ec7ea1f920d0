package logger

import (
	"io"
	"regexp"
)

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	r := &Redactor{}

	// Credentials embedded in connection strings keep the user visible.
	r.rules = append(r.rules, redactionRule{
		pattern:     regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`),
		replacement: "://$1:[REDACTED]@",
	})

	for _, p := range []string{
		// Provider API keys
		`sk-ant-[a-zA-Z0-9_-]{20,}`,
		`sk-[a-zA-Z0-9_-]{20,}`,

		`Bearer\s+[a-zA-Z0-9._-]+`,

		// AWS access keys
		`AKIA[0-9A-Z]{16}`,

		`password["\s:=]+[^\s"]+`,
		`secret["\s:=]+[^\s"]+`,
		`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	} {
		r.rules = append(r.rules, redactionRule{
			pattern:     regexp.MustCompile(p),
			replacement: "[REDACTED]",
		})
	}

	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{pattern: re, replacement: "[REDACTED]"})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rule := range r.rules {
		result = rule.pattern.ReplaceAllString(result, rule.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write
// when redaction changes the payload length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
