package guardrails

import "regexp"

type redaction struct {
	label   string
	pattern *regexp.Regexp
}

// Order matters: card numbers are replaced before the shorter phone pattern
// can eat part of them.
var redactions = []redaction{
	{"[EMAIL]", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"[CARD]", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"[PHONE]", regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)},
}

// Redact replaces emails, card numbers and phone numbers with placeholders.
// It reports whether anything was replaced.
func Redact(text string) (string, bool) {
	out := text
	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, r.label)
	}
	return out, out != text
}
