// Package redact masks sensitive content in chat text before it is logged.
package redact

import (
	"regexp"
	"unicode/utf8"
)

// MaxLogText bounds how much of a chat line ends up in a log record.
const MaxLogText = 120

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	tokenPattern = regexp.MustCompile(`\b(?:xox[abprs]-[A-Za-z0-9-]{10,}|gh[pousr]_[A-Za-z0-9]{20,}|sk-[A-Za-z0-9_-]{20,})\b`)
)

// PII masks emails, card numbers, phone numbers and API tokens.
func PII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{tokenPattern, "[REDACTED_TOKEN]"},
		{emailPattern, "[REDACTED_EMAIL]"},
		// Cards before phones so long digit runs are classified as cards.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// ForLog returns text with PII masked and truncated to MaxLogText runes.
func ForLog(text string) string {
	out, _ := PII(text)
	if utf8.RuneCountInString(out) <= MaxLogText {
		return out
	}
	runes := []rune(out)
	return string(runes[:MaxLogText]) + "…"
}
