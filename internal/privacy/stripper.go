// Package privacy masks student identities before they reach reports or storage.
package privacy

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// UnknownStudent labels a student with neither a name nor a usable e-mail.
const UnknownStudent = "Unknown"

// RedactedEmail replaces e-mail addresses found in free text.
const RedactedEmail = "[email]"

var (
	// emailRegex matches e-mail addresses embedded in free text
	emailRegex = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// markupPolicy drops every HTML element a browser client may have pasted in.
	markupPolicy = bluemonday.StrictPolicy()
)

// MaskEmail returns the local part of an e-mail address, or the input unchanged
// when it has no '@'.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// StudentLabel picks the display label for a student: the name when present,
// otherwise the masked e-mail, otherwise UnknownStudent.
func StudentLabel(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if local := MaskEmail(email); local != "" {
		return local
	}
	return UnknownStudent
}

// RedactEmails replaces every e-mail address in text with RedactedEmail.
func RedactEmails(text string) string {
	return emailRegex.ReplaceAllString(text, RedactedEmail)
}

// ContainsEmail reports whether text holds at least one e-mail address.
func ContainsEmail(text string) bool {
	return emailRegex.MatchString(text)
}

// StripMarkup removes HTML tags, keeping the text between them. Entities are
// decoded so the result is plain text again.
func StripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}
	return html.UnescapeString(markupPolicy.Sanitize(text))
}

// Clean performs full privacy cleaning on text.
// Use it before storing any student-written content.
func Clean(text string) string {
	text = StripMarkup(text)
	text = RedactEmails(text)
	return strings.TrimSpace(text)
}
