// Package sanitizer strips markup from free-text values before they are persisted.
package sanitizer

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Field limits matching the column sizes in the migrations
const (
	MaxUserAgentLength = 512
	MaxNameLength      = 255
)

// TextSanitizer removes every HTML element and control character from plain text
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer creates a sanitizer backed by bluemonday's strict policy
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean strips tags, unescapes entities produced by the policy, drops control
// characters, collapses surrounding whitespace and truncates to maxLen runes.
// A maxLen of zero or less disables truncation.
func (s *TextSanitizer) Clean(value string, maxLen int) string {
	if value == "" {
		return ""
	}

	// StrictPolicy escapes what it keeps, so undo that for plain text
	out := html.UnescapeString(s.policy.Sanitize(value))

	out = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != ' ') {
			return -1
		}
		return r
	}, out)
	out = strings.TrimSpace(out)

	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		runes := []rune(out)
		out = string(runes[:maxLen])
	}
	return out
}

// UserAgent cleans a User-Agent header value
func (s *TextSanitizer) UserAgent(ua string) string {
	return s.Clean(ua, MaxUserAgentLength)
}

// DisplayName cleans a user's display name
func (s *TextSanitizer) DisplayName(name string) string {
	return s.Clean(name, MaxNameLength)
}
