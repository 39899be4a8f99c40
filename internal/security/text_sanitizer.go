// Package security provides input hardening for text that crosses the
// provider boundary.
//
// TextSanitizer reduces provider-supplied message text and outgoing reply
// text to plain text. Markup is stripped with a bluemonday strict policy,
// entities are decoded back to the characters the user typed, and
// surrounding whitespace is trimmed.
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer turns untrusted text into plain text.
type TextSanitizer interface {
	// Sanitize returns text with all markup removed. Empty input returns "".
	Sanitize(text string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer creates a TextSanitizer backed by bluemonday.StrictPolicy.
// Contents of script and style elements are dropped along with the tags.
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize strips markup and decodes entities.
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	// bluemonday escapes what it keeps; DMs are stored as typed.
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}
