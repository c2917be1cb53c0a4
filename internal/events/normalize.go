package events

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTextLength is the maximum number of characters kept from a message text.
const MaxTextLength = 10000

var (
	spaceRuns      = regexp.MustCompile(` {2,}`)
	paddedNewlines = regexp.MustCompile(`\s*\n\s*`)
)

// NormalizeText prepares user-supplied message text for storage. It truncates
// to MaxTextLength characters, collapses runs of spaces, collapses every
// whitespace-padded run of newlines to a single "\n" and trims the ends.
//
// NormalizeText is idempotent.
func NormalizeText(s string) string {
	if utf8.RuneCountInString(s) > MaxTextLength {
		s = string([]rune(s)[:MaxTextLength])
	}
	s = spaceRuns.ReplaceAllString(s, " ")
	s = paddedNewlines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
