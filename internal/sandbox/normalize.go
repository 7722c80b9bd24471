package sandbox

import (
	"regexp"
	"strings"
)

// A line feed together with any carriage returns glued to either side of it.
var lineBreak = regexp.MustCompile(`\r*\n\r*`)

// Normalize canonicalizes raw interpreter output for comparison. The empty
// string means "no output" and stays empty. CRLF becomes LF (a stray CR
// right after a line feed is dropped too) and trailing line feeds are
// removed. Leading and interior blank lines are kept.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	s := raw
	if strings.ContainsRune(s, '\r') {
		s = lineBreak.ReplaceAllString(s, "\n")
	}
	return strings.TrimRight(s, "\n")
}
