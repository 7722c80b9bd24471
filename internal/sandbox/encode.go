package sandbox

import (
	"regexp"
	"strings"
)

// InputMarker prefixes every runtime-input line in the stream. The
// interpreter reads marked lines as program stdin rather than program text.
const InputMarker = "$"

var blankLines = regexp.MustCompile(`(?:[\t ]*(?:\r\n|\n|\r))+`)

// Encode builds the single stdin stream for the interpreter: the marked
// runtime input block (if any) followed by the program source with blank
// line runs collapsed. The marker is not escaped inside input lines.
func Encode(code, input string) string {
	program := strings.TrimSpace(blankLines.ReplaceAllString(code, "\n"))

	input = strings.TrimSpace(input)
	if input == "" {
		return program
	}

	lines := strings.Split(input, "\n")
	var b strings.Builder
	b.Grow(len(input) + len(lines) + 1 + len(program))
	for _, line := range lines {
		b.WriteString(InputMarker)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(program)
	return b.String()
}
