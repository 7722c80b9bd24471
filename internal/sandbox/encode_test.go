package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		input string
		want  string
	}{
		{
			name: "code only",
			code: "?факториал(5,Р).",
			want: "?факториал(5,Р).",
		},
		{
			name: "blank lines collapse",
			code: "папа(А,Б).\n\n  \n\t\nмама(В,Б).\r\n\r\n?папа(X,Б).",
			want: "папа(А,Б).\nмама(В,Б).\n?папа(X,Б).",
		},
		{
			name: "surrounding whitespace trimmed",
			code: "\n\n   ?ДЛИНА(\"\",0).   \n\n",
			want: "?ДЛИНА(\"\",0).",
		},
		{
			name:  "single input line",
			code:  "?ВВОДЦЕЛ(x).",
			input: "42",
			want:  "$42\n?ВВОДЦЕЛ(x).",
		},
		{
			name:  "multi line input is marked per line",
			code:  "тест:-ВВОДЦЕЛ(A),ВВОДЦЕЛ(B).\n?тест.",
			input: "  1 2\n 3 4\n",
			want:  "$1 2\n$ 3 4\nтест:-ВВОДЦЕЛ(A),ВВОДЦЕЛ(B).\n?тест.",
		},
		{
			name:  "whitespace-only input is absent",
			code:  "?тест.",
			input: " \n\t ",
			want:  "?тест.",
		},
		{
			name:  "marker inside input passes through",
			code:  "?ВВОДСИМВ(x).",
			input: "$abc",
			want:  "$$abc\n?ВВОДСИМВ(x).",
		},
		{
			name:  "blank input lines are kept and marked",
			code:  "?тест.",
			input: "1\n\n2",
			want:  "$1\n$\n$2\n?тест.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.code, tt.input))
		})
	}
}

func codeGen() *rapid.Generator[string] {
	return rapid.StringOfN(rapid.SampledFrom([]rune("ab. \t\n\r")), 0, 64, -1)
}

func TestEncode_CodeOnlyIsCollapsedAndTrimmed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := codeGen().Draw(rt, "code")
		got := Encode(code, "")

		if got != strings.TrimSpace(got) {
			rt.Fatalf("result %q is not trimmed", got)
		}
		if strings.Contains(got, "\r") {
			rt.Fatalf("result %q still has a carriage return", got)
		}
		if got == "" {
			return
		}
		for _, line := range strings.Split(got, "\n") {
			if strings.TrimSpace(line) == "" {
				rt.Fatalf("result %q has a blank line", got)
			}
		}
		if Encode(got, "") != got {
			rt.Fatalf("encoding is not stable on its own output: %q", got)
		}
	})
}

func TestEncode_InputBlockLineCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := rapid.StringMatching(`[a-z.]{1,8}(\n{1,3}[a-z.]{1,8}){0,4}`).Draw(rt, "code")
		input := rapid.StringMatching(`[0-9a-z$ ]{0,6}[0-9a-z](\n[0-9a-z $]{0,6}){0,4}`).Draw(rt, "input")

		got := Encode(code, input)
		program := Encode(code, "")
		trimmedInput := strings.TrimSpace(input)

		inputLines := strings.Count(trimmedInput, "\n") + 1
		codeLines := strings.Count(program, "\n") + 1
		lines := strings.Split(got, "\n")

		if len(lines) != inputLines+codeLines {
			rt.Fatalf("got %d lines, want %d input + %d code", len(lines), inputLines, codeLines)
		}
		for i := 0; i < inputLines; i++ {
			if !strings.HasPrefix(lines[i], InputMarker) {
				rt.Fatalf("input line %d %q lacks the marker", i, lines[i])
			}
		}
		if !strings.HasSuffix(got, "\n"+program) {
			rt.Fatalf("stream %q does not end with the program %q", got, program)
		}
	})
}
