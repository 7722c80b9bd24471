// Package grading compiles and runs checker routines that decide whether a
// program's output matches the expected value.
//
// A routine looks like a Go function but its body is an expr-lang program:
//
//	func checker(right_value string, value string) bool {
//	    let want = trim(right_value)
//	    return want == trim(value)
//	}
//
// Lines before return may only be let bindings. The expression VM has no
// filesystem, network or process builtins, so routines run in-process.
package grading

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Signature is the exact first line every routine must start with.
const Signature = "func checker(right_value string, value string) bool {"

const maxNodes = 10000

// env is the only state a routine can see. Value is nil when the program
// produced no output.
type env struct {
	RightValue string `expr:"right_value"`
	Value      any    `expr:"value"`
}

// Evaluator validates and compiles checker routines.
type Evaluator struct {
	maxBytes int
}

// NewEvaluator creates an evaluator rejecting routines longer than maxBytes.
// Zero means no limit.
func NewEvaluator(maxBytes int) *Evaluator {
	return &Evaluator{maxBytes: maxBytes}
}

// Routine is a compiled checker, safe for concurrent use.
type Routine struct {
	program *vm.Program
}

// Compile validates routine text and compiles its body. Failures are
// *Error values.
func (e *Evaluator) Compile(routine string) (*Routine, error) {
	routine = strings.TrimSpace(routine)
	if !strings.HasPrefix(routine, Signature) {
		return nil, newError(CodeWrongSignature, "")
	}
	if e.maxBytes > 0 && len(routine) > e.maxBytes {
		return nil, newError(CodeRoutineFailed, fmt.Sprintf("checker exceeds %d bytes", e.maxBytes))
	}

	body := strings.TrimPrefix(routine, Signature)
	loc := findReturn(body)
	if loc == nil {
		return nil, newError(CodeMissingReturn, "")
	}

	source, err := bodySource(body[:loc[0]], body[loc[1]:])
	if err != nil {
		return nil, newError(CodeRoutineFailed, err.Error())
	}

	program, err := expr.Compile(source, expr.Env(env{}), expr.MaxNodes(maxNodes))
	if err != nil {
		return nil, newError(CodeRoutineFailed, err.Error())
	}
	return &Routine{program: program}, nil
}

// findReturn returns the offsets of the first return keyword that starts a
// statement. Keywords inside string literals or identifiers do not count.
func findReturn(body string) []int {
	const keyword = "return"

	var quote byte
	atStatement := true
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			quote = c
			atStatement = false
		case '\n', ';':
			atStatement = true
		case ' ', '\t', '\r':
		default:
			end := i + len(keyword)
			if atStatement && strings.HasPrefix(body[i:], keyword) && !isIdentByte(body, end) {
				return []int{i, end}
			}
			atStatement = false
		}
	}
	return nil
}

func isIdentByte(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// bodySource turns the statements around return into one expr program:
// "let a = x; let b = y; <returned expression>".
func bodySource(bindings, returned string) (string, error) {
	returned = strings.TrimSpace(returned)
	if !strings.HasSuffix(returned, "}") {
		return "", fmt.Errorf("missing closing brace")
	}
	returned = strings.TrimSpace(strings.TrimSuffix(returned, "}"))
	returned = strings.TrimSpace(strings.TrimSuffix(returned, ";"))
	if returned == "" {
		return "", fmt.Errorf("return has no value")
	}

	var b strings.Builder
	for _, line := range strings.Split(bindings, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "let ") {
			return "", fmt.Errorf("only let bindings may precede return, got %q", line)
		}
		b.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			b.WriteByte(';')
		}
		b.WriteByte(' ')
	}
	b.WriteString(returned)
	return b.String(), nil
}

// Eval runs the routine on (expected, actual). An empty actual is passed to
// the routine as nil.
func (r *Routine) Eval(expected, actual string) (bool, error) {
	in := env{RightValue: expected}
	if actual != "" {
		in.Value = actual
	}

	out, err := expr.Run(r.program, in)
	if err != nil {
		return false, newError(CodeRoutineFailed, err.Error())
	}
	verdict, ok := out.(bool)
	if !ok {
		return false, newError(CodeNonBoolean, fmt.Sprintf("got %T", out))
	}
	return verdict, nil
}

// Grade compiles routine and evaluates it once.
func (e *Evaluator) Grade(routine, expected, actual string) (bool, error) {
	r, err := e.Compile(routine)
	if err != nil {
		return false, err
	}
	return r.Eval(expected, actual)
}
