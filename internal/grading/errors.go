package grading

import (
	"errors"
	"fmt"
)

// Stable failure codes reported to callers.
const (
	CodeWrongSignature = "wrong_signature"
	CodeMissingReturn  = "missing_return"
	CodeRoutineFailed  = "routine_failed"
	CodeNonBoolean     = "non_boolean"
)

var messages = map[string]string{
	CodeWrongSignature: "wrong checker signature, expected: " + Signature,
	CodeMissingReturn:  "checker has no return statement",
	CodeRoutineFailed:  "checker raised an error",
	CodeNonBoolean:     "checker returned a non-boolean result",
}

// Error is a grading routine defect. It is attributed to the case being
// graded and never aborts a testing run.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newError(code, details string) *Error {
	return &Error{Code: code, Message: messages[code], Details: details}
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// CodeOf returns the stable code of a grading error, or "" for other errors.
func CodeOf(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ""
}
