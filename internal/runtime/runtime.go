package runtime

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// Runtime defines how the judge launches an interpreter.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "prologd").
	Name() string

	// Command returns the executable path and its fixed argument list.
	Command() (path string, args []string)

	// Validate checks if the code is acceptable before execution.
	// This is a best-effort pre-check, not a parser.
	Validate(code string) error

	// Resolve returns the absolute path of the executable Command names.
	Resolve() (string, error)
}

// Prologd runs Prolog-D programs through the prologd interpreter. The program
// and its runtime input are both delivered over stdin, so the argument list
// only pins the import directory.
type Prologd struct {
	Binary       string
	ImportDir    string
	MaxCodeBytes int
}

// NewPrologd builds the runtime from startup configuration values.
func NewPrologd(binary, importDir string, maxCodeBytes int) *Prologd {
	return &Prologd{
		Binary:       binary,
		ImportDir:    importDir,
		MaxCodeBytes: maxCodeBytes,
	}
}

func (p *Prologd) Name() string { return "prologd" }

func (p *Prologd) Command() (string, []string) {
	return p.Binary, []string{"-d=" + p.ImportDir}
}

func (p *Prologd) Validate(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("empty code")
	}
	if p.MaxCodeBytes > 0 && len(code) > p.MaxCodeBytes {
		return fmt.Errorf("code too large: %d bytes (max %d)", len(code), p.MaxCodeBytes)
	}
	return nil
}

// Resolve checks that the interpreter binary can be found and returns its
// absolute path. A bare name is looked up on PATH.
func (p *Prologd) Resolve() (string, error) {
	path, err := exec.LookPath(p.Binary)
	if err != nil {
		return "", fmt.Errorf("interpreter %q not found: %w", p.Binary, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving interpreter path: %w", err)
	}
	return abs, nil
}
