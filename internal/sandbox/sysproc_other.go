//go:build !unix

package sandbox

import (
	"fmt"
	"os/exec"
	"runtime"
)

func configureProcess(_ *exec.Cmd, _ *Identity) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
}

func killProcessGroup(_ int) error {
	return nil
}
