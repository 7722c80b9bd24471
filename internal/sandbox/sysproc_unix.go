//go:build unix

package sandbox

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group and, when an
// identity is given, switches it to that uid/gid. The Go runtime applies the
// credential in the forked child before execve, so interpreter code never
// runs with the server's privileges.
func configureProcess(cmd *exec.Cmd, id *Identity) error {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if id != nil {
		attr.Credential = &syscall.Credential{
			Uid:    id.UID,
			Gid:    id.GID,
			Groups: []uint32{},
		}
	}
	cmd.SysProcAttr = attr
	return nil
}

// killProcessGroup sends SIGKILL to the whole group led by pid. A group that
// is already gone is not an error.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
