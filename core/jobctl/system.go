package jobctl

import (
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// System is the set of process and terminal calls the manager depends on.
type System interface {
	// Wait4 waits for a status change of pid (a process, -pgid, or -1 for
	// any child). With WNOHANG and nothing to report it returns pid 0.
	Wait4(pid int, options int) (int, unix.WaitStatus, error)
	Kill(pid int, sig unix.Signal) error
	Tcsetpgrp(fd int, pgid int) error
	Tcgetpgrp(fd int) (int, error)
	Getpgrp() int
	Getpid() int
	Setpgid(pid, pgid int) error
}

// UnixSystem is the System backed by real system calls.
type UnixSystem struct{}

var _ System = UnixSystem{}

func (UnixSystem) Wait4(pid int, options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, options, nil)
	return wpid, ws, err
}

func (UnixSystem) Kill(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Tcsetpgrp hands the terminal to pgid. SIGTTOU is ignored for the
// duration because a caller outside the foreground group would otherwise
// be stopped by the kernel.
func (UnixSystem) Tcsetpgrp(fd int, pgid int) error {
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)

	for {
		err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid)
		if err != unix.EINTR {
			return err
		}
	}
}

func (UnixSystem) Tcgetpgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}

func (UnixSystem) Getpgrp() int {
	return unix.Getpgrp()
}

func (UnixSystem) Getpid() int {
	return unix.Getpid()
}

func (UnixSystem) Setpgid(pid, pgid int) error {
	return unix.Setpgid(pid, pgid)
}
