package jobctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/josephlewis42/jobsh/core/jobs"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// DefaultTerminal is the controlling terminal device.
const DefaultTerminal = "/dev/tty"

// maxTTINRetries bounds how long Enable waits to be put in the foreground.
const maxTTINRetries = 64

// Signals the shell shields itself from while job control is on. They
// are caught rather than ignored so exec'd children start with default
// dispositions.
var shieldedSignals = []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP, syscall.SIGTTIN}

type terminal struct {
	file *os.File
	sigs chan os.Signal
}

// Enable turns on job control using the terminal at path. On failure the
// manager stays disabled and every job runs in the shell's process group.
func (m *Manager) Enable(path string) error {
	if m.enabled {
		return nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		f.Close()
		return fmt.Errorf("%s: %w", path, ErrDisabled)
	}

	if err := m.claimTerminal(fd); err != nil {
		f.Close()
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, shieldedSignals...)
	go func() {
		for range sigs {
		}
	}()

	m.term = &terminal{file: f, sigs: sigs}
	m.ttyFd = fd
	m.enabled = true
	m.log.Infow("job control enabled", "tty", path, "pgid", m.shellPgid)
	return nil
}

// claimTerminal waits until the shell is in the foreground, makes it a
// process group leader and assigns the terminal to that group.
func (m *Manager) claimTerminal(fd int) error {
	for i := 0; ; i++ {
		fg, err := m.sys.Tcgetpgrp(fd)
		if err != nil {
			return fmt.Errorf("get terminal foreground group: %w", err)
		}
		pgrp := m.sys.Getpgrp()
		if fg == pgrp {
			break
		}
		if i >= maxTTINRetries {
			return fmt.Errorf("shell is not in the foreground: %w", ErrDisabled)
		}
		// Stops the shell until whoever owns the terminal continues it.
		if err := m.sys.Kill(-pgrp, unix.SIGTTIN); err != nil {
			return fmt.Errorf("request foreground: %w", err)
		}
	}

	pid := m.sys.Getpid()
	if m.sys.Getpgrp() != pid {
		if err := m.sys.Setpgid(0, pid); err != nil {
			return fmt.Errorf("create process group: %w", err)
		}
	}
	m.shellPgid = m.sys.Getpgrp()

	if err := m.sys.Tcsetpgrp(fd, m.shellPgid); err != nil {
		return fmt.Errorf("claim terminal: %w", err)
	}
	return nil
}

// Watch reconciles whenever a child changes state and then calls report,
// until ctx is done.
func (m *Manager) Watch(ctx context.Context, report func()) {
	chld := make(chan os.Signal, 1)
	signal.Notify(chld, syscall.SIGCHLD)
	defer signal.Stop(chld)

	for {
		select {
		case <-ctx.Done():
			return
		case <-chld:
			m.Reconcile()
			if report != nil {
				report()
			}
		}
	}
}

// Shutdown hangs up remaining jobs and gives up the terminal. Stopped jobs
// are continued so they can act on the hangup.
func (m *Manager) Shutdown() {
	if m.enabled {
		for _, job := range m.Jobs() {
			if job.State() == jobs.JobDone {
				continue
			}
			if err := m.signal(job, unix.SIGHUP); err != nil && !errors.Is(err, unix.ESRCH) {
				m.log.Warnw("hangup failed", "job", job.ID, "error", err)
			}
			if job.State() == jobs.JobStopped {
				m.signal(job, unix.SIGCONT)
			}
		}
	}

	if m.term != nil {
		signal.Stop(m.term.sigs)
		close(m.term.sigs)
		m.term.file.Close()
		m.term = nil
	}
	m.enabled = false
	m.ttyFd = -1
}
