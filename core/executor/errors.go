package executor

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

// Exit statuses with a fixed meaning.
const (
	StatusNotExecutable = 126
	StatusNotFound      = 127
	StatusInternal      = 70
)

// ErrNotFound is returned when a command is not found on the PATH.
var ErrNotFound = exec.ErrNotFound

// ExitRequest is returned by Execute when the exit builtin ran. The shell
// loop stops and exits with Code.
type ExitRequest struct {
	Code int
}

func (e *ExitRequest) Error() string {
	return fmt.Sprintf("exit %d", e.Code)
}

// InternalError marks a bookkeeping failure inside the shell, as opposed
// to a command that failed.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// RedirectError is a failed redirection.
type RedirectError struct {
	Target string
	Err    error
}

func (e *RedirectError) Error() string {
	return e.Target + ": " + describe(e.Err)
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// CommandError is a command that could not be started.
type CommandError struct {
	Name   string
	Status int
	Err    error
}

func (e *CommandError) Error() string {
	if errors.Is(e.Err, ErrNotFound) {
		return e.Name + ": command not found"
	}
	return e.Name + ": " + describe(e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// describe strips path and operation prefixes from system errors.
func describe(err error) string {
	var perr *fs.PathError
	if errors.As(err, &perr) {
		err = perr.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno.Error()
	}
	return err.Error()
}

// statusFor maps a start failure to an exit status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return StatusNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.ENOEXEC), errors.Is(err, syscall.EISDIR):
		return StatusNotExecutable
	default:
		return 1
	}
}
