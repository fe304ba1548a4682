package jobs

import (
	"golang.org/x/sys/unix"
)

// ProcessState is the observed lifecycle stage of a single child process.
type ProcessState int

const (
	Created ProcessState = iota
	Running
	Stopped
	Signaled
	Exited
)

func (s ProcessState) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Signaled:
		return "signaled"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s ProcessState) Terminal() bool {
	return s == Exited || s == Signaled
}

// Process is one OS process belonging to a Job.
type Process struct {
	PID     int
	Command string

	state      ProcessState
	raw        unix.WaitStatus
	exitCode   int
	termSignal unix.Signal
	stopSignal unix.Signal
	vanished   bool
}

// NewProcess records a freshly spawned child. Running is its first
// observable state.
func NewProcess(pid int, command string) *Process {
	return &Process{PID: pid, Command: command, state: Running}
}

func (p *Process) State() ProcessState        { return p.state }
func (p *Process) RawStatus() unix.WaitStatus { return p.raw }

// ExitCode is only meaningful when the process has Exited.
func (p *Process) ExitCode() int { return p.exitCode }

// TermSignal is only meaningful when the process was Signaled.
func (p *Process) TermSignal() unix.Signal { return p.termSignal }

// StopSignal is only meaningful while the process is Stopped.
func (p *Process) StopSignal() unix.Signal { return p.stopSignal }

// Vanished reports whether the exit was inferred from a failed liveness
// probe rather than a wait status.
func (p *Process) Vanished() bool { return p.vanished }

func (p *Process) Completed() bool { return p.state.Terminal() }

// Update applies a wait status to the process and reports whether its
// state changed. Terminal states absorb all later events.
func (p *Process) Update(ws unix.WaitStatus) bool {
	if p.state.Terminal() {
		return false
	}

	prev := p.state
	switch {
	case ws.Exited():
		p.state = Exited
		p.exitCode = ws.ExitStatus()
	case ws.Signaled():
		p.state = Signaled
		p.termSignal = ws.Signal()
	case ws.Stopped():
		p.state = Stopped
		p.stopSignal = ws.StopSignal()
	case ws.Continued():
		p.state = Running
		p.stopSignal = 0
	default:
		return false
	}
	p.raw = ws
	return p.state != prev
}

// Continue optimistically flips a stopped process back to running after
// SIGCONT has been sent.
func (p *Process) Continue() bool {
	if p.state != Stopped {
		return false
	}
	p.state = Running
	p.stopSignal = 0
	return true
}

// MarkVanished records that the process no longer exists even though no
// wait status was ever collected for it, as happens with daemons that
// were reparented to init. The exit code is unknown and reported as 0.
func (p *Process) MarkVanished() bool {
	if p.state.Terminal() {
		return false
	}
	p.state = Exited
	p.exitCode = 0
	p.vanished = true
	return true
}

// Status converts the process state to a shell exit status: the exit code,
// or 128 plus the terminating or stopping signal.
func (p *Process) Status() int {
	switch p.state {
	case Exited:
		return p.exitCode
	case Signaled:
		return 128 + int(p.termSignal)
	case Stopped:
		return 128 + int(p.stopSignal)
	default:
		return 0
	}
}

func (p *Process) clone() *Process {
	cp := *p
	return &cp
}
