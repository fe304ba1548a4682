// Package jobctl owns the job table and implements foreground and
// background job control on top of it: terminal handoff between process
// groups, signal delivery, and reaping of child status changes.
package jobctl

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/josephlewis42/jobsh/core/jobs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoSuchJob is returned when a job id does not name a job.
	ErrNoSuchJob = errors.New("no such job")

	// ErrDisabled is returned by operations that need job control.
	ErrDisabled = errors.New("no job control")
)

// Manager bridges the job table with the operating system.
type Manager struct {
	sys System
	log *zap.SugaredLogger

	// Out receives job state reports such as "[1]+  Stopped  cmd".
	Out io.Writer

	// Colors enables colored state labels in listings.
	Colors bool

	// mu guards the tables of m, its parent and its children.
	mu    *sync.Mutex
	table *jobs.Table

	// reaping serializes consumption of wait statuses. Overlapping
	// reconciliations skip instead of blocking. Subshell managers share it
	// with their parent.
	reaping *sync.Mutex

	parent   *Manager
	children map[*Manager]bool

	enabled   bool
	ttyFd     int
	shellPgid int
	term      *terminal
}

// New creates a manager with job control disabled.
func New(sys System, log *zap.SugaredLogger, out io.Writer) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		sys:       sys,
		log:       log,
		Out:       out,
		mu:        &sync.Mutex{},
		table:     jobs.NewTable(),
		reaping:   &sync.Mutex{},
		ttyFd:     -1,
		shellPgid: sys.Getpgrp(),
	}
}

// Child returns the manager for a subshell. It shares the system, the
// terminal and status reaping with m but has its own job table, so jobs the
// subshell starts are not visible through m. Close it when the subshell
// ends.
func (m *Manager) Child() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &Manager{
		sys:       m.sys,
		log:       m.log,
		Out:       m.Out,
		Colors:    m.Colors,
		mu:        m.mu,
		table:     jobs.NewTable(),
		reaping:   m.reaping,
		parent:    m,
		enabled:   m.enabled,
		ttyFd:     m.ttyFd,
		shellPgid: m.shellPgid,
	}
	if m.children == nil {
		m.children = make(map[*Manager]bool)
	}
	m.children[c] = true
	return c
}

// Close detaches a subshell's manager from its parent. Jobs the subshell
// left stopped move to the parent's table, where fg and bg can reach them.
// Anything else is forgotten.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.parent == nil {
		return
	}
	parent := m.parent
	delete(parent.children, m)
	for c := range m.children {
		c.parent = parent
		parent.children[c] = true
	}
	m.children = nil
	m.parent = nil

	for _, job := range m.table.Jobs() {
		m.table.Remove(job.ID)
		if job.State() != jobs.JobStopped {
			continue
		}
		old := job.ID
		parent.table.Adopt(job)
		parent.table.SetCurrent(job.ID)
		m.log.Debugw("job adopted", "from", old, "job", job.ID)
	}
}

// findByPID looks for pid in m's table and those of its subshells. The
// caller holds m.mu.
func (m *Manager) findByPID(pid int) (*jobs.Job, *jobs.Process) {
	if job, p := m.table.FindByPID(pid); p != nil {
		return job, p
	}
	for c := range m.children {
		if job, p := c.findByPID(pid); p != nil {
			return job, p
		}
	}
	return nil, nil
}

// root is the manager of the top level shell. The caller holds m.mu.
func (m *Manager) root() *Manager {
	for m.parent != nil {
		m = m.parent
	}
	return m
}

// Enabled reports whether process groups and the terminal are managed.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// TerminalFd is the controlling terminal descriptor, or -1 when job
// control is disabled.
func (m *Manager) TerminalFd() int {
	return m.ttyFd
}

func (m *Manager) ShellPgid() int {
	return m.shellPgid
}

// CreateJob allocates a job for a pipeline about to be spawned. A zero
// pgid is filled in by the first AddProcess.
func (m *Manager) CreateJob(command string, pgid int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.table.Create(command, pgid)
	m.log.Debugw("job created", "job", job.ID, "command", command)
	return job.ID
}

// AddProcess registers a spawned pipeline stage with its job.
func (m *Manager) AddProcess(id, pid int, command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.table.AddProcess(id, pid, command); !ok {
		return fmt.Errorf("add pid %d to job %d: %w", pid, id, ErrNoSuchJob)
	}
	m.log.Debugw("process added", "job", id, "pid", pid, "command", command)
	return nil
}

// RemoveJob drops a job regardless of its state. It is used to discard a
// job whose construction failed before any process started.
func (m *Manager) RemoveJob(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table.Remove(id)
}

// FindJob returns a snapshot of the job.
func (m *Manager) FindJob(id int) (*jobs.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.table.Find(id)
	if !ok {
		return nil, false
	}
	return job.Snapshot(), true
}

// FindCurrentJob returns a snapshot of the current job.
func (m *Manager) FindCurrentJob() (*jobs.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.table.Current()
	if !ok {
		return nil, false
	}
	return job.Snapshot(), true
}

// FindPreviousJob returns a snapshot of the job marked with '-'.
func (m *Manager) FindPreviousJob() (*jobs.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.table.Previous()
	if !ok {
		return nil, false
	}
	return job.Snapshot(), true
}

// FindJobByPID returns a snapshot of the job owning pid.
func (m *Manager) FindJobByPID(pid int) (*jobs.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, _ := m.table.FindByPID(pid)
	if job == nil {
		return nil, false
	}
	return job.Snapshot(), true
}

// Jobs returns snapshots of every job ordered by id.
func (m *Manager) Jobs() []*jobs.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*jobs.Job
	for _, job := range m.table.Jobs() {
		out = append(out, job.Snapshot())
	}
	return out
}

// HasActiveJobs reports whether any job is running or stopped.
func (m *Manager) HasActiveJobs() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.table.Jobs() {
		if job.State() != jobs.JobDone {
			return true
		}
	}
	return false
}

func (m *Manager) HasStoppedJobs() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.table.Jobs() {
		if job.State() == jobs.JobStopped {
			return true
		}
	}
	return false
}

// SignalJob delivers sig to every process of the job. With job control the
// whole process group is signalled at once.
func (m *Manager) SignalJob(id int, sig unix.Signal) error {
	m.mu.Lock()
	job, ok := m.table.Find(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}
	job = job.Snapshot()
	m.mu.Unlock()

	return m.signal(job, sig)
}

func (m *Manager) signal(job *jobs.Job, sig unix.Signal) error {
	if m.enabled && job.PGID > 0 {
		return m.sys.Kill(-job.PGID, sig)
	}

	var firstErr error
	for _, p := range job.Processes {
		if p.Completed() {
			continue
		}
		if err := m.sys.Kill(p.PID, sig); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// continueJob sends SIGCONT to a stopped job and optimistically marks its
// processes running. It reports whether the job was stopped.
func (m *Manager) continueJob(id int) (bool, error) {
	m.mu.Lock()
	job, ok := m.table.Find(id)
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}
	if job.State() != jobs.JobStopped {
		m.mu.Unlock()
		return false, nil
	}
	snap := job.Snapshot()
	job.Continue()
	m.mu.Unlock()

	if err := m.signal(snap, unix.SIGCONT); err != nil {
		m.log.Warnw("continue failed", "job", id, "error", err)
		return true, fmt.Errorf("continue job %d: %w", id, err)
	}
	m.log.Debugw("job continued", "job", id)
	return true, nil
}

// PutInBackground lets the job run without the terminal. It never blocks.
func (m *Manager) PutInBackground(id int, cont bool) error {
	m.mu.Lock()
	ok := m.table.SetCurrent(id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}

	if cont {
		if _, err := m.continueJob(id); err != nil {
			return err
		}
	}
	return nil
}

// Hold stops reconciliation until release is called. It is held while a
// pipeline is being spawned so that a leader which already exited is not
// reaped before the remaining stages join its process group.
func (m *Manager) Hold() (release func()) {
	m.reaping.Lock()
	return m.reaping.Unlock
}
