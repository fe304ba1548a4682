package jobctl

import (
	"errors"
	"fmt"

	"github.com/josephlewis42/jobsh/core/jobs"
	"golang.org/x/sys/unix"
)

// PutInForeground gives the job the terminal, optionally continuing it,
// and blocks until it finishes or stops. The terminal is always returned
// to the shell before this returns. The result is the exit status of the
// last process in the pipeline.
func (m *Manager) PutInForeground(id int, cont bool) (int, error) {
	m.reaping.Lock()
	defer m.reaping.Unlock()

	m.mu.Lock()
	job, ok := m.table.Find(id)
	var pgid int
	if ok {
		pgid = job.PGID
		job.Foreground = true
	}
	m.mu.Unlock()
	if !ok {
		return 1, fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}

	if m.enabled && pgid > 0 {
		if err := m.sys.Tcsetpgrp(m.ttyFd, pgid); err != nil {
			m.log.Warnw("terminal handoff failed", "job", id, "pgid", pgid, "error", err)
		}
		defer m.reclaimTerminal()
	}

	if cont {
		if _, err := m.continueJob(id); err != nil {
			m.log.Warnw("continue before foreground failed", "job", id, "error", err)
		}
	}

	m.waitJob(job)

	m.mu.Lock()
	defer m.mu.Unlock()

	job.Foreground = false
	status := job.LastStatus()
	switch job.State() {
	case jobs.JobDone:
		job.Notified = true
		m.table.Remove(id)
	case jobs.JobStopped:
		job.Notified = true
		m.table.SetCurrent(id)
		if m.Out != nil {
			fmt.Fprintln(m.Out)
			m.writeJob(m.Out, job, ListOptions{})
		}
	}
	return status, nil
}

// Wait blocks until the job is no longer running without handing it the
// terminal. A job that finished is reported through its status and
// removed.
func (m *Manager) Wait(id int) (int, error) {
	m.reaping.Lock()
	defer m.reaping.Unlock()

	m.mu.Lock()
	job, ok := m.table.Find(id)
	if ok {
		job.Foreground = true
	}
	m.mu.Unlock()
	if !ok {
		return 127, fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}

	m.waitJob(job)

	m.mu.Lock()
	defer m.mu.Unlock()

	job.Foreground = false
	status := job.LastStatus()
	if job.State() == jobs.JobDone {
		job.Notified = true
		m.table.Remove(id)
	}
	return status, nil
}

// WaitAll waits for every running job and returns 0.
func (m *Manager) WaitAll() int {
	for _, job := range m.Jobs() {
		if job.State() != jobs.JobRunning {
			continue
		}
		if _, err := m.Wait(job.ID); err != nil {
			m.log.Debugw("wait skipped job", "job", job.ID, "error", err)
		}
	}
	return 0
}

func (m *Manager) reclaimTerminal() {
	if err := m.sys.Tcsetpgrp(m.ttyFd, m.shellPgid); err != nil {
		m.log.Errorw("could not reclaim terminal", "pgid", m.shellPgid, "error", err)
	}
}

// waitJob blocks while the job is running. The caller holds m.reaping.
func (m *Manager) waitJob(job *jobs.Job) {
	for {
		m.mu.Lock()
		state := job.State()
		target := -job.PGID
		if !m.enabled || job.PGID <= 0 {
			target = 0
			for _, p := range job.Processes {
				if !p.Completed() && p.State() != jobs.Stopped {
					target = p.PID
					break
				}
			}
		}
		m.mu.Unlock()

		if state != jobs.JobRunning || target == 0 {
			return
		}

		pid, ws, err := m.sys.Wait4(target, unix.WUNTRACED)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// Nothing left to wait for: the statuses were collected
			// elsewhere or the processes are not our children.
			m.log.Warnw("wait failed", "job", job.ID, "target", target, "error", err)
			m.mu.Lock()
			before := job.State()
			for _, p := range job.Processes {
				p.MarkVanished()
			}
			m.transition(job, before)
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		m.record(pid, ws)
		m.mu.Unlock()
	}
}

// Reconcile consumes every pending child status change without blocking.
func (m *Manager) Reconcile() {
	m.ReconcileStatus(-1)
}

// ReconcileStatus consumes pending status changes for target, a pid or -1
// for any child, then probes running jobs for processes that disappeared
// without being reaped. A call that overlaps another reconciliation or a
// foreground wait returns without doing anything.
func (m *Manager) ReconcileStatus(target int) {
	if !m.reaping.TryLock() {
		return
	}
	defer m.reaping.Unlock()

	for {
		pid, ws, err := m.sys.Wait4(target, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || pid <= 0 {
			break
		}
		m.mu.Lock()
		m.record(pid, ws)
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.table.Jobs() {
		if job.State() != jobs.JobRunning {
			continue
		}
		before := job.State()
		for _, p := range job.Processes {
			if p.Completed() {
				continue
			}
			if err := m.sys.Kill(p.PID, 0); errors.Is(err, unix.ESRCH) {
				m.log.Infow("process vanished", "job", job.ID, "pid", p.PID)
				p.MarkVanished()
			}
		}
		m.transition(job, before)
	}
}

// record applies a wait status to the process it belongs to, whichever
// shell level's table holds it. The caller holds m.mu.
func (m *Manager) record(pid int, ws unix.WaitStatus) {
	job, p := m.root().findByPID(pid)
	if p == nil {
		m.log.Debugw("status for unknown child", "pid", pid, "status", int(ws))
		return
	}

	before := job.State()
	if p.Update(ws) {
		m.log.Debugw("process changed", "job", job.ID, "pid", pid, "state", p.State().String())
	}
	m.transition(job, before)
}

// transition flags a job for reporting when it newly became done or
// stopped, unless a foreground wait owns the report. The caller holds m.mu.
func (m *Manager) transition(job *jobs.Job, before jobs.State) {
	after := job.State()
	if after == before {
		return
	}
	if (after == jobs.JobDone || after == jobs.JobStopped) && !job.Foreground {
		job.Notified = false
	}
	m.log.Infow("job changed", "job", job.ID, "from", before.String(), "to", after.String())
}
