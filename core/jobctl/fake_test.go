package jobctl

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type waitEvent struct {
	pid int
	ws  unix.WaitStatus
}

type killCall struct {
	pid int
	sig unix.Signal
}

// fakeSystem replays scripted wait statuses instead of touching real
// processes.
type fakeSystem struct {
	mu sync.Mutex

	shellPgid int
	pgids     map[int]int
	events    []waitEvent
	gone      map[int]bool
	kills     []killCall
	fg        []int
	fgFail    map[int]error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		shellPgid: 1,
		pgids:     make(map[int]int),
		gone:      make(map[int]bool),
		fgFail:    make(map[int]error),
	}
}

func (f *fakeSystem) spawn(pid, pgid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pgids[pid] = pgid
}

func (f *fakeSystem) post(pid int, ws unix.WaitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, waitEvent{pid, ws})
}

func (f *fakeSystem) Wait4(pid int, options int) (int, unix.WaitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, ev := range f.events {
		if pid == -1 || ev.pid == pid || (pid < -1 && f.pgids[ev.pid] == -pid) {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return ev.pid, ev.ws, nil
		}
	}
	if options&unix.WNOHANG != 0 {
		return 0, 0, nil
	}
	return -1, 0, unix.ECHILD
}

func (f *fakeSystem) Kill(pid int, sig unix.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sig == 0 {
		if f.gone[pid] {
			return unix.ESRCH
		}
		return nil
	}
	f.kills = append(f.kills, killCall{pid, sig})
	return nil
}

func (f *fakeSystem) Tcsetpgrp(fd int, pgid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fg = append(f.fg, pgid)
	return f.fgFail[pgid]
}

func (f *fakeSystem) Tcgetpgrp(fd int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.fg) == 0 {
		return f.shellPgid, nil
	}
	return f.fg[len(f.fg)-1], nil
}

func (f *fakeSystem) Getpgrp() int          { return f.shellPgid }
func (f *fakeSystem) Getpid() int           { return f.shellPgid }
func (f *fakeSystem) Setpgid(_, _ int) error { return nil }

func (f *fakeSystem) lastForeground() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fg) == 0 {
		return 0
	}
	return f.fg[len(f.fg)-1]
}

// newTestManager returns a manager that believes it controls terminal
// fd 99.
func newTestManager(enabled bool) (*Manager, *fakeSystem, *bytes.Buffer) {
	sys := newFakeSystem()
	out := &bytes.Buffer{}
	m := New(sys, zap.NewNop().Sugar(), out)
	if enabled {
		m.enabled = true
		m.ttyFd = 99
	}
	return m, sys, out
}

// startJob creates a job whose processes have consecutive pids starting
// at leader.
func startJob(m *Manager, sys *fakeSystem, command string, leader int, stages ...string) int {
	id := m.CreateJob(command, 0)
	for i, stage := range stages {
		sys.spawn(leader+i, leader)
		if err := m.AddProcess(id, leader+i, stage); err != nil {
			panic(err)
		}
	}
	return id
}
