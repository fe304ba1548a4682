package jobctl

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/josephlewis42/jobsh/core/jobs"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func exited(code int) unix.WaitStatus          { return unix.WaitStatus(code << 8) }
func signaled(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(sig) }
func stopped(sig unix.Signal) unix.WaitStatus  { return unix.WaitStatus(int(sig)<<8 | 0x7f) }

func TestPutInForegroundDone(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "yes | head -n 1", 10, "yes", "head -n 1")
	sys.post(11, exited(3))
	sys.post(10, signaled(unix.SIGPIPE))

	status, err := m.PutInForeground(id, false)
	require.NoError(t, err)

	assert.Equal(t, 3, status, "status of the last stage")
	assert.Equal(t, []int{10, 1}, sys.fg)
	_, ok := m.FindJob(id)
	assert.False(t, ok, "finished foreground jobs are dropped")
}

func TestPutInForegroundStopped(t *testing.T) {
	m, sys, out := newTestManager(true)
	id := startJob(m, sys, "sleep 100", 10, "sleep 100")
	sys.post(10, stopped(unix.SIGTSTP))

	status, err := m.PutInForeground(id, false)
	require.NoError(t, err)

	assert.Equal(t, 128+int(unix.SIGTSTP), status)
	assert.Equal(t, 1, sys.lastForeground())
	assert.Equal(t, "\n[1]+  Stopped                 sleep 100\n", out.String())

	job, ok := m.FindCurrentJob()
	require.True(t, ok)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, jobs.JobStopped, job.State())
	assert.True(t, m.HasStoppedJobs())
	assert.True(t, m.HasActiveJobs())
}

func TestPutInForegroundAlwaysReclaimsTerminal(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "cat", 10, "cat")
	sys.fgFail[10] = unix.EPERM

	// No events are queued, so the blocking wait fails with ECHILD.
	status, err := m.PutInForeground(id, false)
	require.NoError(t, err)

	assert.Equal(t, 0, status)
	assert.Equal(t, 1, sys.lastForeground())
}

func TestPutInForegroundContinues(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "vi", 10, "vi")
	sys.post(10, stopped(unix.SIGTSTP))
	m.Reconcile()

	sys.post(10, exited(0))
	status, err := m.PutInForeground(id, true)
	require.NoError(t, err)

	assert.Equal(t, 0, status)
	assert.Contains(t, sys.kills, killCall{-10, unix.SIGCONT})
}

func TestPutInForegroundUnknownJob(t *testing.T) {
	m, sys, _ := newTestManager(true)

	_, err := m.PutInForeground(7, false)
	assert.True(t, errors.Is(err, ErrNoSuchJob))
	assert.Empty(t, sys.fg)
}

func TestPutInForegroundDisabled(t *testing.T) {
	m, sys, _ := newTestManager(false)
	id := startJob(m, sys, "a | b", 10, "a", "b")
	sys.post(10, exited(0))
	sys.post(11, exited(2))

	status, err := m.PutInForeground(id, false)
	require.NoError(t, err)

	assert.Equal(t, 2, status)
	assert.Empty(t, sys.fg, "no terminal handoff without job control")
}

func TestPutInBackground(t *testing.T) {
	m, sys, _ := newTestManager(true)
	first := startJob(m, sys, "sleep 1", 10, "sleep 1")
	second := startJob(m, sys, "sleep 2", 20, "sleep 2")

	require.NoError(t, m.PutInBackground(first, false))
	job, _ := m.FindCurrentJob()
	assert.Equal(t, first, job.ID)

	// Already running: nothing is sent.
	require.NoError(t, m.PutInBackground(second, true))
	assert.Empty(t, sys.kills)
	job, _ = m.FindJob(second)
	assert.Equal(t, jobs.JobRunning, job.State())

	sys.post(10, stopped(unix.SIGTTIN))
	m.Reconcile()
	require.NoError(t, m.PutInBackground(first, true))
	assert.Equal(t, []killCall{{-10, unix.SIGCONT}}, sys.kills)
	job, _ = m.FindJob(first)
	assert.Equal(t, jobs.JobRunning, job.State())

	assert.True(t, errors.Is(m.PutInBackground(42, true), ErrNoSuchJob))
}

func TestReconcileMarksTransitions(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "sleep 5", 10, "sleep 5")

	job, _ := m.FindJob(id)
	assert.True(t, job.Notified)

	sys.post(10, exited(0))
	m.Reconcile()

	job, _ = m.FindJob(id)
	assert.Equal(t, jobs.JobDone, job.State())
	assert.False(t, job.Notified)
	assert.False(t, m.HasActiveJobs())
}

func TestReconcileIdempotent(t *testing.T) {
	m, sys, _ := newTestManager(true)
	startJob(m, sys, "a", 10, "a")
	startJob(m, sys, "b", 20, "b")
	sys.post(20, stopped(unix.SIGSTOP))

	m.Reconcile()
	first := m.Jobs()
	m.Reconcile()
	second := m.Jobs()

	assert.Equal(t, first, second)
}

func TestReconcileVanishedProcess(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "daemon", 10, "daemon")
	sys.gone[10] = true

	m.Reconcile()

	job, _ := m.FindJob(id)
	assert.Equal(t, jobs.JobDone, job.State())
	assert.True(t, job.Processes[0].Vanished())
	assert.False(t, job.Notified)
}

func TestReconcileOverlapIsNoop(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "a", 10, "a")
	sys.post(10, exited(0))

	m.reaping.Lock()
	m.Reconcile()
	job, _ := m.FindJob(id)
	assert.Equal(t, jobs.JobRunning, job.State())
	m.reaping.Unlock()

	m.Reconcile()
	job, _ = m.FindJob(id)
	assert.Equal(t, jobs.JobDone, job.State())
}

func TestReconcileIgnoresUnknownChildren(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "a", 10, "a")
	sys.post(99, exited(0))

	m.Reconcile()

	job, _ := m.FindJob(id)
	assert.Equal(t, jobs.JobRunning, job.State())
}

func TestShowJobsReportsDoneOnce(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "sleep 5", 10, "sleep 5")
	require.NoError(t, m.PutInBackground(id, false))

	var buf bytes.Buffer
	m.ShowJobs(&buf, ListOptions{})
	assert.Equal(t, "[1]+  Running                 sleep 5\n", buf.String())

	sys.post(10, exited(0))
	buf.Reset()
	m.ShowJobs(&buf, ListOptions{})
	assert.Equal(t, "[1]+  Done                    sleep 5\n", buf.String())

	buf.Reset()
	m.ShowJobs(&buf, ListOptions{})
	assert.Empty(t, buf.String())
}

func TestShowJobsFilteredKeepsUnreportedDone(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "true", 10, "true")
	sys.post(10, exited(0))

	var buf bytes.Buffer
	m.ShowJobs(&buf, ListOptions{RunningOnly: true})
	assert.Empty(t, buf.String())

	_, ok := m.FindJob(id)
	assert.True(t, ok, "a done job is kept until it has been shown")
}

func TestNotify(t *testing.T) {
	m, sys, out := newTestManager(true)
	startJob(m, sys, "sleep 1", 10, "sleep 1")
	startJob(m, sys, "sleep 100", 20, "sleep 100")
	startJob(m, sys, "false", 30, "false")
	sys.post(10, exited(0))
	sys.post(30, exited(1))

	m.Notify(out)
	assert.Equal(t, "[1]   Done                    sleep 1\n[3]+  Exit 1                  false\n", out.String())

	out.Reset()
	m.Notify(out)
	assert.Empty(t, out.String())
	assert.Len(t, m.Jobs(), 1)
}

func TestSignalJob(t *testing.T) {
	m, sys, _ := newTestManager(false)
	id := startJob(m, sys, "a | b", 10, "a", "b")
	sys.post(10, exited(0))
	m.Reconcile()

	require.NoError(t, m.SignalJob(id, unix.SIGTERM))
	assert.Equal(t, []killCall{{11, unix.SIGTERM}}, sys.kills, "only live processes without job control")

	m.enabled = true
	sys.kills = nil
	require.NoError(t, m.SignalJob(id, unix.SIGTERM))
	assert.Equal(t, []killCall{{-10, unix.SIGTERM}}, sys.kills)

	assert.True(t, errors.Is(m.SignalJob(5, unix.SIGTERM), ErrNoSuchJob))
}

func TestWait(t *testing.T) {
	m, sys, _ := newTestManager(true)
	id := startJob(m, sys, "sleep 1", 10, "sleep 1")
	sys.post(10, exited(4))

	status, err := m.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, 4, status)
	assert.Empty(t, sys.fg)
	_, ok := m.FindJob(id)
	assert.False(t, ok)
}

func TestAddProcessUnknownJob(t *testing.T) {
	m, _, _ := newTestManager(true)
	assert.True(t, errors.Is(m.AddProcess(3, 10, "x"), ErrNoSuchJob))
}

func TestJobListing(t *testing.T) {
	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
		goldie.WithTestNameForDir(true),
	)

	build := func() *Manager {
		m, sys, _ := newTestManager(true)
		startJob(m, sys, "yes | head -n 1", 100, "yes", "head -n 1")
		startJob(m, sys, "vi notes.txt", 200, "vi notes.txt")
		startJob(m, sys, "sleep 100", 300, "sleep 100")
		startJob(m, sys, "make", 400, "make")
		sys.post(100, signaled(unix.SIGPIPE))
		sys.post(101, exited(0))
		sys.post(200, stopped(unix.SIGTTIN))
		sys.post(400, signaled(unix.SIGKILL))
		m.Reconcile()
		require.NoError(t, m.PutInBackground(3, false))
		return m
	}

	cases := map[string]ListOptions{
		"default": {},
		"long":    {Long: true},
		"pids":    {PIDsOnly: true},
		"running": {RunningOnly: true},
		"stopped": {StoppedOnly: true},
		"changed": {ChangedOnly: true},
	}

	for tn, opts := range cases {
		t.Run(tn, func(t *testing.T) {
			var buf bytes.Buffer
			build().ShowJobs(&buf, opts)
			g.Assert(t, tn, buf.Bytes())
		})
	}
}

func TestNotifySkipsJobInForeground(t *testing.T) {
	m, sys, out := newTestManager(true)
	id := startJob(m, sys, "make", 10, "make")

	// Claim the job the way PutInForeground does, then let it finish
	// while the shell still owns it.
	m.reaping.Lock()
	m.mu.Lock()
	job, ok := m.table.Find(id)
	require.True(t, ok)
	job.Foreground = true
	m.mu.Unlock()
	sys.post(10, exited(5))
	m.waitJob(job)

	m.Notify(out)
	assert.Empty(t, out.String(), "the waiter reports foreground jobs")
	_, ok = m.FindJob(id)
	assert.True(t, ok, "not collected behind the waiter's back")
	m.reaping.Unlock()

	status, err := m.PutInForeground(id, false)
	require.NoError(t, err)
	assert.Equal(t, 5, status)

	m.Notify(out)
	assert.Empty(t, out.String())
	assert.Empty(t, m.Jobs())
}

func TestChildHasOwnTable(t *testing.T) {
	m, sys, _ := newTestManager(true)
	startJob(m, sys, "sleep 100", 10, "sleep 100")

	child := m.Child()
	defer child.Close()
	id := startJob(child, sys, "sleep 1", 20, "sleep 1")

	assert.Equal(t, 1, id, "numbering starts over in a subshell")
	require.Len(t, m.Jobs(), 1)
	assert.Equal(t, "sleep 100", m.Jobs()[0].Command)
	require.Len(t, child.Jobs(), 1)
	assert.Equal(t, "sleep 1", child.Jobs()[0].Command)
	assert.True(t, child.Enabled())
	assert.Equal(t, m.TerminalFd(), child.TerminalFd())
}

func TestParentReapsChildJobs(t *testing.T) {
	m, sys, _ := newTestManager(true)
	child := m.Child()
	defer child.Close()
	id := startJob(child, sys, "sleep 1", 20, "sleep 1")
	sys.post(20, exited(0))

	m.Reconcile()

	job, ok := child.FindJob(id)
	require.True(t, ok)
	assert.Equal(t, jobs.JobDone, job.State())
	assert.Empty(t, m.Jobs())
}

func TestChildForegroundSharesReaping(t *testing.T) {
	m, sys, _ := newTestManager(true)
	child := m.Child()
	defer child.Close()
	id := startJob(child, sys, "cat", 20, "cat")
	sys.post(20, exited(2))

	release := m.Hold()
	child.ReconcileStatus(-1)
	release()
	job, ok := child.FindJob(id)
	require.True(t, ok)
	assert.Equal(t, jobs.JobRunning, job.State(), "a hold on the parent also holds the subshell")

	status, err := child.PutInForeground(id, false)
	require.NoError(t, err)
	assert.Equal(t, 2, status)
	assert.Equal(t, 1, sys.lastForeground(), "the terminal goes back to the shell")
}

func TestChildCloseAdoptsStoppedJobs(t *testing.T) {
	m, sys, _ := newTestManager(true)
	startJob(m, sys, "sleep 100", 10, "sleep 100")

	child := m.Child()
	startJob(child, sys, "sleep 1", 20, "sleep 1")
	startJob(child, sys, "vi", 30, "vi")
	sys.post(30, stopped(unix.SIGTSTP))
	m.Reconcile()

	child.Close()

	list := m.Jobs()
	require.Len(t, list, 2)
	assert.Equal(t, "vi", list[1].Command)
	assert.Equal(t, 2, list[1].ID)
	assert.Equal(t, jobs.JobStopped, list[1].State())
	current, ok := m.FindCurrentJob()
	require.True(t, ok)
	assert.Equal(t, 2, current.ID)

	// The running job was forgotten, so its exit is just an unknown child.
	sys.post(20, exited(0))
	m.Reconcile()
	assert.Len(t, m.Jobs(), 2)
}

func TestNestedChildCloseKeepsGrandchild(t *testing.T) {
	m, sys, _ := newTestManager(true)
	child := m.Child()
	grandchild := child.Child()
	defer grandchild.Close()
	id := startJob(grandchild, sys, "sleep 1", 20, "sleep 1")

	child.Close()
	sys.post(20, exited(0))
	m.Reconcile()

	job, ok := grandchild.FindJob(id)
	require.True(t, ok)
	assert.Equal(t, jobs.JobDone, job.State())
}
