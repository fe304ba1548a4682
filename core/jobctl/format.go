package jobctl

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/josephlewis42/jobsh/core/jobs"
	"golang.org/x/sys/unix"
)

// ListOptions filter and shape the job listing.
type ListOptions struct {
	// Long includes the pid of every process.
	Long bool
	// PIDsOnly prints only the process group leader of each job.
	PIDsOnly bool
	// ChangedOnly limits output to jobs whose state change was not yet
	// reported.
	ChangedOnly bool
	RunningOnly bool
	StoppedOnly bool
}

func (o ListOptions) match(job *jobs.Job) bool {
	state := job.State()
	switch {
	case o.ChangedOnly && job.Notified:
		return false
	case o.RunningOnly && state != jobs.JobRunning:
		return false
	case o.StoppedOnly && state != jobs.JobStopped:
		return false
	}
	return true
}

var signalDescriptions = map[unix.Signal]string{
	unix.SIGHUP:  "Hangup",
	unix.SIGINT:  "Interrupt",
	unix.SIGQUIT: "Quit",
	unix.SIGILL:  "Illegal instruction",
	unix.SIGTRAP: "Trace/breakpoint trap",
	unix.SIGABRT: "Aborted",
	unix.SIGBUS:  "Bus error",
	unix.SIGFPE:  "Floating point exception",
	unix.SIGKILL: "Killed",
	unix.SIGUSR1: "User defined signal 1",
	unix.SIGSEGV: "Segmentation fault",
	unix.SIGUSR2: "User defined signal 2",
	unix.SIGPIPE: "Broken pipe",
	unix.SIGALRM: "Alarm clock",
	unix.SIGTERM: "Terminated",
}

// SignalDescription is the human readable name of a terminating signal.
func SignalDescription(sig unix.Signal) string {
	if desc, ok := signalDescriptions[sig]; ok {
		return desc
	}
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("Signal %d", int(sig))
}

func stoppedLabel(sig unix.Signal) string {
	switch sig {
	case unix.SIGTSTP, 0:
		return "Stopped"
	case unix.SIGSTOP:
		return "Stopped (signal)"
	case unix.SIGTTIN:
		return "Stopped (tty input)"
	case unix.SIGTTOU:
		return "Stopped (tty output)"
	default:
		return fmt.Sprintf("Stopped (%s)", unix.SignalName(sig))
	}
}

func processLabel(p *jobs.Process) string {
	switch p.State() {
	case jobs.Exited:
		if p.ExitCode() == 0 {
			return "Done"
		}
		return fmt.Sprintf("Exit %d", p.ExitCode())
	case jobs.Signaled:
		return SignalDescription(p.TermSignal())
	case jobs.Stopped:
		return stoppedLabel(p.StopSignal())
	default:
		return "Running"
	}
}

// StateLabel describes the job the way the jobs builtin shows it.
func StateLabel(job *jobs.Job) string {
	switch job.State() {
	case jobs.JobDone:
		return processLabel(job.Last())
	case jobs.JobStopped:
		for _, p := range job.Processes {
			if p.State() == jobs.Stopped {
				return stoppedLabel(p.StopSignal())
			}
		}
		return "Stopped"
	default:
		return "Running"
	}
}

var stateColors = map[jobs.State]*color.Color{
	jobs.JobRunning: color.New(color.FgGreen),
	jobs.JobStopped: color.New(color.FgYellow),
	jobs.JobDone:    color.New(color.FgBlue),
}

func (m *Manager) paint(state jobs.State, label string) string {
	padded := fmt.Sprintf("%-24s", label)
	if !m.Colors {
		return padded
	}
	return stateColors[state].Sprint(padded)
}

// marker returns '+' for the current job, '-' for the previous one. The
// caller holds m.mu.
func (m *Manager) marker(job *jobs.Job) byte {
	if cur, ok := m.table.Current(); ok && cur.ID == job.ID {
		return '+'
	}
	if prev, ok := m.table.Previous(); ok && prev.ID == job.ID {
		return '-'
	}
	return ' '
}

// writeJob prints one job. The caller holds m.mu.
func (m *Manager) writeJob(w io.Writer, job *jobs.Job, opts ListOptions) {
	if opts.PIDsOnly {
		fmt.Fprintln(w, job.Leader())
		return
	}

	mark := m.marker(job)
	if !opts.Long {
		fmt.Fprintf(w, "[%d]%c  %s%s\n", job.ID, mark, m.paint(job.State(), StateLabel(job)), job.Command)
		return
	}

	for i, p := range job.Processes {
		if i == 0 {
			fmt.Fprintf(w, "[%d]%c %5d %s%s\n", job.ID, mark, p.PID, m.paint(job.State(), processLabel(p)), p.Command)
			continue
		}
		fmt.Fprintf(w, "     %5d %s| %s\n", p.PID, m.paint(job.State(), processLabel(p)), p.Command)
	}
}

// ShowJobs reconciles, lists the jobs matching opts, marks them notified,
// and drops finished jobs that have now been reported.
func (m *Manager) ShowJobs(w io.Writer, opts ListOptions) {
	m.Reconcile()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.table.Jobs() {
		if !opts.match(job) {
			continue
		}
		m.writeJob(w, job, opts)
		job.Notified = true
	}
	m.collect()
}

// ShowJob lists a single job when it matches opts.
func (m *Manager) ShowJob(w io.Writer, id int, opts ListOptions) error {
	m.Reconcile()

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.table.Find(id)
	if !ok {
		return fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}
	if opts.match(job) {
		m.writeJob(w, job, opts)
		job.Notified = true
	}
	m.collect()
	return nil
}

// Notify reports jobs that finished or stopped since they were last shown.
// The shell calls it before printing a prompt.
func (m *Manager) Notify(w io.Writer) {
	m.Reconcile()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.table.Jobs() {
		if job.Notified || job.Foreground || job.State() == jobs.JobRunning {
			continue
		}
		m.writeJob(w, job, ListOptions{})
		job.Notified = true
	}
	m.collect()
}

// collect removes finished jobs that were reported. The caller holds m.mu.
func (m *Manager) collect() {
	for _, job := range m.table.Jobs() {
		if job.State() == jobs.JobDone && job.Notified && !job.Foreground {
			m.log.Debugw("job removed", "job", job.ID)
			m.table.Remove(job.ID)
		}
	}
}
