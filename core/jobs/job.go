package jobs

// State is the derived state of a Job.
type State int

const (
	JobRunning State = iota
	JobStopped
	JobDone
)

func (s State) String() string {
	switch s {
	case JobRunning:
		return "Running"
	case JobStopped:
		return "Stopped"
	case JobDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Job is a pipeline of processes sharing one process group.
type Job struct {
	ID      int
	PGID    int
	Command string

	// Processes are kept in pipeline order.
	Processes []*Process

	// Notified is false while the latest Done or Stopped transition has not
	// been shown to the user.
	Notified bool

	// Foreground is set while the shell blocks on the job. Its transitions
	// are reported by the waiter, never as asynchronous notifications.
	Foreground bool
}

// State is computed from the processes on every call. A job without
// processes is still under construction and counts as running.
func (j *Job) State() State {
	if len(j.Processes) == 0 {
		return JobRunning
	}

	done := true
	stopped := false
	for _, p := range j.Processes {
		switch p.State() {
		case Exited, Signaled:
		case Stopped:
			done = false
			stopped = true
		default:
			return JobRunning
		}
	}
	if done {
		return JobDone
	}
	if stopped {
		return JobStopped
	}
	return JobRunning
}

// Leader returns the pid of the first process, or 0 if there is none.
func (j *Job) Leader() int {
	if len(j.Processes) == 0 {
		return 0
	}
	return j.Processes[0].PID
}

// Last returns the final pipeline stage.
func (j *Job) Last() *Process {
	if len(j.Processes) == 0 {
		return nil
	}
	return j.Processes[len(j.Processes)-1]
}

// LastStatus is the exit status of the final pipeline stage.
func (j *Job) LastStatus() int {
	if p := j.Last(); p != nil {
		return p.Status()
	}
	return 0
}

func (j *Job) FindProcess(pid int) *Process {
	for _, p := range j.Processes {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

// Continue marks every stopped process as running again.
func (j *Job) Continue() {
	for _, p := range j.Processes {
		p.Continue()
	}
}

// Snapshot returns a deep copy that callers can read without holding the
// owner's lock.
func (j *Job) Snapshot() *Job {
	cp := *j
	cp.Processes = make([]*Process, len(j.Processes))
	for i, p := range j.Processes {
		cp.Processes[i] = p.clone()
	}
	return &cp
}
