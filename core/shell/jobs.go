package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/josephlewis42/jobsh/core/executor"
	"github.com/josephlewis42/jobsh/core/jobctl"
	"github.com/josephlewis42/jobsh/core/jobs"
	"golang.org/x/sys/unix"
)

var errAmbiguousJob = errors.New("ambiguous job spec")

// ResolveJob finds the job named by spec: %N or N for job N, %%, %+ or
// the empty string for the current job, %- for the previous one and
// %PREFIX for the job whose command starts with PREFIX.
func (s *Shell) ResolveJob(spec string) (*jobs.Job, error) {
	return resolveJob(s.Jobs, spec)
}

// jobsOf returns the job table e works with. A subshell only sees the jobs
// it started itself.
func (s *Shell) jobsOf(e *executor.Executor) *jobctl.Manager {
	if m, ok := e.Jobs.(*jobctl.Manager); ok {
		return m
	}
	return s.Jobs
}

func resolveJob(m *jobctl.Manager, spec string) (*jobs.Job, error) {
	var (
		job *jobs.Job
		ok  bool
	)

	switch spec {
	case "", "%", "%%", "%+":
		job, ok = m.FindCurrentJob()
		if !ok {
			return nil, fmt.Errorf("current: %w", jobctl.ErrNoSuchJob)
		}
		return job, nil
	case "%-":
		job, ok = m.FindPreviousJob()
	default:
		name := strings.TrimPrefix(spec, "%")
		if id, err := strconv.Atoi(name); err == nil {
			job, ok = m.FindJob(id)
			break
		}
		if !strings.HasPrefix(spec, "%") {
			break
		}
		for _, candidate := range m.Jobs() {
			if !strings.HasPrefix(candidate.Command, name) {
				continue
			}
			if ok {
				return nil, fmt.Errorf("%s: %w", spec, errAmbiguousJob)
			}
			job, ok = candidate, true
		}
	}

	if !ok {
		return nil, fmt.Errorf("%s: %w", spec, jobctl.ErrNoSuchJob)
	}
	return job, nil
}

// Jobs lists the jobs table.
func Jobs(s *Shell, e *executor.Executor, args []string) int {
	jm := s.jobsOf(e)
	cmd := &SimpleCommand{
		Use:   "jobs [-lnprs]",
		Short: "Display status of jobs.",
	}

	opts := cmd.Flags()
	opts.SetProgram(args[0])
	long := opts.Bool('l', "list process IDs in addition to the normal information")
	changed := opts.Bool('n', "list only jobs that have changed status since the last notification")
	pids := opts.Bool('p', "list process IDs only")
	running := opts.Bool('r', "restrict output to running jobs")
	stopped := opts.Bool('s', "restrict output to stopped jobs")

	return cmd.Run(e, args, func() int {
		listOpts := jobctl.ListOptions{
			Long:        *long,
			PIDsOnly:    *pids,
			ChangedOnly: *changed,
			RunningOnly: *running,
			StoppedOnly: *stopped,
		}

		if len(opts.Args()) == 0 {
			jm.ShowJobs(e.Stdout(), listOpts)
			return 0
		}

		status := 0
		for _, spec := range opts.Args() {
			job, err := resolveJob(jm, spec)
			if err != nil {
				status = errorf(e, args, "%v", err)
				continue
			}
			if err := jm.ShowJob(e.Stdout(), job.ID, listOpts); err != nil {
				status = errorf(e, args, "%v", err)
			}
		}
		return status
	})
}

// Fg resumes a job in the foreground and waits for it.
func Fg(s *Shell, e *executor.Executor, args []string) int {
	jm := s.jobsOf(e)
	if !jm.Enabled() {
		return errorf(e, args, "%v", jobctl.ErrDisabled)
	}
	if len(args) > 2 {
		return errorf(e, args, "too many arguments")
	}

	spec := ""
	if len(args) == 2 {
		spec = args[1]
	}
	job, err := resolveJob(jm, spec)
	if err != nil {
		return errorf(e, args, "%v", err)
	}

	fmt.Fprintln(e.Stdout(), job.Command)
	status, err := jm.PutInForeground(job.ID, true)
	if err != nil {
		return errorf(e, args, "%v", err)
	}
	return status
}

// Bg resumes stopped jobs in the background.
func Bg(s *Shell, e *executor.Executor, args []string) int {
	jm := s.jobsOf(e)
	if !jm.Enabled() {
		return errorf(e, args, "%v", jobctl.ErrDisabled)
	}

	specs := args[1:]
	if len(specs) == 0 {
		specs = []string{""}
	}

	status := 0
	for _, spec := range specs {
		job, err := resolveJob(jm, spec)
		if err != nil {
			status = errorf(e, args, "%v", err)
			continue
		}
		if job.State() == jobs.JobRunning {
			errorf(e, args, "job %d already in background", job.ID)
			continue
		}

		fmt.Fprintf(e.Stdout(), "[%d]+ %s &\n", job.ID, job.Command)
		if err := jm.PutInBackground(job.ID, true); err != nil {
			status = errorf(e, args, "%v", err)
		}
	}
	return status
}

// Wait blocks until the named jobs, or all jobs, finish.
func Wait(s *Shell, e *executor.Executor, args []string) int {
	jm := s.jobsOf(e)
	if len(args) == 1 {
		return jm.WaitAll()
	}

	status := 0
	for _, spec := range args[1:] {
		var job *jobs.Job
		if strings.HasPrefix(spec, "%") {
			var err error
			if job, err = resolveJob(jm, spec); err != nil {
				errorf(e, args, "%v", err)
				status = executor.StatusNotFound
				continue
			}
		} else {
			pid, err := strconv.Atoi(spec)
			if err != nil {
				status = errorf(e, args, "`%s': not a pid or valid job spec", spec)
				continue
			}
			var ok bool
			if job, ok = jm.FindJobByPID(pid); !ok {
				errorf(e, args, "pid %d is not a child of this shell", pid)
				status = executor.StatusNotFound
				continue
			}
		}

		var err error
		if status, err = jm.Wait(job.ID); err != nil {
			errorf(e, args, "%v", err)
		}
	}
	return status
}

// parseSignal accepts a signal number or a name with or without the SIG
// prefix, in any case.
func parseSignal(name string) (unix.Signal, error) {
	if n, err := strconv.Atoi(name); err == nil {
		if unix.SignalName(unix.Signal(n)) == "" && n != 0 {
			return 0, fmt.Errorf("%s: invalid signal specification", name)
		}
		return unix.Signal(n), nil
	}

	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	if sig := unix.SignalNum(upper); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("%s: invalid signal specification", name)
}

// Kill sends a signal to jobs or processes.
func Kill(s *Shell, e *executor.Executor, args []string) int {
	jm := s.jobsOf(e)
	sig := unix.SIGTERM
	targets := args[1:]

	if len(targets) > 0 && strings.HasPrefix(targets[0], "-") && targets[0] != "-" {
		switch flag := targets[0]; flag {
		case "-l", "-L":
			return listSignals(e, targets[1:])
		case "-s", "-n":
			if len(targets) < 2 {
				return errorf(e, args, "%s: option requires an argument", flag)
			}
			parsed, err := parseSignal(targets[1])
			if err != nil {
				return errorf(e, args, "%v", err)
			}
			sig, targets = parsed, targets[2:]
		case "--":
			targets = targets[1:]
		default:
			parsed, err := parseSignal(flag[1:])
			if err != nil {
				return errorf(e, args, "%v", err)
			}
			sig, targets = parsed, targets[1:]
		}
	}

	if len(targets) == 0 {
		fmt.Fprintln(e.Stderr(), "kill: usage: kill [-s sigspec | -n signum | -sigspec] pid | jobspec ... or kill -l [sigspec]")
		return 2
	}

	status := 0
	for _, target := range targets {
		if strings.HasPrefix(target, "%") {
			job, err := resolveJob(jm, target)
			if err != nil {
				status = errorf(e, args, "%v", err)
				continue
			}
			if err := jm.SignalJob(job.ID, sig); err != nil {
				status = errorf(e, args, "%s: %v", target, err)
				continue
			}
			// A stopped job only acts on most signals once continued.
			if job.State() == jobs.JobStopped && sig != unix.SIGKILL && sig != unix.SIGCONT {
				jm.SignalJob(job.ID, unix.SIGCONT)
			}
			continue
		}

		pid, err := strconv.Atoi(target)
		if err != nil {
			status = errorf(e, args, "%s: arguments must be process or job IDs", target)
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			status = errorf(e, args, "(%d) - %s", pid, describeErr(err))
		}
	}
	return status
}

func listSignals(e *executor.Executor, names []string) int {
	if len(names) == 0 {
		var out []string
		for sig := unix.Signal(1); sig < 32; sig++ {
			if name := unix.SignalName(sig); name != "" {
				out = append(out, fmt.Sprintf("%2d) %s", sig, name))
			}
		}
		fmt.Fprintln(e.Stdout(), strings.Join(out, "\n"))
		return 0
	}

	status := 0
	for _, name := range names {
		// A number names a signal, or an exit status of a signaled process.
		if n, err := strconv.Atoi(name); err == nil {
			if n > 128 {
				n -= 128
			}
			if sigName := unix.SignalName(unix.Signal(n)); sigName != "" {
				fmt.Fprintln(e.Stdout(), strings.TrimPrefix(sigName, "SIG"))
				continue
			}
		} else if sig, err := parseSignal(name); err == nil {
			fmt.Fprintln(e.Stdout(), int(sig))
			continue
		}
		status = errorf(e, []string{"kill"}, "%s: invalid signal specification", name)
	}
	return status
}

func init() {
	AllBuiltins["jobs"] = BuiltinFunc(Jobs)
	AllBuiltins["fg"] = BuiltinFunc(Fg)
	AllBuiltins["bg"] = BuiltinFunc(Bg)
	AllBuiltins["wait"] = BuiltinFunc(Wait)
	AllBuiltins["kill"] = BuiltinFunc(Kill)
}
