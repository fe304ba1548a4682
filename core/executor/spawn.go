package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/syntaxtree"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// stage is one element of a pipeline.
type stage struct {
	node syntaxtree.Node

	// args are the expanded words of a simple command, nil until expanded.
	args []string

	// Filled in by prepare. An empty path means the stage re-runs the
	// shell on the node's source.
	path   string
	argv   []string
	env    []string
	redirs []resolvedRedir
	err    error
	status int
}

func stagesOf(nodes ...syntaxtree.Node) []*stage {
	out := make([]*stage, len(nodes))
	for i, n := range nodes {
		out[i] = &stage{node: n}
	}
	return out
}

// prepare does all expansion for the stage up front. Expansion can run
// command substitutions, which must not happen while the job's processes
// are being started.
func (e *Executor) prepare(ctx context.Context, st *stage) {
	c, ok := st.node.(*syntaxtree.Command)
	if ok && st.args == nil {
		st.args, st.err = e.fields(ctx, c.Args...)
		if st.err != nil {
			st.status = 1
			return
		}
	}
	if !ok || len(st.args) == 0 || e.isBuiltin(st.args[0]) {
		st.argv = e.selfArgv(st.node.Source())
		if len(st.argv) == 0 {
			st.err = fmt.Errorf("%s: cannot start a new shell", st.node.Source())
			st.status = StatusNotExecutable
			return
		}
		st.path, st.env = st.argv[0], e.Vars.Environ()
		return
	}

	vars := e.Vars
	if len(c.Assigns) > 0 {
		vars = e.Vars.Clone()
		if st.err = e.assign(ctx, vars, c.Assigns, true); st.err != nil {
			st.status = 1
			return
		}
	}
	st.env = append(vars.Environ(), env.PWD+"="+e.Dir)

	if st.redirs, st.err = e.resolveRedirections(ctx, c.Redirs); st.err != nil {
		st.status = 1
		return
	}

	name := st.args[0]
	path, err := LookPath(e.FS, e.Dir, vars.Getenv(env.Path), name)
	if err != nil {
		st.err = &CommandError{Name: name, Status: statusFor(err), Err: err}
		st.status = statusFor(err)
		return
	}
	st.path, st.argv = path, st.args
}

// selfArgv is the command line running source in a new shell process that
// starts with this shell's unexported variables.
func (e *Executor) selfArgv(source string) []string {
	if len(e.Self) == 0 {
		return nil
	}

	var prelude strings.Builder
	e.Vars.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported || !vr.IsSet() || vr.Kind != expand.String || !syntax.ValidName(name) {
			return true
		}
		quoted, err := syntax.Quote(vr.Str, syntax.LangPOSIX)
		if err != nil {
			return true
		}
		fmt.Fprintf(&prelude, "%s=%s\n", name, quoted)
		return true
	})

	argv := append([]string(nil), e.Self...)
	argv = append(argv, "-c", prelude.String()+source, "--", e.Name)
	return append(argv, e.Params...)
}

// launch starts the stages as one job connected by pipes and either waits
// for it or leaves it running in the background.
func (e *Executor) launch(ctx context.Context, text string, stages []*stage, bg bool) int {
	for _, st := range stages {
		e.prepare(ctx, st)
	}

	var stdin *os.File
	if bg && !e.Jobs.Enabled() {
		// Background jobs without job control cannot share the terminal.
		devNull, err := os.Open(os.DevNull)
		if err != nil {
			return e.fail(1, err)
		}
		defer devNull.Close()
		stdin = devNull
	}

	jobID := e.Jobs.CreateJob(text, 0)
	release := e.Jobs.Hold()

	var (
		prevR   *os.File
		pgid    int
		started int
		failed  = -1
	)
	for i, st := range stages {
		files := e.Files.Clone()
		if stdin != nil && i == 0 {
			files.Set(0, stdin)
		}

		var r, w *os.File
		if i < len(stages)-1 {
			var err error
			if r, w, err = os.Pipe(); err != nil {
				e.Errorf("pipe: %v", err)
				failed = 1
				break
			}
		}
		if prevR != nil {
			files.Set(0, prevR)
		}
		if w != nil {
			files.Set(1, w)
		}

		pid, err := e.start(st, files, pgid, !bg && pgid == 0)

		if prevR != nil {
			prevR.Close()
		}
		if w != nil {
			w.Close()
		}
		prevR = r

		if err != nil {
			e.Errorf("%v", err)
			if i == len(stages)-1 {
				failed = st.status
				if failed == 0 {
					failed = 1
				}
			}
			continue
		}

		if pgid == 0 {
			pgid = pid
		}
		if err := e.Jobs.AddProcess(jobID, pid, st.node.Source()); err != nil {
			e.internalError(err)
		}
		started++
	}
	if prevR != nil {
		prevR.Close()
	}
	release()

	if started == 0 {
		e.Jobs.RemoveJob(jobID)
		if failed < 0 {
			failed = 1
		}
		return failed
	}

	if bg {
		if err := e.Jobs.PutInBackground(jobID, false); err != nil {
			return e.internalError(err)
		}
		e.lastBgPid = pgid
		if e.Interactive {
			fmt.Fprintf(e.Stderr(), "[%d] %d\n", jobID, pgid)
		}
		e.Log.Infow("job started", "job", jobID, "pgid", pgid, "background", true)
		return 0
	}

	status, err := e.Jobs.PutInForeground(jobID, false)
	if err != nil {
		return e.internalError(err)
	}
	if failed >= 0 {
		return failed
	}
	return status
}

// start applies the stage's redirections to files and starts its process.
// The first process of a foreground job takes the terminal as it starts.
func (e *Executor) start(st *stage, files *Files, pgid int, foreground bool) (int, error) {
	if st.err != nil {
		return 0, st.err
	}

	r := &redirection{files: files}
	if err := r.apply(st.redirs); err != nil {
		st.status = 1
		return 0, err
	}
	defer r.release()

	cmd := &exec.Cmd{
		Path:       st.path,
		Args:       st.argv,
		Env:        st.env,
		Dir:        e.Dir,
		Stdin:      files.Get(0),
		Stdout:     files.Get(1),
		Stderr:     files.Get(2),
		ExtraFiles: files.Extra(),
	}
	if e.Jobs.Enabled() {
		attr := &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
		if foreground {
			attr.Foreground = true
			attr.Ctty = e.Jobs.TerminalFd()
		}
		cmd.SysProcAttr = attr
	}

	if err := cmd.Start(); err != nil {
		name := st.path
		if len(st.argv) > 0 {
			name = st.argv[0]
		}
		st.status = statusFor(err)
		return 0, &CommandError{Name: name, Status: st.status, Err: err}
	}

	pid := cmd.Process.Pid
	// The job control manager reaps the child; drop the handle so nothing
	// else waits on it.
	if err := cmd.Process.Release(); err != nil {
		e.Log.Debugw("release process", "pid", pid, "error", err)
	}
	e.Log.Debugw("process started", "pid", pid, "pgid", pgid, "argv", st.argv)
	return pid, nil
}
