// Package executor runs parsed command trees as processes, pipes and
// redirections, handing the resulting jobs to the job control manager.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/syntaxtree"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ShellName prefixes diagnostics.
const ShellName = "jobsh"

// Jobs is the job control the executor drives.
type Jobs interface {
	Enabled() bool
	TerminalFd() int
	CreateJob(command string, pgid int) int
	AddProcess(id, pid int, command string) error
	RemoveJob(id int)
	PutInForeground(id int, cont bool) (int, error)
	PutInBackground(id int, cont bool) error
	Hold() (release func())
}

// Builtins runs commands implemented inside the shell.
type Builtins interface {
	IsBuiltin(name string) bool
	RunBuiltin(ctx context.Context, e *Executor, args []string) int
}

// Executor walks command trees. It is not safe for concurrent use.
type Executor struct {
	// Dir is the working directory for commands and relative paths.
	Dir string

	Vars     *env.Vars
	Files    *Files
	Jobs     Jobs
	Builtins Builtins

	// FS is consulted for command lookup and globbing.
	FS afero.Fs

	// Interactive enables the "[N] PID" acknowledgement of background jobs.
	Interactive bool

	// Self is the command line that starts another instance of this shell.
	// Pipeline stages and background jobs that are not external commands
	// run as "Self -c SOURCE -- NAME PARAMS...".
	Self []string

	// Name and Params are $0 and the positional parameters.
	Name   string
	Params []string

	Log *zap.SugaredLogger

	// SubshellJobs gives a subshell its own job table derived from the
	// parent's. The returned func releases it. When nil, subshells share
	// the parent's jobs.
	SubshellJobs func(parent Jobs) (Jobs, func())

	releaseJobs func()
	lastStatus  int
	substStatus int
	lastBgPid   int
	exit        *ExitRequest
	internal    *InternalError
}

// New creates an executor attached to the process's standard streams.
func New(vars *env.Vars, jobs Jobs, builtins Builtins, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dir, err := os.Getwd()
	if err != nil {
		dir = "/"
	}
	var self []string
	if exe, err := os.Executable(); err == nil {
		self = []string{exe}
	}

	return &Executor{
		Dir:      dir,
		Vars:     vars,
		Files:    NewFiles(os.Stdin, os.Stdout, os.Stderr),
		Jobs:     jobs,
		Builtins: builtins,
		FS:       afero.NewOsFs(),
		Self:     self,
		Name:     ShellName,
		Log:      log,
	}
}

// Execute runs n and returns its exit status. The error is an
// *ExitRequest when the exit builtin ran, an *InternalError when the
// shell's own bookkeeping failed, and nil otherwise; failing commands are
// reported through the status alone.
func (e *Executor) Execute(ctx context.Context, n syntaxtree.Node) (int, error) {
	e.exit, e.internal = nil, nil
	if n == nil {
		return e.lastStatus, nil
	}

	status := e.run(ctx, n)
	switch {
	case e.exit != nil:
		req := e.exit
		e.exit = nil
		return req.Code, req
	case e.internal != nil:
		ierr := e.internal
		e.internal = nil
		return status, ierr
	}
	return status, nil
}

// LastStatus is the value of $?.
func (e *Executor) LastStatus() int {
	return e.lastStatus
}

// SetLastStatus overrides $?, for failures that happen before anything is
// executed such as syntax errors.
func (e *Executor) SetLastStatus(status int) {
	e.lastStatus = status
}

// LastBackgroundPID is the value of $!, or 0.
func (e *Executor) LastBackgroundPID() int {
	return e.lastBgPid
}

// RequestExit makes the executor stop and report an *ExitRequest.
func (e *Executor) RequestExit(code int) {
	e.exit = &ExitRequest{Code: code}
}

func (e *Executor) Stdin() io.Reader  { return e.Files.Reader(0) }
func (e *Executor) Stdout() io.Writer { return e.Files.Writer(1) }
func (e *Executor) Stderr() io.Writer { return e.Files.Writer(2) }

// Errorf writes a diagnostic to standard error.
func (e *Executor) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(e.Stderr(), ShellName+": "+format+"\n", args...)
}

// fail reports err and returns status.
func (e *Executor) fail(status int, err error) int {
	e.Errorf("%v", err)
	return status
}

func (e *Executor) internalError(err error) int {
	e.Log.Errorw("internal error", "error", err)
	e.Errorf("internal error: %v", err)
	if e.internal == nil {
		e.internal = &InternalError{Err: err}
	}
	return StatusInternal
}

// Subshell returns a copy of the executor whose variables, directory,
// descriptors and jobs are independent of e. Call Close on the copy when
// it is done.
func (e *Executor) Subshell() *Executor {
	sub := *e
	sub.Vars = e.Vars.Clone()
	sub.Files = e.Files.Clone()
	sub.Params = append([]string(nil), e.Params...)
	sub.Interactive = false
	sub.exit = nil
	sub.internal = nil
	sub.releaseJobs = nil
	if e.SubshellJobs != nil {
		sub.Jobs, sub.releaseJobs = e.SubshellJobs(e.Jobs)
	}
	return &sub
}

// Close releases the job table of an executor made by Subshell.
func (e *Executor) Close() {
	if e.releaseJobs != nil {
		e.releaseJobs()
		e.releaseJobs = nil
	}
}

func (e *Executor) run(ctx context.Context, n syntaxtree.Node) int {
	if e.exit != nil {
		return e.lastStatus
	}
	if err := ctx.Err(); err != nil {
		e.lastStatus = 130
		return e.lastStatus
	}

	var status int
	switch n := n.(type) {
	case *syntaxtree.Command:
		status = e.command(ctx, n)
	case *syntaxtree.Pipe:
		status = e.launch(ctx, n.Source(), stagesOf(n.Stages()...), false)
	case *syntaxtree.List:
		for _, c := range n.Nodes {
			status = e.run(ctx, c)
			if e.exit != nil {
				break
			}
		}
	case *syntaxtree.Sequence:
		status = e.run(ctx, n.Left)
		if e.exit == nil && (status == 0) == (n.Op == syntaxtree.And) {
			status = e.run(ctx, n.Right)
		}
	case *syntaxtree.If:
		status = e.ifClause(ctx, n)
	case *syntaxtree.While:
		status = e.whileClause(ctx, n)
	case *syntaxtree.For:
		status = e.forClause(ctx, n)
	case *syntaxtree.Case:
		status = e.caseClause(ctx, n)
	case *syntaxtree.Subshell:
		status = e.subshell(ctx, n)
	case *syntaxtree.Group:
		status = e.group(ctx, n)
	case *syntaxtree.Background:
		status = e.background(ctx, n)
	case *syntaxtree.Not:
		status = e.run(ctx, n.Node)
		if status == 0 {
			status = 1
		} else {
			status = 0
		}
	default:
		status = e.internalError(fmt.Errorf("unhandled node %T", n))
	}

	if e.exit == nil {
		e.lastStatus = status
	}
	return status
}

func (e *Executor) ifClause(ctx context.Context, n *syntaxtree.If) int {
	if e.run(ctx, n.Cond) == 0 {
		return e.run(ctx, n.Then)
	}
	if n.Else != nil {
		return e.run(ctx, n.Else)
	}
	return 0
}

func (e *Executor) whileClause(ctx context.Context, n *syntaxtree.While) int {
	status := 0
	for e.exit == nil && ctx.Err() == nil {
		if (e.run(ctx, n.Cond) == 0) == n.Until {
			break
		}
		status = e.run(ctx, n.Body)
	}
	return status
}

func (e *Executor) forClause(ctx context.Context, n *syntaxtree.For) int {
	items := e.Params
	if n.InGiven {
		var err error
		if items, err = e.fields(ctx, n.Items...); err != nil {
			return e.fail(1, err)
		}
	}

	status := 0
	for _, item := range items {
		if e.exit != nil || ctx.Err() != nil {
			break
		}
		if err := e.Vars.Setenv(n.Name, item); err != nil {
			return e.fail(1, err)
		}
		status = e.run(ctx, n.Body)
	}
	return status
}

func (e *Executor) caseClause(ctx context.Context, n *syntaxtree.Case) int {
	word, err := e.literal(ctx, n.Word)
	if err != nil {
		return e.fail(1, err)
	}

	for _, item := range n.Items {
		for _, pat := range item.Patterns {
			ok, err := e.match(ctx, pat, word)
			if err != nil {
				return e.fail(1, err)
			}
			if ok {
				return e.run(ctx, item.Body)
			}
		}
	}
	return 0
}

// subshell runs the body in an isolated copy of the shell. An exit inside
// only ends the copy.
func (e *Executor) subshell(ctx context.Context, n *syntaxtree.Subshell) int {
	sub := e.Subshell()
	defer sub.Close()
	r, err := sub.applyRedirections(ctx, sub.Files, n.Redirs)
	if err != nil {
		return e.fail(1, err)
	}
	defer r.restore()

	status := sub.run(ctx, n.Body)
	if sub.exit != nil {
		status = sub.exit.Code
	}
	if sub.internal != nil && e.internal == nil {
		e.internal = sub.internal
	}
	return status
}

func (e *Executor) group(ctx context.Context, n *syntaxtree.Group) int {
	r, err := e.applyRedirections(ctx, e.Files, n.Redirs)
	if err != nil {
		return e.fail(1, err)
	}
	defer r.restore()

	return e.run(ctx, n.Body)
}

func (e *Executor) background(ctx context.Context, n *syntaxtree.Background) int {
	if p, ok := n.Node.(*syntaxtree.Pipe); ok {
		return e.launch(ctx, n.Source(), stagesOf(p.Stages()...), true)
	}
	return e.launch(ctx, n.Source(), stagesOf(n.Node), true)
}

func (e *Executor) isBuiltin(name string) bool {
	return e.Builtins != nil && e.Builtins.IsBuiltin(name)
}

func (e *Executor) command(ctx context.Context, c *syntaxtree.Command) int {
	e.substStatus = 0
	args, err := e.fields(ctx, c.Args...)
	if err != nil {
		return e.fail(1, err)
	}

	if len(args) == 0 {
		r, err := e.applyRedirections(ctx, e.Files, c.Redirs)
		if err != nil {
			return e.fail(1, err)
		}
		r.restore()
		if err := e.assign(ctx, e.Vars, c.Assigns, false); err != nil {
			return e.fail(1, err)
		}
		return e.substStatus
	}

	if e.isBuiltin(args[0]) {
		return e.builtin(ctx, c, args)
	}
	return e.launch(ctx, c.Source(), []*stage{{node: c, args: args}}, false)
}

// builtin runs an in-process command. Redirections and prefix assignments
// only last for the duration of the call.
func (e *Executor) builtin(ctx context.Context, c *syntaxtree.Command, args []string) int {
	r, err := e.applyRedirections(ctx, e.Files, c.Redirs)
	if err != nil {
		return e.fail(1, err)
	}
	defer r.restore()

	for _, as := range c.Assigns {
		name := as.Name.Value
		prev := e.Vars.Get(name)
		defer e.Vars.Restore(name, prev)
	}
	if err := e.assign(ctx, e.Vars, c.Assigns, true); err != nil {
		return e.fail(1, err)
	}

	return e.Builtins.RunBuiltin(ctx, e, args)
}
