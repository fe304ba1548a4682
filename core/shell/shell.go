// Package shell is the interactive front end: it reads commands, keeps
// history, and provides the builtins the executor dispatches to.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/executor"
	"github.com/josephlewis42/jobsh/core/jobctl"
	"github.com/josephlewis42/jobsh/core/syntaxtree"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// StatusSyntax is the status of input that could not be parsed.
const StatusSyntax = 2

// Options configure a new Shell. Zero values select the process's own
// streams, environment and working directory.
type Options struct {
	Config *config.Configuration
	Log    *zap.SugaredLogger

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Environ seeds the variables; every entry is exported.
	Environ []string
	Dir     string

	Interactive bool
	// JobControl asks for job control on the controlling terminal.
	JobControl bool

	// Name and Params are $0 and the positional parameters.
	Name   string
	Params []string

	// Self overrides the command line used to start copies of the shell.
	Self []string
}

type Shell struct {
	Config      *config.Configuration
	Log         *zap.SugaredLogger
	Vars        *env.Vars
	Jobs        *jobctl.Manager
	Exec        *executor.Executor
	Readline    *readline.Instance
	Interactive bool

	stdin, stdout, stderr *os.File

	history []string

	// lines counts inputs run through RunLine; exitWarnedAt is the line on
	// which exit was last refused.
	lines        int
	exitWarnedAt int
}

var _ executor.Builtins = (*Shell)(nil)

// New creates a shell. If job control was requested but the terminal
// cannot be claimed, the shell prints a warning and runs without it.
func New(opts Options) (*Shell, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(config.DefaultDir())
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	stdin, stdout, stderr := opts.Stdin, opts.Stdout, opts.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	s := &Shell{
		Config:      cfg,
		Log:         log,
		Vars:        env.NewVarsFromEnviron(environ),
		Interactive: opts.Interactive,
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
	}

	s.Jobs = jobctl.New(jobctl.UnixSystem{}, log, stderr)
	s.Jobs.Colors = cfg.WantColor(term.IsTerminal(int(stderr.Fd())))
	if cfg.Color == config.ColorAlways {
		color.NoColor = false
	}
	if opts.JobControl {
		if err := s.Jobs.Enable(jobctl.DefaultTerminal); err != nil {
			log.Warnw("job control unavailable", "error", err)
			fmt.Fprintf(stderr, "%s: cannot set terminal process group (%v)\n", executor.ShellName, err)
			fmt.Fprintf(stderr, "%s: no job control in this shell\n", executor.ShellName)
		}
	}

	e := executor.New(s.Vars, s.Jobs, s, log)
	e.Files = executor.NewFiles(stdin, stdout, stderr)
	e.Interactive = opts.Interactive
	if opts.Dir != "" {
		e.Dir = opts.Dir
	}
	if opts.Name != "" {
		e.Name = opts.Name
	}
	e.Params = opts.Params
	e.SubshellJobs = subshellJobs
	if opts.Self != nil {
		e.Self = opts.Self
	}
	s.Exec = e

	if err := s.Vars.Setenv(env.PWD, e.Dir); err != nil {
		return nil, err
	}
	if opts.Interactive {
		if _, ok := s.Vars.LookupEnv(env.Prompt); !ok {
			s.Vars.Setenv(env.Prompt, cfg.Prompt)
		}
	}

	return s, nil
}

// subshellJobs gives a subshell a child of its parent's job manager.
func subshellJobs(parent executor.Jobs) (executor.Jobs, func()) {
	m, ok := parent.(*jobctl.Manager)
	if !ok {
		return parent, nil
	}
	child := m.Child()
	return child, child.Close
}

// IsBuiltin implements executor.Builtins.
func (s *Shell) IsBuiltin(name string) bool {
	_, ok := AllBuiltins[name]
	return ok
}

// RunBuiltin implements executor.Builtins.
func (s *Shell) RunBuiltin(ctx context.Context, e *executor.Executor, args []string) int {
	builtin, ok := AllBuiltins[args[0]]
	if !ok {
		fmt.Fprintf(e.Stderr(), "%s: %s: not a shell builtin\n", executor.ShellName, args[0])
		return executor.StatusNotFound
	}
	return builtin.Main(s, e, args)
}

// RunString parses and runs src. exited reports that the exit builtin ran,
// in which case status is the requested exit code.
func (s *Shell) RunString(ctx context.Context, src string) (status int, exited bool) {
	list, err := syntaxtree.ParseString(src, "")
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", executor.ShellName, err)
		s.Exec.SetLastStatus(StatusSyntax)
		return StatusSyntax, false
	}
	return s.run(ctx, list)
}

// RunScript runs the whole of r as a script.
func (s *Shell) RunScript(ctx context.Context, r io.Reader) int {
	src, err := io.ReadAll(r)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", executor.ShellName, err)
		return 1
	}
	status, _ := s.RunString(ctx, string(src))
	return status
}

// RunLine runs one complete line of interactive input.
func (s *Shell) RunLine(ctx context.Context, src string) (status int, exited bool) {
	s.lines++
	if strings.TrimSpace(src) != "" {
		s.history = append(s.history, strings.TrimRight(src, "\n"))
	}
	return s.RunString(ctx, src)
}

func (s *Shell) run(ctx context.Context, n syntaxtree.Node) (int, bool) {
	status, err := s.Exec.Execute(ctx, n)

	var exit *executor.ExitRequest
	var internal *executor.InternalError
	switch {
	case errors.As(err, &exit):
		return exit.Code, true
	case errors.As(err, &internal):
		s.Log.Errorw("command failed internally", "command", n.Source(), "error", internal.Err)
	}
	return status, false
}

// confirmExit applies the interactive guard against leaving jobs behind.
// It warns and refuses once; an exit on the very next line goes through.
func (s *Shell) confirmExit(e *executor.Executor) bool {
	if !s.Interactive {
		return true
	}
	if s.exitWarnedAt != 0 && s.exitWarnedAt >= s.lines-1 {
		return true
	}

	s.Jobs.Reconcile()
	switch {
	case s.Jobs.HasStoppedJobs():
		fmt.Fprintln(e.Stderr(), "There are stopped jobs.")
	case s.Jobs.HasActiveJobs():
		fmt.Fprintln(e.Stderr(), "There are running jobs.")
	default:
		return true
	}
	s.exitWarnedAt = s.lines
	return false
}

// History returns the lines entered in this session.
func (s *Shell) History() []string {
	return s.history
}

// ClearHistory forgets the session history, including the history file.
func (s *Shell) ClearHistory() {
	s.history = nil
	if s.Readline != nil {
		s.Readline.ResetHistory()
	}
}

// Close hangs up remaining jobs and releases the terminal.
func (s *Shell) Close() error {
	s.Jobs.Shutdown()
	if s.Readline != nil {
		return s.Readline.Close()
	}
	return nil
}
