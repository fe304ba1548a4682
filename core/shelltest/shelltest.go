// Package shelltest runs shell source in tests the way os/exec runs
// programs, with captured output and a private working directory.
package shelltest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/executor"
	"github.com/josephlewis42/jobsh/core/shell"
	"golang.org/x/sys/unix"
)

// HelperEnv marks a test binary started as a copy of the shell.
const HelperEnv = "JOBSH_SHELLTEST_HELPER"

// RunHelperProcess turns the test binary into a shell when it was started
// as one by a shell under test: pipeline stages and background jobs that
// need the shell start "self -c SOURCE -- NAME ARGS...". Call it first
// thing in TestMain.
func RunHelperProcess() {
	if os.Getenv(HelperEnv) != "1" {
		return
	}

	args := os.Args[1:]
	if len(args) < 2 || args[0] != "-c" {
		fmt.Fprintf(os.Stderr, "%s: helper: unexpected arguments %q\n", executor.ShellName, args)
		os.Exit(2)
	}
	script, rest := args[1], args[2:]
	if len(rest) > 0 && rest[0] == "--" {
		rest = rest[1:]
	}
	name := executor.ShellName
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	s, err := shell.New(shell.Options{
		Config: testConfig("."),
		Name:   name,
		Params: rest,
		Self:   []string{os.Args[0]},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(executor.StatusInternal)
	}
	status, _ := s.RunString(context.Background(), script)
	s.Close()
	os.Exit(status)
}

func testConfig(dir string) *config.Configuration {
	cfg := config.Default(dir)
	cfg.HistoryFile = ""
	cfg.Color = config.ColorNever
	return cfg
}

// Cmd is similar to exec.Cmd.
type Cmd struct {
	// Script is the shell source to run.
	Script string
	// Args are the positional parameters.
	Args []string
	// If Dir is non-empty, the shell starts in the directory, otherwise in
	// a new temporary directory that is removed afterwards.
	Dir string
	// Env is appended to a minimal environment holding PATH and HOME.
	Env []string
	// Interactive shells acknowledge background jobs and guard exit.
	Interactive bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	ExitStatus int

	// Setup runs before the script, with the shell ready.
	Setup func(*shell.Shell) error
}

func Command(script string, args ...string) *Cmd {
	return &Cmd{
		Script: script,
		Args:   args,
	}
}

func (c *Cmd) CombinedOutput() ([]byte, error) {
	// stdout, stderr
	buf := &bytes.Buffer{}
	c.Stdout = buf
	c.Stderr = buf

	err := c.Run()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Cmd) Output() ([]byte, error) {
	buf := &bytes.Buffer{}
	c.Stdout = buf

	err := c.Run()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Run starts the shell and waits for the script to complete.
func (c *Cmd) Run() error {
	tmp, err := os.MkdirTemp("", "shelltest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	dir := c.Dir
	if dir == "" {
		dir = filepath.Join(tmp, "work")
		if err := os.Mkdir(dir, 0o755); err != nil {
			return err
		}
	}

	stdin, err := c.stdinFile(tmp)
	if err != nil {
		return err
	}
	defer stdin.Close()

	stdout, err := os.Create(filepath.Join(tmp, "stdout"))
	if err != nil {
		return err
	}
	defer stdout.Close()

	// Combined output shares one file so writes stay in order.
	stderr := stdout
	if c.Stderr != c.Stdout {
		if stderr, err = os.Create(filepath.Join(tmp, "stderr")); err != nil {
			return err
		}
		defer stderr.Close()
	}

	environ := append([]string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		HelperEnv + "=1",
	}, c.Env...)

	s, err := shell.New(shell.Options{
		Config:      testConfig(tmp),
		Stdin:       stdin,
		Stdout:      stdout,
		Stderr:      stderr,
		Environ:     environ,
		Dir:         dir,
		Interactive: c.Interactive,
		Params:      c.Args,
		Self:        []string{os.Args[0]},
	})
	if err != nil {
		return err
	}

	if c.Setup != nil {
		if err := c.Setup(s); err != nil {
			return err
		}
	}

	ctx := context.Background()
	if c.Interactive {
		// Interactive input runs line by line so the exit guard can see
		// repeated attempts.
		for _, line := range strings.SplitAfter(c.Script, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			status, exited := s.RunLine(ctx, line)
			c.ExitStatus = status
			if exited {
				break
			}
		}
	} else {
		c.ExitStatus, _ = s.RunString(ctx, c.Script)
	}

	// Leftover jobs would outlive the test.
	for _, job := range s.Jobs.Jobs() {
		s.Jobs.SignalJob(job.ID, unix.SIGKILL)
	}
	s.Jobs.WaitAll()
	s.Close()

	if err := copyFile(c.Stdout, stdout); err != nil {
		return err
	}
	if stderr != stdout {
		if err := copyFile(c.Stderr, stderr); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cmd) stdinFile(tmp string) (*os.File, error) {
	if c.Stdin == nil {
		return os.Open(os.DevNull)
	}

	path := filepath.Join(tmp, "stdin")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(f, c.Stdin); err != nil {
		return nil, err
	}
	return os.Open(path)
}

func copyFile(w io.Writer, f *os.File) error {
	if w == nil {
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := io.Copy(w, f)
	return err
}
