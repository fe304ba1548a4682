package shell

import (
	"fmt"
	"io"

	getopt "github.com/pborman/getopt/v2"
	"github.com/josephlewis42/jobsh/core/executor"
)

// Builtin is a command that runs inside the shell process. e is the
// executor the command was invoked from, which is a copy of s.Exec inside
// subshells and command substitutions.
type Builtin interface {
	Main(s *Shell, e *executor.Executor, args []string) int
}

type BuiltinFunc func(s *Shell, e *executor.Executor, args []string) int

func (f BuiltinFunc) Main(s *Shell, e *executor.Executor, args []string) int {
	return f(s, e, args)
}

var _ Builtin = (BuiltinFunc)(nil)

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]Builtin)

// SimpleCommand parses the flags of a builtin.
type SimpleCommand struct {
	// Use holds a one line usage string
	Use string
	// Short holds a one line description of the command.
	Short string
	// ShowHelp sets whether help is displayed or not.
	// If this is non-nil when Run() is called, then the default help flag isn't
	// added.
	ShowHelp *bool

	flags *getopt.Set
}

// Flags gets the command's flag set.
func (c *SimpleCommand) Flags() *getopt.Set {
	if c.flags == nil {
		c.flags = getopt.New()
	}

	return c.flags
}

// PrintHelp writes help for the command to the given writer.
func (c *SimpleCommand) PrintHelp(w io.Writer) {
	fmt.Fprint(w, "usage: ")
	fmt.Fprintln(w, c.Use)
	fmt.Fprintln(w, c.Short)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	c.Flags().PrintOptions(w)
}

// Run parses args and, if flag parsing was successful, calls the callback.
// Usage errors have status 2.
func (c *SimpleCommand) Run(e *executor.Executor, args []string, callback func() int) int {
	opts := c.Flags()

	// Add help flag if not overridden.
	if c.ShowHelp == nil {
		c.ShowHelp = opts.BoolLong("help", 0, "show this help and exit")
	}

	if err := opts.Getopt(args, nil); err != nil {
		fmt.Fprintf(e.Stderr(), "%s: %s\n", args[0], err)
		fmt.Fprintf(e.Stderr(), "usage: %s\n", c.Use)
		return 2
	}

	if *c.ShowHelp {
		c.PrintHelp(e.Stdout())
		return 0
	}

	return callback()
}

// errorf prints a diagnostic for the builtin named by args[0] and returns
// status 1.
func errorf(e *executor.Executor, args []string, format string, a ...interface{}) int {
	fmt.Fprintf(e.Stderr(), "%s: "+format+"\n", append([]interface{}{args[0]}, a...)...)
	return 1
}
