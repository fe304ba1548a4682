package shell

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/executor"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// Cd is the cd shell builtin
func Cd(s *Shell, e *executor.Executor, args []string) int {
	var target string
	switch len(args) {
	case 1:
		target = e.Vars.Getenv(env.Home)
		if target == "" {
			return errorf(e, args, "HOME not set")
		}
	case 2:
		target = args[1]
	default:
		return errorf(e, args, "too many arguments")
	}

	printDir := false
	if target == "-" {
		target = e.Vars.Getenv(env.OldPWD)
		if target == "" {
			return errorf(e, args, "OLDPWD not set")
		}
		printDir = true
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(e.Dir, target)
	}
	target = filepath.Clean(target)

	info, err := e.FS.Stat(target)
	switch {
	case err != nil:
		return errorf(e, args, "%s: %s", args[len(args)-1], describeErr(err))
	case !info.IsDir():
		return errorf(e, args, "%s: not a directory", args[len(args)-1])
	}

	e.Vars.Setenv(env.OldPWD, e.Dir)
	e.Vars.Setenv(env.PWD, target)
	e.Dir = target
	if printDir {
		fmt.Fprintln(e.Stdout(), target)
	}
	return 0
}

func describeErr(err error) string {
	var perr *fs.PathError
	if errors.As(err, &perr) {
		err = perr.Err
	}
	return err.Error()
}

func Pwd(s *Shell, e *executor.Executor, args []string) int {
	fmt.Fprintln(e.Stdout(), e.Dir)
	return 0
}

var (
	unescapeOctal   = regexp.MustCompile(`\\0[0-7][0-7]?[0-7]?`)
	unescapeHex     = regexp.MustCompile(`\\x[0-9a-fA-F][0-9a-fA-F]?`)
	unescapeReplace = strings.NewReplacer(
		`\n`, "\n", // newline
		`\r`, "\r", // carriage return
		`\t`, "\t", // horizontal tab
		`\\`, `\`, // backslash literal
		`\b`, "\b", // backspace
		`\a`, "\a", // alert
		`\f`, "\f", // form feed
		`\v`, "\v", // vertical tab
	)
)

func unescape(s string) string {
	s = unescapeReplace.Replace(s)
	s = unescapeOctal.ReplaceAllStringFunc(s, func(arg string) string {
		out, err := strconv.ParseUint(arg[2:], 8, 8)
		if err != nil {
			return arg
		}
		return string([]byte{byte(out)})
	})
	s = unescapeHex.ReplaceAllStringFunc(s, func(arg string) string {
		out, err := strconv.ParseUint(arg[2:], 16, 8)
		if err != nil {
			return arg
		}
		return string([]byte{byte(out)})
	})
	return s
}

// Echo writes its arguments. Flags are only recognized before the first
// operand, and unknown ones are printed like bash does.
func Echo(s *Shell, e *executor.Executor, args []string) int {
	newline, escaped := true, false

	operands := args[1:]
flags:
	for len(operands) > 0 {
		flag := operands[0]
		if len(flag) < 2 || flag[0] != '-' || strings.Trim(flag[1:], "neE") != "" {
			break
		}
		for _, c := range flag[1:] {
			switch c {
			case 'n':
				newline = false
			case 'e':
				escaped = true
			case 'E':
				escaped = false
			default:
				break flags
			}
		}
		operands = operands[1:]
	}

	w := e.Stdout()
	for i, arg := range operands {
		if i > 0 {
			fmt.Fprint(w, " ")
		}

		if escaped {
			arg = unescape(arg)
		}

		fmt.Fprint(w, arg)
	}

	if newline {
		fmt.Fprintln(w)
	}

	return 0
}

func True(s *Shell, e *executor.Executor, args []string) int {
	return 0
}

func False(s *Shell, e *executor.Executor, args []string) int {
	return 1
}

// Exit quits the shell. An interactive shell with jobs left refuses once;
// an exit entered right after the refusal goes through.
func Exit(s *Shell, e *executor.Executor, args []string) int {
	code := e.LastStatus()
	switch len(args) {
	case 1:
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil {
			errorf(e, args, "%s: numeric argument required", args[1])
			code = 2
			break
		}
		code = n & 0xff
	default:
		return errorf(e, args, "too many arguments")
	}

	if e == s.Exec && !s.confirmExit(e) {
		return 1
	}

	e.RequestExit(code)
	return code
}

// Export marks variables for child environments.
func Export(s *Shell, e *executor.Executor, args []string) int {
	cmd := &SimpleCommand{
		Use:   "export [-p] [NAME[=VALUE] ...]",
		Short: "Set export attribute for shell variables.",
	}

	opts := cmd.Flags()
	opts.SetProgram(args[0])
	printOpt := opts.Bool('p', "display all exported variables")

	return cmd.Run(e, args, func() int {
		if *printOpt || len(opts.Args()) == 0 {
			printExported(e)
			return 0
		}

		status := 0
		for _, arg := range opts.Args() {
			name, value, hasValue := strings.Cut(arg, "=")
			if !syntax.ValidName(name) {
				status = errorf(e, args, "`%s': not a valid identifier", arg)
				continue
			}
			if hasValue {
				if err := e.Vars.Setenv(name, value); err != nil {
					status = errorf(e, args, "%s: %v", name, err)
					continue
				}
			}
			if err := e.Vars.Export(name); err != nil {
				status = errorf(e, args, "%s: %v", name, err)
			}
		}
		return status
	})
}

func printExported(e *executor.Executor) {
	e.Vars.Each(func(name string, vr expand.Variable) bool {
		if !vr.Exported {
			return true
		}
		if !vr.IsSet() {
			fmt.Fprintf(e.Stdout(), "export %s\n", name)
			return true
		}
		quoted, err := syntax.Quote(vr.String(), syntax.LangPOSIX)
		if err != nil {
			quoted = strconv.Quote(vr.String())
		}
		fmt.Fprintf(e.Stdout(), "export %s=%s\n", name, quoted)
		return true
	})
}

func Unset(s *Shell, e *executor.Executor, args []string) int {
	cmd := &SimpleCommand{
		Use:   "unset [-v] [NAME ...]",
		Short: "Unset values and attributes of shell variables.",
	}

	opts := cmd.Flags()
	opts.SetProgram(args[0])
	opts.Bool('v', "treat each NAME as a shell variable")

	return cmd.Run(e, args, func() int {
		status := 0
		for _, name := range opts.Args() {
			if err := e.Vars.Unsetenv(name); err != nil {
				status = errorf(e, args, "%s: cannot unset: %v", name, err)
			}
		}
		return status
	})
}

func History(s *Shell, e *executor.Executor, args []string) int {
	cmd := &SimpleCommand{
		Use:   "history [-c]",
		Short: "Display or manipulate the history list.",
	}

	opts := cmd.Flags()
	opts.SetProgram(args[0])
	clearOpt := opts.Bool('c', "clear the history by deleting all entries")

	return cmd.Run(e, args, func() int {
		if *clearOpt {
			s.ClearHistory()
			return 0
		}

		for i, line := range s.History() {
			fmt.Fprintf(e.Stdout(), "%5d  %s\n", i+1, line)
		}
		return 0
	})
}

func Help(s *Shell, e *executor.Executor, args []string) int {
	w := e.Stdout()
	fmt.Fprintf(w, "%s, a shell with job control\n", executor.ShellName)
	fmt.Fprintln(w, "These shell commands are defined internally.  Type `help' to see this list.")
	fmt.Fprintln(w, "Type `NAME --help' to find out more about the command `NAME'.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, strings.Join(BuiltinNames(), "\n"))

	return 0
}

// Type describes how each name would be interpreted as a command.
func Type(s *Shell, e *executor.Executor, args []string) int {
	status := 0
	for _, name := range args[1:] {
		if _, ok := AllBuiltins[name]; ok {
			fmt.Fprintf(e.Stdout(), "%s is a shell builtin\n", name)
			continue
		}

		path, err := executor.LookPath(e.FS, e.Dir, e.Vars.Getenv(env.Path), name)
		if err != nil {
			status = errorf(e, args, "%s: not found", name)
			continue
		}
		fmt.Fprintf(e.Stdout(), "%s is %s\n", name, path)
	}
	return status
}

// BuiltinNames lists the registered builtins in sorted order.
func BuiltinNames() []string {
	var out []string
	for k := range AllBuiltins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	AllBuiltins["cd"] = BuiltinFunc(Cd)
	AllBuiltins["pwd"] = BuiltinFunc(Pwd)
	AllBuiltins["echo"] = BuiltinFunc(Echo)
	AllBuiltins["true"] = BuiltinFunc(True)
	AllBuiltins["false"] = BuiltinFunc(False)
	AllBuiltins["exit"] = BuiltinFunc(Exit)
	AllBuiltins["export"] = BuiltinFunc(Export)
	AllBuiltins["unset"] = BuiltinFunc(Unset)
	AllBuiltins["history"] = BuiltinFunc(History)
	AllBuiltins["help"] = BuiltinFunc(Help)
	AllBuiltins["type"] = BuiltinFunc(Type)
}
