package executor

import (
	"context"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"

	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/syntaxtree"
	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"
)

// environ layers the special parameters over the shell variables.
type environ struct {
	e *Executor
}

var _ expand.Environ = environ{}

func str(s string) expand.Variable {
	return expand.Variable{Set: true, Kind: expand.String, Str: s}
}

func (o environ) Get(name string) expand.Variable {
	e := o.e
	switch name {
	case "?":
		return str(strconv.Itoa(e.lastStatus))
	case "$":
		return str(strconv.Itoa(os.Getpid()))
	case "!":
		if e.lastBgPid == 0 {
			return expand.Variable{}
		}
		return str(strconv.Itoa(e.lastBgPid))
	case "#":
		return str(strconv.Itoa(len(e.Params)))
	case "@", "*":
		return expand.Variable{Set: true, Kind: expand.Indexed, List: e.Params}
	case "0":
		return str(e.Name)
	case env.PWD:
		return str(e.Dir)
	}

	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		if n > len(e.Params) {
			return expand.Variable{}
		}
		return str(e.Params[n-1])
	}
	return e.Vars.Get(name)
}

func (o environ) Each(fn func(name string, vr expand.Variable) bool) {
	o.e.Vars.Each(fn)
}

func (e *Executor) expandConfig(ctx context.Context) *expand.Config {
	return &expand.Config{
		Env: environ{e},
		CmdSubst: func(w io.Writer, cs *syntax.CmdSubst) error {
			return e.commandSubstitution(ctx, w, cs)
		},
		ReadDir2: func(dir string) ([]fs.DirEntry, error) {
			infos, err := afero.ReadDir(e.FS, dir)
			if err != nil {
				return nil, err
			}
			entries := make([]fs.DirEntry, len(infos))
			for i, info := range infos {
				entries[i] = fs.FileInfoToDirEntry(info)
			}
			return entries, nil
		},
	}
}

// fields performs word expansion with field splitting and globbing.
func (e *Executor) fields(ctx context.Context, words ...*syntax.Word) ([]string, error) {
	if len(words) == 0 {
		return nil, nil
	}
	return expand.Fields(e.expandConfig(ctx), words...)
}

func (e *Executor) literal(ctx context.Context, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	return expand.Literal(e.expandConfig(ctx), word)
}

// match reports whether the case pattern word matches s.
func (e *Executor) match(ctx context.Context, word *syntax.Word, s string) (bool, error) {
	pat, err := expand.Pattern(e.expandConfig(ctx), word)
	if err != nil {
		return false, err
	}
	expr, err := pattern.Regexp(pat, pattern.EntireString)
	if err != nil {
		return false, err
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return false, err
	}
	return rx.MatchString(s), nil
}

// commandSubstitution runs the statements in a subshell with standard
// output connected to w.
func (e *Executor) commandSubstitution(ctx context.Context, w io.Writer, cs *syntax.CmdSubst) error {
	list, err := syntaxtree.ConvertStmts(cs.Stmts)
	if err != nil {
		return err
	}

	r, pw, err := os.Pipe()
	if err != nil {
		return err
	}

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, r)
		r.Close()
		copied <- err
	}()

	sub := e.Subshell()
	defer sub.Close()
	sub.Files.Set(1, pw)
	status := sub.run(ctx, list)
	if sub.exit != nil {
		status = sub.exit.Code
	}
	if sub.internal != nil {
		e.internal = sub.internal
	}
	pw.Close()

	e.substStatus = status
	return <-copied
}

// assign applies assignments to vars, expanding their values first.
func (e *Executor) assign(ctx context.Context, vars *env.Vars, assigns []*syntax.Assign, exported bool) error {
	for _, as := range assigns {
		if as.Array != nil || as.Index != nil {
			return &syntaxtree.SyntaxError{Msg: as.Name.Value + ": arrays are not supported"}
		}
		value, err := e.literal(ctx, as.Value)
		if err != nil {
			return err
		}
		if as.Append {
			value = vars.Getenv(as.Name.Value) + value
		}
		vr := expand.Variable{Set: true, Kind: expand.String, Str: value, Exported: exported}
		if err := vars.Set(as.Name.Value, vr); err != nil {
			return err
		}
	}
	return nil
}
