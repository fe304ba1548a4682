package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/executor"
	"github.com/josephlewis42/jobsh/core/syntaxtree"
	"golang.org/x/term"
)

const continuationPrompt = "> "

var (
	colorPromptUser = color.New(color.FgGreen, color.Bold)
	colorPromptDir  = color.New(color.FgBlue, color.Bold)
)

// Prompt expands PS1.
func (s *Shell) Prompt() string {
	prompt, ok := s.Vars.LookupEnv(env.Prompt)
	if !ok {
		prompt = s.Config.Prompt
	}

	paint := func(c *color.Color, text string) string {
		if !s.Jobs.Colors {
			return text
		}
		return c.Sprint(text)
	}

	user := s.Vars.Getenv(env.User)
	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}

	pwd := s.Exec.Dir
	if home := s.Vars.Getenv(env.Home); home != "" && (pwd == home || strings.HasPrefix(pwd, home+"/")) {
		pwd = "~" + strings.TrimPrefix(pwd, home)
	}

	dollar := "$"
	if os.Geteuid() == 0 {
		dollar = "#"
	}

	replacer := strings.NewReplacer(
		`\u`, paint(colorPromptUser, user),
		`\h`, paint(colorPromptUser, host),
		`\w`, paint(colorPromptDir, pwd),
		`\$`, dollar,
		`\n`, "\n",
		`\\`, `\`,
	)
	return replacer.Replace(prompt)
}

func (s *Shell) newReadline() (*readline.Instance, error) {
	var rawState *term.State
	cfg := &readline.Config{
		Prompt:          s.Prompt(),
		HistoryFile:     s.Config.HistoryPath(),
		HistoryLimit:    s.Config.HistoryLimit,
		AutoComplete:    &completer{shell: s},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		Stdin:  readline.NewCancelableStdin(s.stdin),
		Stdout: s.stdout,
		Stderr: s.stderr,

		FuncIsTerminal: func() bool {
			return term.IsTerminal(int(s.stdin.Fd())) && term.IsTerminal(int(s.stdout.Fd()))
		},

		// Raw mode and width follow the shell's streams, which need not be
		// the process's own.
		FuncMakeRaw: func() error {
			state, err := term.MakeRaw(int(s.stdin.Fd()))
			if err != nil {
				return err
			}
			rawState = state
			return nil
		},
		FuncExitRaw: func() error {
			if rawState == nil {
				return nil
			}
			state := rawState
			rawState = nil
			return term.Restore(int(s.stdin.Fd()), state)
		},
		FuncGetWidth: func() int {
			width, _, err := term.GetSize(int(s.stdout.Fd()))
			if err != nil {
				return 80
			}
			return width
		},

		// Suspending the shell itself is not supported.
		FuncFilterInputRune: func(r rune) (rune, bool) {
			if r == readline.CharCtrlZ {
				return r, false
			}
			return r, true
		},
	}

	if err := cfg.Init(); err != nil {
		return nil, err
	}

	return readline.NewEx(cfg)
}

// Run is the interactive read-eval loop. It returns the status the shell
// should exit with.
func (s *Shell) Run(ctx context.Context) (int, error) {
	if s.Readline == nil {
		rl, err := s.newReadline()
		if err != nil {
			return 1, err
		}
		s.Readline = rl
	}

	if !s.Jobs.Enabled() {
		// Without process groups ^C reaches the shell too; it only ends the
		// foreground command.
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)
		go func() {
			for range sigs {
			}
		}()
		defer func() {
			signal.Stop(sigs)
			close(sigs)
		}()
	}

	if s.Config.Notify {
		go s.Jobs.Watch(ctx, func() {
			s.Jobs.Notify(s.Readline.Stderr())
			s.Readline.Refresh()
		})
	}

	var pending strings.Builder
	for {
		if ctx.Err() != nil {
			return s.Exec.LastStatus(), nil
		}

		if pending.Len() == 0 {
			s.Jobs.Notify(s.stderr)
			s.Readline.SetPrompt(s.Prompt())
		} else {
			s.Readline.SetPrompt(continuationPrompt)
		}

		line, err := s.Readline.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			pending.Reset()
			s.Exec.SetLastStatus(130)
			continue

		case errors.Is(err, io.EOF):
			if pending.Len() > 0 {
				fmt.Fprintf(s.stderr, "%s: syntax error: unexpected end of file\n", executor.ShellName)
				pending.Reset()
			}
			status, exited := s.RunLine(ctx, "exit")
			if exited {
				return status, nil
			}
			continue

		case err != nil:
			return 1, err
		}

		pending.WriteString(line)
		pending.WriteString("\n")
		src := pending.String()

		if _, err := syntaxtree.ParseString(src, ""); syntaxtree.IsIncomplete(err) {
			continue
		}
		pending.Reset()

		if strings.TrimSpace(src) == "" {
			continue
		}

		if status, exited := s.RunLine(ctx, src); exited {
			return status, nil
		}
	}
}
