package shell

import (
	"path/filepath"
	"sort"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/josephlewis42/jobsh/core/env"
	"github.com/spf13/afero"
)

// completer offers command names in command position and paths
// everywhere else.
type completer struct {
	shell *Shell
}

// commandSeparators end one command so the next word is a command name.
var commandSeparators = map[string]bool{
	"|": true, "||": true, "&&": true, ";": true, "&": true, "(": true,
	"!": true, "then": true, "do": true, "else": true, "elif": true,
}

// Do implements readline.AutoCompleter.
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	head := string(line[:pos])
	words, err := shlex.Split(head, true)
	if err != nil {
		// Unterminated quote.
		return nil, 0
	}

	prefix := ""
	if len(words) > 0 && !strings.HasSuffix(head, " ") {
		prefix = words[len(words)-1]
		words = words[:len(words)-1]
	}

	var candidates []string
	if len(words) == 0 || commandSeparators[words[len(words)-1]] {
		candidates = c.commands(prefix)
	} else {
		candidates = c.paths(prefix)
	}

	var out [][]rune
	for _, candidate := range candidates {
		out = append(out, []rune(strings.TrimPrefix(candidate, prefix)))
	}
	return out, len([]rune(prefix))
}

// commands lists builtins and executables on PATH that start with prefix.
// A prefix containing a slash is completed as a path.
func (c *completer) commands(prefix string) []string {
	if strings.Contains(prefix, "/") {
		return c.paths(prefix)
	}

	e := c.shell.Exec
	seen := make(map[string]bool)
	for _, name := range BuiltinNames() {
		if strings.HasPrefix(name, prefix) {
			seen[name] = true
		}
	}

	for _, dir := range filepath.SplitList(e.Vars.Getenv(env.Path)) {
		if dir == "" {
			dir = "."
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(e.Dir, dir)
		}
		entries, err := afero.ReadDir(e.FS, dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || entry.Mode()&0111 == 0 || !strings.HasPrefix(name, prefix) {
				continue
			}
			seen[name] = true
		}
	}

	var out []string
	for name := range seen {
		out = append(out, name+" ")
	}
	sort.Strings(out)
	return out
}

// paths lists directory entries that complete prefix. Directories end in
// a slash, files in a space.
func (c *completer) paths(prefix string) []string {
	e := c.shell.Exec

	dir, base := filepath.Split(prefix)
	lookup := dir
	if strings.HasPrefix(lookup, "~/") {
		lookup = filepath.Join(e.Vars.Getenv(env.Home), lookup[2:])
	}
	if !filepath.IsAbs(lookup) {
		lookup = filepath.Join(e.Dir, lookup)
	}

	entries, err := afero.ReadDir(e.FS, lookup)
	if err != nil {
		return nil
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		if entry.IsDir() {
			out = append(out, dir+name+"/")
		} else {
			out = append(out, dir+name+" ")
		}
	}
	sort.Strings(out)
	return out
}
