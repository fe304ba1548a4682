package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

type redirKind int

const (
	redirOpen  redirKind = iota // open a path
	redirDup                    // copy another descriptor
	redirClose                  // n>&-
	redirData                   // here-document
)

// resolvedRedir is a redirection with its words expanded, ready to be
// applied without running any further commands.
type resolvedRedir struct {
	fds  []int
	kind redirKind
	path string
	flag int
	src  int
	data string
}

// resolveRedirections expands the targets of redirs.
func (e *Executor) resolveRedirections(ctx context.Context, redirs []*syntax.Redirect) ([]resolvedRedir, error) {
	var out []resolvedRedir
	for _, rd := range redirs {
		r, err := e.resolveRedirect(ctx, rd)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Executor) resolveRedirect(ctx context.Context, rd *syntax.Redirect) (resolvedRedir, error) {
	r := resolvedRedir{kind: redirOpen}

	fd := 1
	switch rd.Op {
	case syntax.RdrIn, syntax.RdrInOut, syntax.DplIn, syntax.Hdoc, syntax.DashHdoc:
		fd = 0
	}
	if rd.N != nil {
		n, err := strconv.Atoi(rd.N.Value)
		if err != nil || n < 0 || n > maxFd {
			return r, &RedirectError{Target: rd.N.Value, Err: syscall.EBADF}
		}
		fd = n
	}
	r.fds = []int{fd}

	cfg := e.expandConfig(ctx)
	switch rd.Op {
	case syntax.Hdoc, syntax.DashHdoc:
		body, err := expand.Document(cfg, rd.Hdoc)
		if err != nil {
			return r, err
		}
		if rd.Op == syntax.DashHdoc {
			body = stripTabs(body)
		}
		r.kind, r.data = redirData, body
		return r, nil
	}

	word, err := expand.Literal(cfg, rd.Word)
	if err != nil {
		return r, err
	}

	switch rd.Op {
	case syntax.RdrOut, syntax.ClbOut:
		r.path, r.flag = word, os.O_WRONLY|os.O_CREATE|os.O_TRUNC
	case syntax.AppOut:
		r.path, r.flag = word, os.O_WRONLY|os.O_CREATE|os.O_APPEND
	case syntax.RdrIn:
		r.path, r.flag = word, os.O_RDONLY
	case syntax.RdrInOut:
		r.path, r.flag = word, os.O_RDWR|os.O_CREATE
	case syntax.DplIn, syntax.DplOut:
		if word == "-" {
			r.kind = redirClose
			break
		}
		src, err := strconv.Atoi(word)
		if err != nil || src < 0 || src > maxFd {
			return r, &RedirectError{Target: word, Err: errors.New("ambiguous redirect")}
		}
		r.kind, r.src = redirDup, src
	default:
		return r, &RedirectError{Target: rd.Op.String(), Err: errors.New("unsupported redirection")}
	}

	if r.kind == redirOpen && !filepath.IsAbs(r.path) {
		r.path = filepath.Join(e.Dir, r.path)
	}
	return r, nil
}

func stripTabs(s string) string {
	lines := strings.SplitAfter(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(l, "\t")
	}
	return strings.Join(lines, "")
}

type savedFd struct {
	fd   int
	file *os.File
}

// redirection records what applyRedirections changed so it can be undone.
type redirection struct {
	files  *Files
	saved  []savedFd
	opened []*os.File
}

// restore puts back every saved descriptor in reverse order and closes the
// files the redirections opened.
func (r *redirection) restore() {
	for i := len(r.saved) - 1; i >= 0; i-- {
		r.files.Set(r.saved[i].fd, r.saved[i].file)
	}
	r.saved = nil
	r.release()
}

// release closes the opened files while keeping the table as is. Used
// once a child process holds its own copies.
func (r *redirection) release() {
	for _, f := range r.opened {
		f.Close()
	}
	r.opened = nil
}

// apply performs resolved redirections on files. On failure every change
// made so far is undone.
func (r *redirection) apply(redirs []resolvedRedir) error {
	for _, rd := range redirs {
		var file *os.File
		switch rd.kind {
		case redirOpen:
			f, err := os.OpenFile(rd.path, rd.flag, 0o666)
			if err != nil {
				r.restore()
				return &RedirectError{Target: rd.path, Err: err}
			}
			r.opened = append(r.opened, f)
			file = f
		case redirData:
			f, err := dataFile(rd.data)
			if err != nil {
				r.restore()
				return &RedirectError{Target: "here-document", Err: err}
			}
			r.opened = append(r.opened, f)
			file = f
		case redirDup:
			file = r.files.Get(rd.src)
			if file == nil {
				r.restore()
				return &RedirectError{Target: strconv.Itoa(rd.src), Err: syscall.EBADF}
			}
		case redirClose:
		}

		for _, fd := range rd.fds {
			r.saved = append(r.saved, savedFd{fd: fd, file: r.files.Set(fd, file)})
		}
	}
	return nil
}

// applyRedirections expands and applies redirs to files. The returned
// redirection must be restored or released by the caller.
func (e *Executor) applyRedirections(ctx context.Context, files *Files, redirs []*syntax.Redirect) (*redirection, error) {
	r := &redirection{files: files}
	if len(redirs) == 0 {
		return r, nil
	}

	resolved, err := e.resolveRedirections(ctx, redirs)
	if err != nil {
		return r, err
	}
	if err := r.apply(resolved); err != nil {
		return r, err
	}
	return r, nil
}

// dataFile returns a read-only descriptor positioned at the start of data.
// The backing file is unlinked immediately.
func dataFile(data string) (*os.File, error) {
	f, err := os.CreateTemp("", "jobsh-heredoc-")
	if err != nil {
		return nil, err
	}
	os.Remove(f.Name())

	if _, err := f.WriteString(data); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
