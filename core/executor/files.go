package executor

import (
	"io"
	"os"
	"syscall"
)

// maxFd bounds the descriptor numbers redirections may name.
const maxFd = 255

// Files is a shell's descriptor table. Child processes inherit entry n as
// their descriptor n; a nil entry is closed in the child.
type Files struct {
	fds []*os.File
}

func NewFiles(stdin, stdout, stderr *os.File) *Files {
	return &Files{fds: []*os.File{stdin, stdout, stderr}}
}

// Get returns the file at fd, or nil when it is closed.
func (f *Files) Get(fd int) *os.File {
	if fd < 0 || fd >= len(f.fds) {
		return nil
	}
	return f.fds[fd]
}

// Set replaces fd and returns the previous entry.
func (f *Files) Set(fd int, file *os.File) *os.File {
	for len(f.fds) <= fd {
		f.fds = append(f.fds, nil)
	}
	prev := f.fds[fd]
	f.fds[fd] = file
	return prev
}

func (f *Files) Clone() *Files {
	return &Files{fds: append([]*os.File(nil), f.fds...)}
}

// Extra returns descriptors from 3 up, indexed from 0, the way
// exec.Cmd.ExtraFiles expects.
func (f *Files) Extra() []*os.File {
	last := len(f.fds) - 1
	for last >= 3 && f.fds[last] == nil {
		last--
	}
	if last < 3 {
		return nil
	}
	return append([]*os.File(nil), f.fds[3:last+1]...)
}

// Reader returns fd as a reader that fails when the descriptor is closed.
func (f *Files) Reader(fd int) io.Reader {
	if file := f.Get(fd); file != nil {
		return file
	}
	return closedFile{}
}

// Writer returns fd as a writer that fails when the descriptor is closed.
func (f *Files) Writer(fd int) io.Writer {
	if file := f.Get(fd); file != nil {
		return file
	}
	return closedFile{}
}

type closedFile struct{}

func (closedFile) Read([]byte) (int, error)  { return 0, syscall.EBADF }
func (closedFile) Write([]byte) (int, error) { return 0, syscall.EBADF }
