package executor

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

func findExecutable(fsys afero.Fs, file string) error {
	d, err := fsys.Stat(file)
	if err != nil {
		return err
	}
	m := d.Mode()
	if m.IsDir() {
		return syscall.EISDIR
	}
	if m&0111 != 0 {
		return nil
	}
	return fs.ErrPermission
}

// LookPath searches for an executable named file in the directories of
// pathList. If file contains a slash, it is tried directly and the PATH
// is not consulted. Relative results are resolved against dir, so the
// returned path is always absolute.
func LookPath(fsys afero.Fs, dir, pathList, file string) (string, error) {
	if strings.Contains(file, "/") {
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		if err := findExecutable(fsys, file); err != nil {
			return "", err
		}
		return file, nil
	}

	denied := false
	for _, elem := range filepath.SplitList(pathList) {
		if elem == "" {
			// Unix shell semantics: path element "" means "."
			elem = "."
		}
		if !filepath.IsAbs(elem) {
			elem = filepath.Join(dir, elem)
		}
		path := filepath.Join(elem, file)
		err := findExecutable(fsys, path)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, fs.ErrPermission) {
			denied = true
		}
	}
	if denied {
		return "", fs.ErrPermission
	}
	return "", ErrNotFound
}
