package executor

import (
	"io/fs"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLookPathFs(t *testing.T) afero.Fs {
	t.Helper()

	fsys := afero.NewMemMapFs()
	files := map[string]fs.FileMode{
		"/bin/ls":            0o755,
		"/usr/bin/ls":        0o755,
		"/usr/bin/notes":     0o644,
		"/usr/local/bin/cat": 0o700,
		"/home/user/run.sh":  0o755,
	}
	for name, mode := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte("#!/bin/sh\n"), mode))
	}
	require.NoError(t, fsys.MkdirAll("/bin/dir", 0o755))
	return fsys
}

func TestLookPath(t *testing.T) {
	cases := map[string]struct {
		dir      string
		pathList string
		file     string
		want     string
		wantErr  error
	}{
		"first match wins":    {"/", "/bin:/usr/bin", "ls", "/bin/ls", nil},
		"later entry":         {"/", "/usr/bin:/usr/local/bin", "cat", "/usr/local/bin/cat", nil},
		"missing":             {"/", "/bin:/usr/bin", "vi", "", ErrNotFound},
		"not executable":      {"/", "/usr/bin", "notes", "", fs.ErrPermission},
		"directory skipped":   {"/", "/bin", "dir", "", ErrNotFound},
		"empty path":          {"/", "", "ls", "", ErrNotFound},
		"empty element":       {"/bin", ":/usr/bin", "ls", "/bin/ls", nil},
		"relative element":    {"/usr", "bin", "ls", "/usr/bin/ls", nil},
		"absolute name":       {"/", "", "/usr/bin/ls", "/usr/bin/ls", nil},
		"relative name":       {"/home/user", "/bin", "./run.sh", "/home/user/run.sh", nil},
		"relative name skips": {"/", "/home/user", "bin/ls", "/bin/ls", nil},
		"missing name":        {"/", "/bin", "/bin/vi", "", fs.ErrNotExist},
		"name not executable": {"/", "/bin", "/usr/bin/notes", "", fs.ErrPermission},
	}

	fsys := newLookPathFs(t)
	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			got, err := LookPath(fsys, tc.dir, tc.pathList, tc.file)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusNotFound, statusFor(ErrNotFound))
	assert.Equal(t, StatusNotFound, statusFor(fs.ErrNotExist))
	assert.Equal(t, StatusNotExecutable, statusFor(fs.ErrPermission))
	assert.Equal(t, 1, statusFor(assert.AnError))
}

func TestCommandError(t *testing.T) {
	assert.Equal(t, "vi: command not found", (&CommandError{Name: "vi", Err: ErrNotFound}).Error())

	perr := &fs.PathError{Op: "fork/exec", Path: "/usr/bin/notes", Err: fs.ErrPermission}
	assert.Equal(t, "notes: permission denied", (&CommandError{Name: "notes", Err: perr}).Error())
}
