package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/josephlewis42/jobsh/core/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFlagStatus(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", t.TempDir(), "--no-job-control", "-c", "exit 7", "--", "name"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, 7, exitStatus)
}

func TestInitWritesConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobsh")
	stderr := &bytes.Buffer{}
	rootCmd.SetErr(stderr)
	defer rootCmd.SetErr(nil)

	rootCmd.SetArgs([]string{"init", "--config", dir})
	require.NoError(t, rootCmd.Execute())
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))

	stderr.Reset()
	rootCmd.SetArgs([]string{"init", "--config", dir})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stderr.String(), "already exists")
}

func TestBuiltinsCommand(t *testing.T) {
	stdout := &bytes.Buffer{}
	rootCmd.SetOut(stdout)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"builtins"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, strings.Join(shell.BuiltinNames(), "\n")+"\n", stdout.String())
}
