package config

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	fsys := afero.NewMemMapFs()
	var out bytes.Buffer

	cfg, err := Initialize(fsys, "/cfg", &out)
	require.NoError(t, err)
	assert.Equal(t, "wrote /cfg/config.yaml\n", out.String())
	assert.Equal(t, "/cfg", cfg.Dir())

	written, err := afero.ReadFile(fsys, "/cfg/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, defaultConfigData, written)

	t.Run("existing config kept", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fsys, "/cfg/config.yaml", []byte("prompt: '> '\njob_control: 'off'\n"), 0600))

		out.Reset()
		cfg, err := Initialize(fsys, "/cfg", &out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "already exists")
		assert.Equal(t, "> ", cfg.Prompt)
		assert.False(t, cfg.WantJobControl(true))
	})

	t.Run("OpenAppLog", func(t *testing.T) {
		cfg.LogFile = "logs/app.log"
		fd, err := cfg.OpenAppLog()
		require.NoError(t, err)
		fd.Close()

		exists, err := afero.Exists(fsys, filepath.Join("/cfg", "logs", "app.log"))
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestLoad(t *testing.T) {
	cases := map[string]struct {
		contents string
		wantErr  bool
		check    func(t *testing.T, cfg *Configuration)
	}{
		"missing file uses defaults": {
			check: func(t *testing.T, cfg *Configuration) {
				assert.Equal(t, JobControlAuto, cfg.JobControl)
				assert.Equal(t, 500, cfg.HistoryLimit)
			},
		},
		"overrides": {
			contents: "prompt: '$ '\nhistory_file: ''\nhistory_limit: 10\njob_control: 'on'\nnotify: true\ncolor: always\nlog_file: app.log\nlog_level: debug\n",
			check: func(t *testing.T, cfg *Configuration) {
				assert.Equal(t, "$ ", cfg.Prompt)
				assert.Empty(t, cfg.HistoryPath())
				assert.True(t, cfg.Notify)
				assert.Equal(t, "/cfg/app.log", cfg.LogPath())
			},
		},
		"unknown field": {
			contents: "prompt: '$ '\nfavorite_color: blue\n",
			wantErr:  true,
		},
		"partial file keeps defaults": {
			contents: "notify: true\n",
			check: func(t *testing.T, cfg *Configuration) {
				assert.True(t, cfg.Notify)
				assert.Equal(t, ColorAuto, cfg.Color)
			},
		},
		"unquoted off": {
			contents: "job_control: off\n",
			wantErr:  true,
		},
		"invalid value": {
			contents: "job_control: maybe\n",
			wantErr:  true,
		},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			if tc.contents != "" {
				require.NoError(t, afero.WriteFile(fsys, "/cfg/config.yaml", []byte(tc.contents), 0600))
			}

			cfg, err := Load(fsys, "/cfg/config.yaml")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}
