package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// DefaultDir is $XDG_CONFIG_HOME/jobsh, falling back to ~/.config/jobsh.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, AppName)
}

// Load loads the configuration from the directory. A directory without a
// configuration file yields the built in defaults.
func Load(fsys afero.Fs, path string) (*Configuration, error) {
	// If given the path to a config.yaml file, move back up a level.
	if filepath.Base(path) == ConfigurationName {
		path = filepath.Dir(path)
	}

	configContents, err := afero.ReadFile(fsys, filepath.Join(path, ConfigurationName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		configContents = defaultConfigData
	case err != nil:
		return nil, err
	}

	// Fields missing from the file keep their default values.
	out := defaultConfig()
	if err := yaml.UnmarshalStrict(configContents, out); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigurationName, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigurationName, err)
	}
	out.configFs = fsys
	out.dir = path
	return out, nil
}

// Initialize writes the default configuration into dir unless one exists.
func Initialize(fsys afero.Fs, dir string, w io.Writer) (*Configuration, error) {
	if err := fsys.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, ConfigurationName)
	switch _, err := fsys.Stat(path); {
	case err == nil:
		fmt.Fprintf(w, "%s already exists, leaving it untouched\n", path)
	case errors.Is(err, fs.ErrNotExist):
		if err := afero.WriteFile(fsys, path, defaultConfigData, 0600); err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	default:
		return nil, err
	}

	return Load(fsys, dir)
}
