package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
	AppName           = "jobsh"
)

// Job control modes.
const (
	JobControlAuto = "auto"
	JobControlOn   = "on"
	JobControlOff  = "off"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

type Configuration struct {
	configFs afero.Fs
	dir      string

	Prompt       string `json:"prompt" validate:"required"`
	HistoryFile  string `json:"history_file"`
	HistoryLimit int    `json:"history_limit" validate:"gte=-1"`
	JobControl   string `json:"job_control" validate:"oneof=auto on off"`
	Notify       bool   `json:"notify"`
	Color        string `json:"color" validate:"oneof=auto always never"`
	LogFile      string `json:"log_file"`
	LogLevel     string `json:"log_level" validate:"oneof=debug info warn error"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	if c.configFs == nil {
		return afero.NewOsFs()
	}
	return c.configFs
}

// Dir is the directory the configuration was loaded from.
func (c *Configuration) Dir() string {
	return c.dir
}

func (c *Configuration) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if strings.HasPrefix(name, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, name[2:])
		}
	}
	return filepath.Join(c.dir, name)
}

// HistoryPath is the absolute path of the history file, or empty when
// history is not persisted.
func (c *Configuration) HistoryPath() string {
	return c.resolve(c.HistoryFile)
}

// LogPath is the absolute path of the application log, or empty when
// logging is disabled.
func (c *Configuration) LogPath() string {
	return c.resolve(c.LogFile)
}

// OpenAppLog opens the application log in an append only state.
func (c *Configuration) OpenAppLog() (afero.File, error) {
	path := c.LogPath()
	if err := c.fs().MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return c.fs().OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// WantJobControl decides whether job control should be enabled for a shell
// whose interactivity is given.
func (c *Configuration) WantJobControl(interactive bool) bool {
	switch c.JobControl {
	case JobControlOn:
		return true
	case JobControlOff:
		return false
	default:
		return interactive
	}
}

// WantColor decides whether output to a terminal should be colorized.
func (c *Configuration) WantColor(isTerminal bool) bool {
	switch c.Color {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		return isTerminal
	}
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}

// Default returns the built in configuration rooted at dir.
func Default(dir string) *Configuration {
	out := defaultConfig()
	out.dir = dir
	return out
}
