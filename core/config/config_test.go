package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestBuiltinConfig(t *testing.T) {
	rawConfig := make(map[string]interface{})
	assert.Nil(t, yaml.Unmarshal(defaultConfigData, &rawConfig))

	knownFields := make(map[string]bool)
	rt := reflect.TypeOf(Configuration{})
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		assert.NotEmpty(t, jsonTag)
		jsonField := strings.Split(jsonTag, ",")[0]
		knownFields[jsonField] = true

		if _, ok := rawConfig[jsonField]; !ok {
			assert.False(t, true, "default config missing field: %q", jsonField)
		}
	}

	for k := range rawConfig {
		_, ok := knownFields[k]
		assert.True(t, ok, "default config contains invalid field: %q", k)
	}
}

func TestDefaultConfig(t *testing.T) {
	// Will panic() on load failure because it should never happen at runtime.
	cfg := defaultConfig()
	assert.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate    func(c *Configuration)
		wantField string
	}{
		"job control": {func(c *Configuration) { c.JobControl = "sometimes" }, "job_control"},
		"color":       {func(c *Configuration) { c.Color = "rainbow" }, "color"},
		"log level":   {func(c *Configuration) { c.LogLevel = "trace" }, "log_level"},
		"history":     {func(c *Configuration) { c.HistoryLimit = -2 }, "history_limit"},
		"prompt":      {func(c *Configuration) { c.Prompt = "" }, "prompt"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tc.wantField, verrs[0].Field())
		})
	}
}

func TestWantJobControl(t *testing.T) {
	cfg := defaultConfig()

	cfg.JobControl = JobControlAuto
	assert.True(t, cfg.WantJobControl(true))
	assert.False(t, cfg.WantJobControl(false))

	cfg.JobControl = JobControlOn
	assert.True(t, cfg.WantJobControl(false))

	cfg.JobControl = JobControlOff
	assert.False(t, cfg.WantJobControl(true))
}

func TestWantColor(t *testing.T) {
	cfg := defaultConfig()

	cfg.Color = ColorAuto
	assert.True(t, cfg.WantColor(true))
	assert.False(t, cfg.WantColor(false))

	cfg.Color = ColorAlways
	assert.True(t, cfg.WantColor(false))

	cfg.Color = ColorNever
	assert.False(t, cfg.WantColor(true))
}

func TestPaths(t *testing.T) {
	cfg := Default("/etc/jobsh")

	cfg.HistoryFile = "history"
	assert.Equal(t, "/etc/jobsh/history", cfg.HistoryPath())

	cfg.HistoryFile = "/var/history"
	assert.Equal(t, "/var/history", cfg.HistoryPath())

	cfg.LogFile = ""
	assert.Empty(t, cfg.LogPath())
}
