package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttcal/internal/timetable"
)

func TestLoadFirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ttcal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadPartialConfigIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttcal.yaml")
	yml := `source: https://uni.example/plan.pdf
extractor: " PDF "
bands:
  time: [80, 95]
serve:
  basic_auth:
    username: ""
    password: ""
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://uni.example/plan.pdf", cfg.Source)
	assert.Equal(t, "pdf", cfg.Extractor)
	assert.Equal(t, "calendar.ics", cfg.Output)
	assert.Nil(t, cfg.Serve.BasicAuth)
	require.NoError(t, cfg.Validate())

	bands, err := cfg.TimetableBands()
	require.NoError(t, err)
	assert.Equal(t, timetable.Band{Lo: 80, Hi: 95}, bands.Time)
	assert.Equal(t, timetable.DefaultBands().Date, bands.Date)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bands: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"overlapping bands", func(c *Config) { c.Bands.Time = []float64{55, 90} }, "overlap"},
		{"short band", func(c *Config) { c.Bands.Date = []float64{51} }, "two values"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad pattern", func(c *Config) { c.DatePattern = "dd.MM.yy QQ" }, ""},
		{"bad extractor", func(c *Config) { c.Extractor = "ocr" }, "unknown extractor"},
		{"bad cron", func(c *Config) { c.Serve.Refresh = "every hour" }, "serve.refresh"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tc.want != "" {
				assert.ErrorContains(t, err, tc.want)
			}
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttcal.yaml")
	cfg := DefaultConfig()
	cfg.CompactWeekly = true
	cfg.Calendar.Name = "WS 24/25"
	cfg.Serve.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.Equal(t, timetable.Placeholder{Substring: "leer", MaxLen: 10}, got.TimetablePlaceholder())

	assert.Error(t, Save("", cfg))
	assert.Error(t, Save(path, nil))
}
