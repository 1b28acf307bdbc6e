package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "weave.db", cfg.Store.Path)
	assert.Equal(t, 1000, cfg.Merge.HistoryCapacity)
	assert.Equal(t, 5, cfg.Merge.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Merge.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.Merge.MaxInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "weave", cfg.Redis.ChannelPrefix)
}

func TestParse_FileOverridesDefaults(t *testing.T) {
	src := []byte(`
log: {
	level:  "debug"
	format: "json"
}
store: path: "/var/lib/weave/weave.db"
merge: {
	historyCapacity: 200
	initialInterval: "10ms"
}
redis: {
	enabled: true
	url:     "redis://cache:6379/1"
}
`)
	cfg, err := Parse("weave.cue", src)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/lib/weave/weave.db", cfg.Store.Path)
	assert.Equal(t, 200, cfg.Merge.HistoryCapacity)
	assert.Equal(t, 5, cfg.Merge.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.Merge.InitialInterval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "weave", cfg.Redis.ChannelPrefix)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown level", `log: level: "verbose"`},
		{"unknown field", `cache: size: 10`},
		{"zero history", `merge: historyCapacity: 0`},
		{"bad duration", `merge: maxInterval: "soon"`},
		{"empty prefix", `redis: channelPrefix: ""`},
		{"syntax", `log: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("weave.cue", []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.cue")
	require.NoError(t, os.WriteFile(path, []byte(`store: path: "file.db"`), 0o644))

	t.Setenv("WEAVE_DB", "env.db")
	t.Setenv("WEAVE_LOG_LEVEL", "warn")
	t.Setenv("WEAVE_REDIS_URL", "redis://env:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis://env:6379/0", cfg.Redis.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.Error(t, err)
}

func TestDefault_NoEnv(t *testing.T) {
	t.Setenv("WEAVE_DB", "")
	t.Setenv("WEAVE_LOG_LEVEL", "")
	t.Setenv("WEAVE_REDIS_URL", "")

	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "weave.db", cfg.Store.Path)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	LogConfig{Level: "bogus", Format: "text"}.NewLogger(&buf).Info("fallback")
	assert.Contains(t, buf.String(), "msg=fallback")
}
