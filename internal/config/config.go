// Package config loads weave's configuration from a CUE file validated
// against an embedded schema, with environment overrides.
//
// Precedence, lowest first: schema defaults, the file, environment
// variables (WEAVE_DB, WEAVE_REDIS_URL, WEAVE_LOG_LEVEL).
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	Log   LogConfig
	Store StoreConfig
	Merge MergeConfig
	Redis RedisConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path"`
}

// MergeConfig tunes merging and compaction retries.
type MergeConfig struct {
	HistoryCapacity int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RedisConfig configures update broadcasting.
type RedisConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	ChannelPrefix string `json:"channelPrefix"`
}

// fileConfig mirrors #Config field for field.
type fileConfig struct {
	Log   LogConfig   `json:"log"`
	Store StoreConfig `json:"store"`
	Merge struct {
		HistoryCapacity int    `json:"historyCapacity"`
		MaxRetries      int    `json:"maxRetries"`
		InitialInterval string `json:"initialInterval"`
		MaxInterval     string `json:"maxInterval"`
	} `json:"merge"`
	Redis RedisConfig `json:"redis"`
}

// Error is a configuration error with its CUE source position.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the schema defaults with environment overrides.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the CUE file at path, or only the defaults if path is empty,
// and applies environment overrides.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	cfg, err := Parse(path, src)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// Parse validates src against #Config and decodes it. filename is used in
// error positions only. Environment variables are not consulted.
func Parse(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = v.Unify(file)
	}
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	var raw fileConfig
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &Config{
		Log:   raw.Log,
		Store: raw.Store,
		Redis: raw.Redis,
	}
	cfg.Merge.HistoryCapacity = raw.Merge.HistoryCapacity
	cfg.Merge.MaxRetries = raw.Merge.MaxRetries
	var err error
	if cfg.Merge.InitialInterval, err = time.ParseDuration(raw.Merge.InitialInterval); err != nil {
		return nil, fmt.Errorf("merge.initialInterval: %w", err)
	}
	if cfg.Merge.MaxInterval, err = time.ParseDuration(raw.Merge.MaxInterval); err != nil {
		return nil, fmt.Errorf("merge.maxInterval: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with non-empty environment variables.
// WEAVE_REDIS_URL also enables broadcasting.
func applyEnv(cfg *Config) {
	cfg.Store.Path = getenv("WEAVE_DB", cfg.Store.Path)
	cfg.Log.Level = getenv("WEAVE_LOG_LEVEL", cfg.Log.Level)
	if url := os.Getenv("WEAVE_REDIS_URL"); url != "" {
		cfg.Redis.URL = url
		cfg.Redis.Enabled = true
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// NewLogger builds a logger writing to w per c. Unknown levels fall back
// to info.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Message: first.Error()}
}
