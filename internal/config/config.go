// Package config loads the server configuration from a CUE or TOML
// file and validates it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Defaults.
const (
	DefaultPort     = 4303
	DefaultMaxFPS   = 60
	DefaultLogLevel = "info"
)

// Config is everything the serve command needs.
type Config struct {
	// Port is the TCP port of the line protocol. 0 picks a free port.
	Port int `json:"port" toml:"port" validate:"gte=0,lte=65535"`

	// HTTPAddr is the address of the HTTP side port serving metrics,
	// health, function docs and the WebSocket transport. Empty
	// disables it.
	HTTPAddr string `json:"http_addr" toml:"http_addr" validate:"omitempty,hostname_port"`

	// MaxFPS caps cycles per second. 0 runs unpaced.
	MaxFPS float64 `json:"max_fps" toml:"max_fps" validate:"gte=0,lte=1000"`

	// FixedTimestep, when set, is reported as dtime every cycle.
	FixedTimestep float64 `json:"fixed_timestep" toml:"fixed_timestep" validate:"gte=0"`

	// MaxRequestsPerCycle caps the lines handled per client per cycle.
	MaxRequestsPerCycle int `json:"max_requests_per_cycle" toml:"max_requests_per_cycle" validate:"gte=0"`

	// Document is the XML file loaded at startup.
	Document string `json:"document" toml:"document" validate:"required_if=Watch true"`

	// Watch reloads Document into the root when the file changes.
	Watch bool `json:"watch" toml:"watch"`

	// Database is the SQLite journal. Empty disables journaling.
	Database string `json:"database" toml:"database" validate:"required_with=SnapshotEvery"`

	// SnapshotEvery writes a snapshot every N changed cycles.
	SnapshotEvery uint64 `json:"snapshot_every" toml:"snapshot_every"`

	// DumpOnExit is where the document is written at shutdown.
	DumpOnExit string `json:"dump_on_exit" toml:"dump_on_exit"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `json:"log_level" toml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		MaxFPS:   DefaultMaxFPS,
		LogLevel: DefaultLogLevel,
	}
}

var validate = validator.New()

// Validate checks field constraints. The error lists every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return &ValidationError{Problems: msgs}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required_if", "required_with":
		return fmt.Sprintf("%s is required (%s %s)", fe.Field(), fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", fe.Field(), fe.Value())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s, got %v", fe.Field(), fe.Tag(), fe.Value())
}

// ValidationError lists constraint violations.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads path, picking the format from its extension, fills in
// defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{Path: path, Message: "cannot read config", Err: err}
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		cfg, err = parseCUE(path, data)
	case ".toml":
		cfg, err = parseTOML(path, data)
	default:
		return Config{}, &LoadError{Path: path, Message: fmt.Sprintf("unsupported config format %q (want .cue or .toml)", ext)}
	}
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadError is a config file that could not be read or parsed. Line
// and Column are set when the parser reported a position.
type LoadError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
