// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLevel  = "CELLSIM_LOG_LEVEL"
	EnvFormat = "CELLSIM_LOG_FORMAT"
)

type Profile string

const (
	ProfileRuntime Profile = "runtime"
	ProfileTest    Profile = "test"
)

type Options struct {
	Level  string
	Format string // console or json
	Out    io.Writer
}

var mu sync.Mutex

func defaults(profile Profile) Options {
	switch profile {
	case ProfileTest:
		return Options{Level: "warn", Format: "console", Out: os.Stderr}
	default:
		return Options{Level: "info", Format: "console", Out: os.Stderr}
	}
}

// Configure installs the global logger for profile. Environment variables
// override the profile defaults.
func Configure(profile Profile) zerolog.Logger {
	opts := defaults(profile)
	if v := strings.TrimSpace(os.Getenv(EnvLevel)); v != "" {
		opts.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFormat)); v != "" {
		opts.Format = v
	}
	return Init("cellsim", opts)
}

func Init(app string, opts Options) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// New returns a child of the global logger tagged with component.
func New(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
