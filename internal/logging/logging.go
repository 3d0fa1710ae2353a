// Package logging configures the process-wide zerolog logger and hands out
// component loggers derived from it.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level, format and destination of log output.
type Config struct {
	Level        string
	Format       string // "console" or "json"
	EnableCaller bool
	NoColor      bool
	Output       io.Writer
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init replaces the base logger. Unknown levels fall back to info.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: cfg.NoColor}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}

	mu.Lock()
	base = ctx.Logger()
	mu.Unlock()
}

// Logger returns the base logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}
