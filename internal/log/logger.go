// Package log provides structured logging utilities shared by every
// LockerGrid process (gateway, kiosk, panel).
package log

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the base process logger.
type Config struct {
	Level   string // debug, info, warn, error
	Service string // gateway, kiosk, panel
	Version string
	Pretty  bool // human-readable console writer instead of JSON
}

var (
	baseMu  sync.RWMutex
	base    zerolog.Logger
	once    sync.Once
	started atomic.Bool
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Configure installs the process-wide base logger. Call once at startup,
// before any component captures a logger via L() or FromContext().
func Configure(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", cfg.Service).
		Str("version", cfg.Version).
		Logger()

	baseMu.Lock()
	base = l
	baseMu.Unlock()
	started.Store(true)
}

// L returns the process-wide base logger.
func L() *zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	l := base
	return &l
}

// WithComponent returns a logger annotated with a component field, derived
// from the base logger.
func WithComponent(component string) zerolog.Logger {
	return L().With().Str("component", component).Logger()
}
