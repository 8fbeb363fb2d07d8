// Package envcfg reads process-level settings (listen addresses, file
// paths, secrets, timeouts) from the environment for the gateway, kiosk,
// and panel binaries. internal/config owns the hot-reloadable hardware
// and zone Configuration Document; this package is its ENV-only cousin
// for things that are fixed for a process's lifetime.
package envcfg

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lockergrid/core/internal/log"
)

// String reads key from the environment, logging whether the value or a
// default was used.
func String(key, defaultValue string) string {
	logger := log.WithComponent("envcfg")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("default", defaultValue).Msg("using default value")
		return defaultValue
	}
	if strings.Contains(strings.ToLower(key), "secret") || strings.Contains(strings.ToLower(key), "token") {
		logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", v).Msg("using environment variable")
	}
	return v
}

// Int reads key as an integer, falling back to defaultValue on absence
// or parse failure.
func Int(key string, defaultValue int) int {
	logger := log.WithComponent("envcfg")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

// Bool reads key as a boolean, falling back to defaultValue on absence
// or parse failure.
func Bool(key string, defaultValue bool) bool {
	logger := log.WithComponent("envcfg")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}

// Duration reads key as a Go duration string, falling back to
// defaultValue on absence or parse failure.
func Duration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("envcfg")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

// StringSlice reads key as a comma-separated list, trimming whitespace
// around each element and dropping empty ones.
func StringSlice(key string, defaultValue []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
