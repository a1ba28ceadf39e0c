// Package eilog provides the shared zerolog setup used by every long-lived
// component of the processor core.
package eilog

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	base     zerolog.Logger
)

// Base returns the process-wide root logger. Components derive scoped
// loggers from it with For rather than constructing their own.
func Base() zerolog.Logger {
	baseOnce.Do(func() {
		level := zerolog.InfoLevel
		if os.Getenv("EI_DEBUG") != "" {
			level = zerolog.DebugLevel
		}
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()
	})
	return base
}

// For returns a logger scoped to a named component, e.g. For("state-manager").
func For(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// FromContext returns the request-scoped logger if one was attached via
// zerolog.Ctx, otherwise falls back to the provided logger.
func FromContext(ctx context.Context, fallback *zerolog.Logger) *zerolog.Logger {
	if ctx != nil {
		if ctxLog := zerolog.Ctx(ctx); ctxLog != nil && ctxLog.GetLevel() != zerolog.Disabled {
			return ctxLog
		}
	}
	return fallback
}
