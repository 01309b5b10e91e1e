// Package logger provides leveled structured logging for the query pipeline.
// The evidence chain is the audit record; these logs are operational only.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// Setup reconfigures the root logger. JSON output is preferred for service
// deployments; the console writer is the default for interactive use.
func Setup(w io.Writer, jsonOutput bool, debug bool) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	var l zerolog.Logger
	if jsonOutput {
		l = zerolog.New(w)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: w})
	}
	l = l.With().Timestamp().Logger().Level(level)

	mu.Lock()
	root = l
	mu.Unlock()
}

// With returns a child logger tagged with a component name.
func With(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}

func Debug(msg string) { l := log(); l.Debug().Msg(msg) }
func Info(msg string)  { l := log(); l.Info().Msg(msg) }
func Warn(msg string)  { l := log(); l.Warn().Msg(msg) }
func Error(msg string) { l := log(); l.Error().Msg(msg) }

func log() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}
