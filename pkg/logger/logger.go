// Package logger provides the category+fields structured logging call-site
// idiom used throughout relay, backed by zerolog.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
)

// Configure replaces the package-wide logger. Call once at startup, before
// any other package begins logging.
func Configure(level zerolog.Level, json bool, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	var out io.Writer = w
	if !json {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	mu.Lock()
	log = zerolog.New(out).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func emit(level zerolog.Level, category, message string, fields map[string]interface{}) {
	l := current()
	evt := l.WithLevel(level).Str("category", category)
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(message)
}

// DebugCF logs a debug-level event tagged with category and structured fields.
func DebugCF(category, message string, fields map[string]interface{}) {
	emit(zerolog.DebugLevel, category, message, fields)
}

// InfoCF logs an info-level event tagged with category and structured fields.
func InfoCF(category, message string, fields map[string]interface{}) {
	emit(zerolog.InfoLevel, category, message, fields)
}

// WarnCF logs a warn-level event tagged with category and structured fields.
func WarnCF(category, message string, fields map[string]interface{}) {
	emit(zerolog.WarnLevel, category, message, fields)
}

// ErrorCF logs an error-level event tagged with category and structured fields.
func ErrorCF(category, message string, fields map[string]interface{}) {
	emit(zerolog.ErrorLevel, category, message, fields)
}
