// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package obslog provides structured logging for the orchestrator, backed by zerolog.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a configurable log verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how the global logger is initialized.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is the interface call sites depend on, so handlers/services can be
// tested against a fake without importing zerolog directly.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
	With(component string) Logger
}

var base zerolog.Logger

// Init configures the package-level zerolog logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		base = zerolog.New(output).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// New returns a Logger rooted at the package-level zerolog logger, tagged
// with the given component name.
func New(component string) Logger {
	return zerologAdapter{l: base.With().Str("component", component).Logger()}
}

type zerologAdapter struct {
	l zerolog.Logger
}

func (z zerologAdapter) Info(format string, args ...interface{}) {
	z.l.Info().Msgf(format, args...)
}

func (z zerologAdapter) Warn(format string, args ...interface{}) {
	z.l.Warn().Msgf(format, args...)
}

func (z zerologAdapter) Error(format string, args ...interface{}) {
	z.l.Error().Msgf(format, args...)
}

func (z zerologAdapter) Debug(format string, args ...interface{}) {
	z.l.Debug().Msgf(format, args...)
}

func (z zerologAdapter) With(component string) Logger {
	return zerologAdapter{l: z.l.With().Str("component", component).Logger()}
}
