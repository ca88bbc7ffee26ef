/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/grimnir_graphics/internal/logbuffer"
)

// Setup configures zerolog for the process. Format "json" writes raw JSON
// lines, anything else a human-readable console.
func Setup(environment, format string) zerolog.Logger {
	return SetupWithWriter(environment, format, os.Stdout, nil)
}

// SetupWithBuffer is Setup that also captures every line into buf.
func SetupWithBuffer(environment, format string, buf *logbuffer.Buffer) zerolog.Logger {
	return SetupWithWriter(environment, format, os.Stdout, buf)
}

// SetupWithWriter configures zerolog writing to out, and to buf when not nil.
func SetupWithWriter(environment, format string, out io.Writer, buf *logbuffer.Buffer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	writer := out
	if format != "json" {
		writer = zerolog.ConsoleWriter{Out: out}
	}
	if buf != nil {
		writer = zerolog.MultiLevelWriter(writer, logbuffer.NewWriter(buf))
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
