// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Rotation settings for the optional log file.
const (
	fileMaxSizeMB  = 10
	fileMaxBackups = 5
	fileMaxAgeDays = 30
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger writing to stderr in format, and additionally to file
// (rotated, always JSON) when file is not empty. The logger also becomes the
// global log.Logger. The returned closer releases the log file.
func New(level, format, file string) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level: %w", err)
	}
	console, err := consoleWriter(format, os.Stderr)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var w io.Writer = console
	var closer io.Closer = nopCloser{}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log file directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(console, lj)
		closer = lj
	}

	logger := NewWithWriter(lvl, w)
	return logger, closer, nil
}

// NewWithWriter builds a logger on w and installs it as log.Logger.
func NewWithWriter(level zerolog.Level, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func consoleWriter(format string, out *os.File) (io.Writer, error) {
	switch format {
	case FormatJSON:
		return out, nil
	case FormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}, nil
	case FormatAuto, "":
		if term.IsTerminal(int(out.Fd())) && os.Getenv("NO_COLOR") == "" {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}
