package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions mirror the LOG_* environment variables.
type LogOptions struct {
	Level      string // debug | info | warn | error
	Format     string // text | json
	File       string // optional rolling file, written alongside stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values yield
// info and ok=false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger builds a logger writing to stdout and, when File is set, to a
// lumberjack-rotated file. The returned closer releases the file.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer) {
	return newLogger(os.Stdout, opts)
}

func newLogger(stdout io.Writer, opts LogOptions) (*slog.Logger, io.Closer) {
	lvl, ok := ParseLevel(opts.Level)

	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(stdout, lj)
		closer = lj
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	logger := slog.New(handler)
	if !ok {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", opts.Level))
	}
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
