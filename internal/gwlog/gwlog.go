// Package gwlog wires up the two logging sinks the spec's ambient logging
// section calls for: an ECS-JSON operational log (zerolog, formatted via
// go.elastic.co/ecszerolog, written through a rotating lumberjack writer),
// and a separate human-readable admin audit log (logrus), mirroring Kannel's
// integer debug-level gwlib/gwlog.h API reduced to the handful of levels
// zerolog itself uses.
package gwlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.elastic.co/ecszerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level names accepted in configuration, matching zerolog's own vocabulary.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func parseLevel(s string) zerolog.Level {
	switch s {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// OperationalConfig configures the rotated ECS-JSON operational log.
type OperationalConfig struct {
	LogFile    string // empty means stderr, no rotation
	Level      string
	MaxSizeMB  int // lumberjack MaxSize, default 100
	MaxBackups int // default 5
	MaxAgeDays int // default 28
}

// NewOperational returns the bound, top-level operational logger. Every
// long-lived component (§4.12) derives its own logger from this one via
// With().Str(...).Logger() before being constructed, rather than reaching
// for a package-global logger.
func NewOperational(cfg OperationalConfig) zerolog.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups == 0 {
			maxBackups = 5
		}
		maxAge := cfg.MaxAgeDays
		if maxAge == 0 {
			maxAge = 28
		}
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		}
	}

	logger := ecszerolog.New(w, ecszerolog.Level(parseLevel(cfg.Level))).
		With().
		Str("service", "bearerbox").
		Logger()
	return logger
}

// NewAudit returns the admin-command audit logger: plain text, one line per
// command, kept separate from the operational log so it stays greppable
// regardless of the operational log's format or rotation schedule.
func NewAudit(w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}
