// Package logging builds the structured logger shared by the binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

type Config struct {
	Level   string
	NoColor bool
	// File enables a rotated log file next to stderr. Empty disables it.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	// Caller adds file:line of the log call.
	Caller bool
}

// New returns a logger tagged with component. Entries are written to stderr
// and, when cfg.File is set, to a lumberjack-rotated file.
func New(component string, cfg Config) (*logrus.Entry, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	logger.SetFormatter(&formatter.Formatter{
		NoColors:        cfg.NoColor,
		TimestampFormat: "2006-01-02 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		FieldsOrder:     []string{"component", "job_id", "preset"},
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	})
	logger.SetReportCaller(cfg.Caller)

	writers := []io.Writer{os.Stderr}
	if strings.TrimSpace(cfg.File) != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    positive(cfg.MaxSizeMB, 100),
			MaxAge:     positive(cfg.MaxAgeDays, 7),
			MaxBackups: positive(cfg.MaxBackups, 3),
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger.WithField("component", component), nil
}

// Discard is a logger for tests and library callers that do not log.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
