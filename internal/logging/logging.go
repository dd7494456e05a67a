// Package logging provides the structured logger used across every
// coordinator component, mirroring the teacher's logging.Logger interface.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger handed to every component at
// construction time. Components never reach for a global logger.
type Logger interface {
	logrus.FieldLogger
	// Writer returns a writer that pipes lines into the logger at Info
	// level, for wiring into libraries that only accept an io.Writer.
	Writer() *io.PipeWriter
}

type logger struct {
	*logrus.Entry
}

func (l *logger) Writer() *io.PipeWriter {
	return l.Entry.Writer()
}

// New builds the root logger. Level is raised to Debug when the DEBUG
// environment variable is set to a truthy value, matching the teacher's
// convention in main.go.
func New(component string) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debugEnabled() {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return &logger{Entry: base.WithField("component", component)}
}

// With returns a child logger carrying an additional field, used by
// components that want a sub-scope (e.g. per-model loggers).
func With(l Logger, key string, value interface{}) Logger {
	entry := l.WithField(key, value).(*logrus.Entry)
	return &logger{Entry: entry}
}

func debugEnabled() bool {
	v := os.Getenv("DEBUG")
	return v == "1" || v == "true" || v == "TRUE"
}
