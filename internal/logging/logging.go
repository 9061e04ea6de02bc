// Package logging builds the logrus loggers handed to each component.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// New creates a logger writing to w at the given level ("trace".."panic")
// in "text" or "json" format.
func New(level, format string, w io.Writer) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)

	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return logrus.NewEntry(l), nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Component returns log annotated with the component name, or a discarding
// logger when log is nil.
func Component(log *logrus.Entry, name string) *logrus.Entry {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}
