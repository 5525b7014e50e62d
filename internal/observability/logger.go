// Package observability carries the logging and metrics shared by the leave
// queue worker and its CLIs. Every component logs JSON through one logrus
// logger, tagged with the component name, and reports message lifecycle
// counts through a MetricsCollector.
package observability

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ServiceName tags every log line so worker and producer output can be
// told apart from other services writing to the same sink.
const ServiceName = "workforce-queue"

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	logger.SetLevel(logrus.InfoLevel)
}

// InitLogger sets the level from LOG_LEVEL; unknown levels fall back to info.
func InitLogger(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

func GetLogger() *logrus.Logger {
	return logger
}

// Component returns an entry tagged with the service and the emitting component.
func Component(name string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"service":   ServiceName,
		"component": name,
	})
}

// NopEntry discards everything; tests inject it to keep output quiet.
func NopEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
