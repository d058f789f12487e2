package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/config"
)

// Logger is the structured logger handed to components.
type Logger = logrus.FieldLogger

// Fields represents structured logging fields.
type Fields = logrus.Fields

// New builds a logger from the logging section of the config.
func New(cfg config.LoggingConfig) *logrus.Logger {
	return newWithOutput(cfg, os.Stdout)
}

func newWithOutput(cfg config.LoggingConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// WithService tags every entry with the service name.
func WithService(logger *logrus.Logger, service string) *logrus.Entry {
	return logger.WithField("service", service)
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
