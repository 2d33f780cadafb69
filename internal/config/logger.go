package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// NewLogger builds the process logger from the logging configuration. The returned closer
// releases the log file when output is a path; it is a no-op otherwise.
func NewLogger(cfg domain.LoggingConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	out, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(out)

	return logger, closer, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", output, err)
	}
	return f, f.Close, nil
}
