package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates the shared logger instance
func New() *logrus.Logger {
	log := logrus.New()

	// Always use JSON formatter for clean, consistent output
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	})

	log.SetOutput(os.Stdout)

	// Set level based on environment
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// SetLevel applies a configured level string to an existing logger
func SetLevel(log *logrus.Logger, level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, keeping current")
		return
	}
	log.SetLevel(parsed)
}
