package vortex

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the package-level logger. It always writes to stderr: stdout is
// the wire transport and must never carry anything but framed envelopes.
var Log = newLogger()

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(levelFromEnv())
	return logger
}

func levelFromEnv() logrus.Level {
	switch os.Getenv("VORTEX_LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
