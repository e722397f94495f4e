package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConsoleLogger builds the process-wide logrus logger.
func ConsoleLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}
