package main

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-explorer/internal/config"
)

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(config.GetEnvOrDefault("LOG_FORMAT", "text"))
	logLevel := strings.ToLower(config.GetEnvOrDefault("LOG_LEVEL", "info"))

	// Set log formatter based on environment
	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.Debug("Logging configured")
}
