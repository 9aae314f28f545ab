// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package logging configures the process-wide hclog logger that all
// localcloud subsystems hang their named sub-loggers off.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// These are the environmental variables that determine if we log, and if
// we log whether or not the log should go to a file.
const (
	envLog     = "LOCALCLOUD_LOG"
	envLogFile = "LOCALCLOUD_LOG_PATH"
)

var (
	// ValidLevels are the log level names that LOCALCLOUD_LOG accepts.
	ValidLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF"}

	// logger is the global hclog logger
	logger hclog.Logger

	// logWriter is a global writer for logs, to be used with the std log package
	logWriter io.Writer
)

func init() {
	logger = newHCLogger("localcloud")
	logWriter = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

	// set up the default std library logger to use our output
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(logWriter)
}

// newHCLogger returns a new hclog.Logger instance with the given name
func newHCLogger(name string) hclog.Logger {
	logOutput := io.Writer(os.Stderr)

	if logPath := os.Getenv(envLogFile); logPath != "" {
		f, err := os.OpenFile(logPath, syscallAppendFlags, 0644)
		if err != nil {
			log.Printf("[ERROR] Error opening log file: %v", err)
		} else {
			logOutput = f
		}
	}

	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:              name,
		Level:             globalLogLevel(),
		Output:            logOutput,
		IndependentLevels: true,
	})
}

const syscallAppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND

// HCLogger returns the default global hclog logger.
func HCLogger() hclog.Logger {
	return logger
}

// LogOutput return the default global log io.Writer.
func LogOutput() io.Writer {
	return logWriter
}

// globalLogLevel returns the log level read from the LOCALCLOUD_LOG
// environment variable. An empty or invalid value means logging is off.
func globalLogLevel() hclog.Level {
	envLevel := strings.ToUpper(os.Getenv(envLog))
	if envLevel == "" {
		return hclog.Off
	}
	if envLevel == "JSON" {
		envLevel = "TRACE"
	}
	if !isValidLogLevel(envLevel) {
		log.Printf("[WARN] Invalid log level %q. Defaulting to TRACE. Valid levels are: %+v",
			envLevel, ValidLevels)
		return hclog.Trace
	}
	return hclog.LevelFromString(envLevel)
}

func isValidLogLevel(level string) bool {
	for _, l := range ValidLevels {
		if level == l {
			return true
		}
	}
	return false
}
