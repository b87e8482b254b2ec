// Package logger provides the structured logging interface used across coursedump.
//
// It wraps zerolog behind a small Logger interface with support for:
//   - Leveled logging (Debug, Info, Warn, Error)
//   - Structured fields carried by child loggers
//   - Pretty colored console output on stderr, optionally mirrored to a file
//   - A global logger for code that has no logger injected
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	logger.Info("Archive started")
//	logger.WithField("course", "Physics 101").Info("Entering container")
//	logger.WithError(err).Error("Failed to write checkpoint")
//
// Components take a Logger in their constructors. Tests pass NewNopLogger
// or a TestLogger, which records every message for later assertions.
package logger
