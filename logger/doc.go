// Package logger provides structured logging for the resilio core
// using zerolog.
//
// It supports multiple output formats (JSON, console), log level
// configuration, and component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "console"
//	  output: "stdout"
//
// # Usage
//
//	log := logger.NewDefault("resilio")
//	log.WithComponent("breaker").Info("state changed",
//	    logger.Fields("target", "api", "state", "open"))
package logger
