// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for adcanary components.
//
// The logger is a thin layer over Go's standard slog package with two
// destinations:
//
//   - stderr, text format by default (Unix CLI convention: stdout is
//     reserved for the JSON reports the commands emit)
//   - an optional per-service JSON log file under a configurable directory
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("entering active phase", "run_id", runID)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   slog.LevelDebug,
//	    LogDir:  "~/.adcanary/logs",
//	    Service: "orchestrator",
//	})
//	defer logger.Close()
//
// # Security
//
// Nothing is redacted automatically. Callers must not log secret values;
// log presence booleans instead ("token_present", token != "").
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls logger construction. The zero value yields an Info-level
// text logger on stderr.
type Config struct {
	// Level is the minimum level emitted. Default: slog.LevelInfo.
	Level slog.Level

	// LogDir, when set, enables an additional JSON log file named
	// "{Service}_{YYYY-MM-DD}.log" inside the directory. Supports a
	// leading ~ for the home directory. The directory is created with
	// 0750 permissions if missing.
	LogDir string

	// Service tags every record with a "service" attribute.
	Service string

	// JSON switches the stderr handler to JSON format. File output is
	// always JSON regardless.
	JSON bool

	// Quiet suppresses stderr output entirely. Useful for the daemon,
	// whose stderr nobody watches.
	Quiet bool
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with multi-destination output and cleanup.
//
// Safe for concurrent use; slog handlers are thread-safe and the file
// handle is only touched by Close.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a Logger from config. The returned logger must be closed
// with Close if file logging is enabled.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{}

	if config.LogDir != "" {
		if file := openLogFile(config); file != nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &teeHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.Logger = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger tagged "adcanary".
func Default() *Logger {
	return New(Config{Service: "adcanary"})
}

// With returns a child logger carrying additional attributes. The file
// handle is shared; only close the root logger.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), file: l.file}
}

// Close syncs and closes the log file, if any. Safe on loggers without
// file output.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// openLogFile opens the dated log file, returning nil on any failure.
// Logging must never prevent the CLI from running.
func openLogFile(config Config) *os.File {
	dir := expandPath(config.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}
	service := config.Service
	if service == "" {
		service = "adcanary"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return file
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Tee Handler (internal)
// =============================================================================

// teeHandler fans records out to several slog handlers, enabling text on
// stderr beside JSON in the log file.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
