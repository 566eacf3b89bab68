// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

// Package logger provides structured JSON logging for Nexus backend
// components. Each entry carries the component name, an optional request
// ID for correlation, and free-form fields, emitted as single-line JSON
// on stdout so log aggregators can consume it directly.
package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

// Logger writes structured log entries for a single component.
// Safe for concurrent use.
type Logger struct {
	component string
	hostname  string
	debug     bool

	mu  sync.Mutex
	out io.Writer
}

// Entry is the wire format of a single log line.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Hostname  string         `json:"hostname,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New creates a Logger for the given component, writing to stdout.
// Debug entries are emitted only when LOG_LEVEL=debug is set.
func New(component string) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Logger{
		component: component,
		hostname:  hostname,
		debug:     os.Getenv("LOG_LEVEL") == "debug",
		out:       os.Stdout,
	}
}

// NewWithWriter creates a Logger that writes to w. Used in tests.
func NewWithWriter(component string, w io.Writer) *Logger {
	l := New(component)
	l.out = w
	return l
}

func (l *Logger) write(level Level, requestID, message string, fields map[string]any) {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.component,
		Hostname:  l.hostname,
		RequestID: requestID,
		Message:   message,
		Fields:    fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

// Info logs an informational message.
func (l *Logger) Info(requestID, message string, fields map[string]any) {
	l.write(INFO, requestID, message, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(requestID, message string, fields map[string]any) {
	l.write(WARN, requestID, message, fields)
}

// Error logs an error message. A non-nil err is added to the fields.
func (l *Logger) Error(requestID, message string, err error, fields map[string]any) {
	if err != nil {
		if fields == nil {
			fields = make(map[string]any)
		}
		fields["error"] = err.Error()
	}
	l.write(ERROR, requestID, message, fields)
}

// Debug logs a debug message when debug logging is enabled.
func (l *Logger) Debug(requestID, message string, fields map[string]any) {
	if !l.debug {
		return
	}
	l.write(DEBUG, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field.
func (l *Logger) InfoWithDuration(requestID, message string, durationMS float64, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["duration_ms"] = durationMS
	l.Info(requestID, message, fields)
}
