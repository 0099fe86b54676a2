package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// ----- Public wire types -----

// ErrorObject is emitted only for error logs.
type ErrorObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// LogEntry is the single-line JSON format written to the sink.
type LogEntry struct {
	Timestamp     string       `json:"timestamp"`                // ISO 8601 format timestamp
	Level         string       `json:"level"`                    // DEBUG | INFO | ERROR
	Service       string       `json:"service"`                  // service name (e.g., relay-service)
	Action        string       `json:"action"`                   // event name (e.g., channel_connected)
	Message       string       `json:"message"`                  // human-readable description
	Hostname      string       `json:"hostname"`                 // service hostname
	RequestID     string       `json:"request_id,omitempty"`     // correlation ID for HTTP/ws requests
	CorrelationID string       `json:"correlation_id,omitempty"` // outbound operation identifier (when applicable)
	Details       any          `json:"details,omitempty"`        // optional: extra fields (map or struct)
	Error         *ErrorObject `json:"error,omitempty"`          // optional: error details
}

// ----- Logger -----

type Logger struct {
	service  string
	hostname string
	out      io.Writer
	minLevel int
	mu       sync.Mutex
}

const (
	levelDebug = iota
	levelInfo
	levelError
)

// New creates a structured logger for the given service that writes to stdout.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a structured logger that writes JSON lines to w.
func NewWithWriter(service string, w io.Writer) *Logger {
	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}

	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}
	if w == nil {
		w = io.Discard
	}

	return &Logger{service: service, hostname: hn, out: w}
}

// Discard returns a logger that drops every entry. Handy in tests.
func Discard() *Logger {
	return NewWithWriter("discard", io.Discard)
}

// SetQuiet suppresses DEBUG lines when quiet is true.
func (l *Logger) SetQuiet(quiet bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if quiet {
		l.minLevel = levelInfo
	} else {
		l.minLevel = levelDebug
	}
}

// emit marshals and writes a single JSON line.
func (l *Logger) emit(level int, e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}

	b, err := json.Marshal(e)
	if err == nil {
		l.writeLine(b)
		return
	}

	// retry once without Details (common source of marshal errors)
	e.Details = nil
	if b, err := json.Marshal(e); err == nil {
		l.writeLine(b)
		return
	}

	// final structured fallback to keep logs JSON-shaped
	fallback := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     "ERROR",
		"service":   l.service,
		"action":    "logger_marshal_failed",
		"message":   "failed to encode log entry",
		"hostname":  l.hostname,
		"error": ErrorObject{
			Msg:   strings.TrimSpace(err.Error()),
			Stack: string(debug.Stack()),
		},
	}

	if fb, err := json.Marshal(fallback); err == nil {
		l.writeLine(fb)
	} else {
		// absolute last resort (very unlikely)
		fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
	}
}

func (l *Logger) writeLine(b []byte) {
	b = append(b, '\n')
	_, _ = l.out.Write(b)
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.emit(levelDebug, l.entry(ctx, "DEBUG", action, msg, details))
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.emit(levelInfo, l.entry(ctx, "INFO", action, msg, details))
}

// Error writes an ERROR line and attaches an error stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}

	e := l.entry(ctx, "ERROR", action, msg, details)
	e.Error = &ErrorObject{
		Msg:   strings.TrimSpace(err.Error()),
		Stack: string(debug.Stack()),
	}
	l.emit(levelError, e)
}

func (l *Logger) entry(ctx context.Context, level, action, msg string, details any) LogEntry {
	return LogEntry{
		Timestamp:     nowISO(),
		Level:         level,
		Service:       l.service,
		Action:        safeAction(action),
		Message:       strings.TrimSpace(msg),
		Hostname:      l.hostname,
		RequestID:     requestID(ctx),
		CorrelationID: correlationID(ctx),
		Details:       details,
	}
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyRequestID     ctxKey = "transit_request_id"
	ctxKeyCorrelationID ctxKey = "transit_correlation_id"
)

// WithRequestID returns a new context carrying request_id.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	if strings.TrimSpace(reqID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, reqID)
}

// WithCorrelationID returns a new context carrying correlation_id.
func (l *Logger) WithCorrelationID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

func requestID(ctx context.Context) string {
	return ctxString(ctx, ctxKeyRequestID)
}

func correlationID(ctx context.Context) string {
	return ctxString(ctx, ctxKeyCorrelationID)
}

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// ----- Small utilities -----

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func safeAction(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unspecified"
	}
	return a
}
