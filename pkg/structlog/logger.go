// Package structlog provides JSON structured logging with correlation IDs
// and a sanitizer that keeps secrets and raw biometric payloads out of logs.
package structlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name ("debug", "info", ...) to a Level; unknown
// names default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type ctxKeyCorrID struct{}

// Fields represents structured log fields.
type Fields map[string]interface{}

// Logger writes one JSON object per line.
type Logger struct {
	service string
	level   Level
	output  io.Writer
	mu      sync.Mutex
	fields  Fields
}

// maskedFields are masked wherever their name appears in a field key. Raw
// timing payloads are treated like credentials: they never belong in logs.
var maskedFields = []string{
	"password", "secret", "token", "apikey", "authorization",
	"events", "keystroke", "timing",
}

// NewLogger creates a structured logger for a service. A nil output goes to
// stdout.
func NewLogger(service string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{service: service, level: level, output: output, fields: Fields{}}
}

// WithFields returns a logger carrying additional base fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	nl := &Logger{service: l.service, level: l.level, output: l.output, fields: make(Fields, len(l.fields)+len(fields))}
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	for k, v := range fields {
		nl.fields[k] = v
	}
	return nl
}

// WithContext attaches the correlation ID from ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if corrID := CorrelationID(ctx); corrID != "" {
		return l.WithFields(Fields{"correlation_id": corrID})
	}
	return l
}

func (l *Logger) Debug(message string, fields Fields) { l.log(LevelDebug, message, fields) }
func (l *Logger) Info(message string, fields Fields)  { l.log(LevelInfo, message, fields) }
func (l *Logger) Warn(message string, fields Fields)  { l.log(LevelWarn, message, fields) }
func (l *Logger) Error(message string, fields Fields) { l.log(LevelError, message, fields) }

// SecurityEvent logs a security-relevant event with a stable marker so SIEM
// pipelines can route it.
func (l *Logger) SecurityEvent(event string, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	fields["event_type"] = "security"
	fields["security_event"] = event
	l.log(LevelWarn, fmt.Sprintf("SECURITY: %s", event), fields)
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	all := make(Fields, len(l.fields)+len(fields)+5)
	for k, v := range l.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}

	all["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	all["level"] = level.String()
	all["service"] = l.service
	all["message"] = message

	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			all["caller"] = fmt.Sprintf("%s:%d", file, line)
		}
	}

	sanitize(all)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.output).Encode(all); err != nil {
		fmt.Fprintf(os.Stderr, "LOG_ERROR: failed to encode log: %v\n", err)
	}
}

func sanitize(fields Fields) {
	for k := range fields {
		lk := strings.ToLower(k)
		for _, pattern := range maskedFields {
			if strings.Contains(lk, pattern) {
				fields[k] = "MASKED"
				break
			}
		}
	}
}

// ContextWithCorrelationID returns a context carrying corrID.
func ContextWithCorrelationID(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrID{}, corrID)
}

// CorrelationID extracts the correlation ID from ctx, or "".
func CorrelationID(ctx context.Context) string {
	if corrID, ok := ctx.Value(ctxKeyCorrID{}).(string); ok {
		return corrID
	}
	return ""
}
