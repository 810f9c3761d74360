// Package logger is the process-wide structured logger. Call sites pass a
// message and alternating key/value pairs; values that look like email
// addresses are redacted before they reach the output.
package logger

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown input yields INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	redactPII atomic.Bool
	base      atomic.Pointer[zap.Logger]
)

func init() {
	redactPII.Store(true)
	base.Store(zap.New(newCore("json", os.Stderr)))
}

func newCore(format string, out zapcore.WriteSyncer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.Lock(out), level)
}

// Init configures the output format ("json" or "console") and level.
func Init(lvl Level, format string) {
	SetLevel(lvl)
	base.Store(zap.New(newCore(format, os.Stderr)))
}

// SetLevel sets the minimum log level.
func SetLevel(l Level) { level.SetLevel(l.zapLevel()) }

// SetRedactPII enables or disables PII redaction.
func SetRedactPII(r bool) { redactPII.Store(r) }

// Sync flushes buffered entries. Call it before the process exits.
func Sync() { _ = base.Load().Sync() }

// Zap exposes the underlying logger for libraries that want one.
func Zap() *zap.Logger { return base.Load() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { write(zapcore.DebugLevel, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { write(zapcore.InfoLevel, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { write(zapcore.WarnLevel, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { write(zapcore.ErrorLevel, msg, fields) }

func write(lvl zapcore.Level, msg string, kv []interface{}) {
	l := base.Load()
	ce := l.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(toFields(kv, redactPII.Load())...)
}

func toFields(kv []interface{}, redact bool) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		key := fmt.Sprintf("%v", kv[i])
		switch v := kv[i+1].(type) {
		case string:
			fields = append(fields, zap.String(key, maybeRedact(key, v, redact)))
		case error:
			fields = append(fields, zap.String(key, maybeRedact(key, v.Error(), redact)))
		case fmt.Stringer:
			fields = append(fields, zap.String(key, maybeRedact(key, v.String(), redact)))
		case []string:
			out := make([]string, len(v))
			for j, s := range v {
				out[j] = maybeRedact(key, s, redact)
			}
			fields = append(fields, zap.Strings(key, out))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	return fields
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func maybeRedact(key, val string, redact bool) string {
	if !redact {
		return val
	}
	return redactPIIValue(key, val)
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
