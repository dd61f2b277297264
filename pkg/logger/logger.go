package logger

import (
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-global logger. Init must be called once during startup;
// the key/value helpers below are safe to call before Init (they drop).
var Log *zap.Logger

var sensitiveHeaders = map[string]struct{}{
	"authorization":    {},
	"x-api-key":        {},
	"x-user-signature": {},
}

// Init configures the global logger. level is one of debug/info/warn/error
// (empty falls back to CHATLOOM_LOG_LEVEL, then info). When CHATLOOM_LOG_SINK
// is "file:<path>" log output is appended to that file instead of stdout.
func Init(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CHATLOOM_LOG_LEVEL")))
	}
	var zl zapcore.Level
	switch lvl {
	case "debug":
		zl = zapcore.DebugLevel
	case "warn", "warning":
		zl = zapcore.WarnLevel
	case "error":
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.AddSync(os.Stdout)
	if s := os.Getenv("CHATLOOM_LOG_SINK"); strings.HasPrefix(s, "file:") {
		path := strings.TrimPrefix(s, "file:")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640); err == nil {
			sink = zapcore.AddSync(f)
		} else {
			Log = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), zl))
			Log.Warn("log_sink_open_failed", zap.String("path", path), zap.Error(err))
		}
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zl)
	Log = zap.New(core)
}

// Sync flushes buffered log entries; call on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// Debug logs with alternating key/value pairs.
func Debug(msg string, kv ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Debugw(msg, kv...)
}

// Info logs with alternating key/value pairs.
func Info(msg string, kv ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Infow(msg, kv...)
}

// Warn logs with alternating key/value pairs.
func Warn(msg string, kv ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Warnw(msg, kv...)
}

// Error logs with alternating key/value pairs.
func Error(msg string, kv ...any) {
	if Log == nil {
		return
	}
	Log.Sugar().Errorw(msg, kv...)
}

// SafeHeaders renders request headers for logging, redacting credentials.
func SafeHeaders(r *http.Request) string {
	parts := make([]string, 0, len(r.Header))
	for k, v := range r.Header {
		if len(v) == 0 {
			continue
		}
		val := v[0]
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			val = "<redacted>"
		}
		parts = append(parts, k+"="+val)
	}
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise summary of an incoming request.
func LogRequest(r *http.Request) {
	if Log == nil {
		return
	}
	Log.Info("incoming_request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.String("headers", SafeHeaders(r)),
	)
}
