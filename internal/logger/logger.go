package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// Tracker receives errors logged at Error level.
type Tracker interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	Flush() bool
}

// Logger wraps zap.SugaredLogger with optional error tracking
type Logger struct {
	*zap.SugaredLogger
	tracker Tracker
}

// Init initializes the global logger
func Init(level, env string) error {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zl, err := config.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	var tracker Tracker
	if globalLogger != nil {
		tracker = globalLogger.tracker
	}
	globalLogger = &Logger{SugaredLogger: zl.Sugar(), tracker: tracker}
	return nil
}

// SetTracker attaches an error tracker to the global logger.
func SetTracker(t Tracker) {
	l := Get()
	globalMu.Lock()
	l.tracker = t
	globalMu.Unlock()
}

// Get returns the global logger
func Get() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		zl, _ := zap.NewDevelopment()
		globalLogger = &Logger{SugaredLogger: zl.Sugar()}
	}
	return globalLogger
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// OrGlobal returns l, or the global logger when l is nil.
func OrGlobal(l *Logger) *Logger {
	if l == nil {
		return Get()
	}
	return l
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...any) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), tracker: l.tracker}
}

// Errorw logs and forwards an "err" field, if present, to the tracker.
func (l *Logger) Errorw(msg string, keysAndValues ...any) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
	if l.tracker == nil {
		return
	}

	tags := map[string]string{"message": msg}
	var captured error
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if e, ok := keysAndValues[i+1].(error); ok && key == "err" {
			captured = e
			continue
		}
		tags[key] = fmt.Sprint(keysAndValues[i+1])
	}
	if captured == nil {
		captured = fmt.Errorf("%s", msg)
	}
	l.tracker.CaptureError(context.Background(), captured, tags)
}

// Sync flushes buffered log entries and pending tracker events.
func Sync() {
	l := Get()
	_ = l.Sync()
	if l.tracker != nil {
		l.tracker.Flush()
	}
}
