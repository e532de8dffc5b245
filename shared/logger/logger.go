package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Forwarder receives already formatted warn/error lines, typically a Telegram system-log chat.
type Forwarder func(message string)

type Logger struct {
	ZapLogger   *zap.SugaredLogger
	atomicLevel zap.AtomicLevel

	mu               sync.RWMutex
	forwarder        Forwarder
	enableForwarding bool
}

type Config struct {
	Level       string
	Environment string
	// EnableForwarding sends Warn and above to the forwarder once one is attached.
	EnableForwarding bool
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, true
	case "info":
		return zap.InfoLevel, true
	case "warn", "warning":
		return zap.WarnLevel, true
	case "error":
		return zap.ErrorLevel, true
	case "fatal":
		return zap.FatalLevel, true
	}
	return zap.InfoLevel, false
}

func NewLogger(cfg Config) (*Logger, error) {
	logLevel, ok := parseLevel(cfg.Level)
	if !ok {
		fmt.Printf("WARN: Invalid log level '%s' specified, defaulting to INFO\n", cfg.Level)
	}

	atomicLevel := zap.NewAtomicLevelAt(logLevel)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "severity"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Environment == "production" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel)

	// AddCallerSkip(1) so caller shows function calling logger methods, not logger methods themselves
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	l := &Logger{
		ZapLogger:        zapLogger.Sugar(),
		atomicLevel:      atomicLevel,
		enableForwarding: cfg.EnableForwarding,
	}
	l.ZapLogger.Infof("Logger initialized. Level: %s, Forwarding: %t", logLevel.String(), cfg.EnableForwarding)
	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		ZapLogger:   zap.NewNop().Sugar(),
		atomicLevel: zap.NewAtomicLevel(),
	}
}

// NewWithCore builds a logger on top of an existing core, mainly for observing logs in tests.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{
		ZapLogger:        zap.New(core).Sugar(),
		atomicLevel:      zap.NewAtomicLevel(),
		enableForwarding: true,
	}
}

// SetForwarder attaches the sink for Warn/Error/Fatal lines. Passing nil detaches it.
func (l *Logger) SetForwarder(f Forwarder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forwarder = f
}

func (l *Logger) Zap() *zap.SugaredLogger {
	return l.ZapLogger
}

// With returns a child logger carrying the given fields. The forwarder is shared.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		ZapLogger:        l.ZapLogger.With(keysAndValues...),
		atomicLevel:      l.atomicLevel,
		forwarder:        l.forwarder,
		enableForwarding: l.enableForwarding,
	}
}

// Formats key-values WITHOUT escaping them here
func formatKeyValues(keysAndValues ...interface{}) string {
	if len(keysAndValues) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(" |")

	for i := 0; i < len(keysAndValues); i++ {
		if field, ok := keysAndValues[i].(zap.Field); ok {
			enc := zapcore.NewMapObjectEncoder()
			field.AddTo(enc)
			for k, v := range enc.Fields {
				sb.WriteString(fmt.Sprintf(" %s=`%v`", k, v))
			}
			continue
		}
		if i+1 >= len(keysAndValues) {
			sb.WriteString(fmt.Sprintf(" %v=`INVALID_ARGS`", keysAndValues[i]))
			break
		}
		var valStr string
		if err, ok := keysAndValues[i+1].(error); ok {
			valStr = err.Error()
		} else {
			valStr = fmt.Sprintf("%v", keysAndValues[i+1])
		}
		sb.WriteString(fmt.Sprintf(" %v=`%s`", keysAndValues[i], valStr))
		i++
	}
	return sb.String()
}

func (l *Logger) forward(prefix, msg string, keysAndValues ...interface{}) {
	l.mu.RLock()
	f := l.forwarder
	l.mu.RUnlock()
	if f == nil || !l.enableForwarding {
		return
	}
	f(prefix + msg + formatKeyValues(keysAndValues...))
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Warnw(msg, keysAndValues...)
	l.forward("🟡 WARN: ", msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Errorw(msg, keysAndValues...)
	l.forward("🔴 ERROR: ", msg, keysAndValues...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Errorw(msg, keysAndValues...)
	l.mu.RLock()
	hasForwarder := l.forwarder != nil && l.enableForwarding
	l.mu.RUnlock()
	if hasForwarder {
		l.forward("💀 FATAL: ", msg, keysAndValues...)
		// Give the forwarder a moment to send before exiting
		time.Sleep(1 * time.Second)
	}
	l.ZapLogger.Fatalw(msg, keysAndValues...)
}

func (l *Logger) SetLevel(level string) {
	logLevel, ok := parseLevel(level)
	if !ok {
		l.ZapLogger.Warnf("Invalid log level '%s' provided to SetLevel, level unchanged.", level)
		return
	}
	l.atomicLevel.SetLevel(logLevel)
	l.ZapLogger.Infof("Logger level changed to: %s", logLevel.String())
}
